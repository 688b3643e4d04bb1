package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// Progress represents a progress bar using mpb
type Progress struct {
	container *mpb.Progress
	bar       *mpb.Bar
	enabled   bool

	// mu guards description: workers update it concurrently while mpb's
	// render goroutine reads it through the decorator.
	mu          sync.Mutex
	description string
}

var descLength = 28

// NewProgress creates a new progress bar with the given total count
func NewProgress(total int, enabled bool) *Progress {
	if !enabled || !isTerminal() {
		return &Progress{}
	}

	// Add space before progress bar
	fmt.Fprintln(os.Stderr)

	return newProgress(total, os.Stderr)
}

func newProgress(total int, out io.Writer) *Progress {
	p := &Progress{enabled: true}

	p.container = mpb.New(
		mpb.WithOutput(out),
		mpb.WithWidth(64),
		mpb.WithRefreshRate(100*time.Millisecond),
	)

	// Dynamic description decorator so the current entry name follows the bar
	p.bar = p.container.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(statistics decor.Statistics) string {
				desc := p.currentDescription()
				if len(desc) > descLength {
					return ".." + desc[len(desc)-descLength+2:]
				}
				return desc
			}, decor.WC{W: descLength, C: decor.DindentRight}),
			decor.Name("  "),
			decor.CountersNoUnit("%d/%d", decor.WC{C: decor.DindentRight}),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)

	return p
}

// Update updates the progress bar with current count and description
func (p *Progress) Update(current int, description string) {
	if !p.enabled || p.bar == nil {
		return
	}

	p.setDescription(description)
	p.bar.SetCurrent(int64(current))
}

// Increment advances the progress bar by one
func (p *Progress) Increment(description string) {
	if !p.enabled || p.bar == nil {
		return
	}

	p.setDescription(description)
	p.bar.Increment()
}

// Finish completes the progress bar and shuts down the container
func (p *Progress) Finish() {
	if !p.enabled || p.container == nil {
		return
	}

	p.container.Wait()

	// Add space after progress bar
	fmt.Fprintln(os.Stderr)
}

func (p *Progress) setDescription(description string) {
	p.mu.Lock()
	p.description = description
	p.mu.Unlock()
}

func (p *Progress) currentDescription() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.description
}

// isTerminal checks if stderr is a terminal (TTY)
func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
