package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jchantrell/mpqdb/internal/mpq"
)

// FileLoader defines the interface for loading decoded entry contents
type FileLoader interface {
	ReadFile(name string) ([]byte, error)
}

// Extractor handles exporting archive entries to disk
type Extractor struct {
	loader    FileLoader
	outputDir string
	workers   int
}

// New creates a new entry extractor
func New(loader FileLoader, outputDir string, workers int) *Extractor {
	if workers < 1 {
		workers = 1
	}
	return &Extractor{
		loader:    loader,
		outputDir: outputDir,
		workers:   workers,
	}
}

// ProgressCallback is called to report extraction progress
type ProgressCallback func(current int, total int, description string)

// ExtractFiles extracts the named entries into the output directory,
// decoding several entries in parallel
func (e *Extractor) ExtractFiles(ctx context.Context, names []string, progressCallback ProgressCallback) error {
	if len(names) == 0 {
		return nil
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	total := len(names)
	var processed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, name := range names {
		name := name
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := e.extractOne(name); err != nil {
				return err
			}

			current := int(processed.Add(1))
			if progressCallback != nil {
				progressCallback(current, total, name)
			}
			return nil
		})
	}

	return g.Wait()
}

func (e *Extractor) extractOne(name string) error {
	data, err := e.loader.ReadFile(name)
	if err != nil {
		return fmt.Errorf("loading entry %s: %w", name, err)
	}

	outputPath, err := e.destPath(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", name, err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}

	slog.Debug("Extracted entry", "name", name, "output", outputPath, "size", len(data))
	return nil
}

// destPath maps an archive path to a path under the output directory.
// Archive paths use backslashes regardless of platform.
func (e *Extractor) destPath(name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))

	dest := filepath.Join(e.outputDir, rel)
	if !strings.HasPrefix(dest, filepath.Clean(e.outputDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("entry path %q escapes output directory", name)
	}

	return dest, nil
}

// ListedNames returns the extractable names of an archive's resolved
// entries, skipping internal bookkeeping entries and deleted blocks.
func ListedNames(a *mpq.Archive) []string {
	names := make([]string, 0, a.FileCount())

	for _, f := range a.Files() {
		name := f.Name()
		if name == "" || strings.HasPrefix(name, "(") {
			continue
		}
		if f.Flags()&mpq.FlagExists == 0 || f.Flags()&mpq.FlagDeleteMarker != 0 {
			continue
		}
		names = append(names, name)
	}

	return names
}
