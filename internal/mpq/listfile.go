package mpq

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// listfileName is the archive's internal name list, one entry name per line.
const listfileName = "(listfile)"

// LoadListfile resolves entry names from the archive's listfile. Every name
// that maps to a descriptor is offered through the caching path and marked
// listed, since the listfile is the authoritative name source. Returns the
// number of descriptors that got a name, or 0 if the archive carries no
// listfile.
func (a *Archive) LoadListfile() (int, error) {
	data, err := a.ReadFile(listfileName)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			slog.Debug("Archive has no listfile")
			return 0, nil
		}
		return 0, err
	}

	resolved := a.resolveNames(parseListfile(data))
	slog.Debug("Listfile loaded", "names", resolved, "entries", len(a.files))
	return resolved, nil
}

// LoadExternalListfile resolves entry names from a listfile stored outside
// the archive. External listfiles fill in names for archives that ship
// without a listfile, or with an incomplete one.
func (a *Archive) LoadExternalListfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading listfile %s: %w", path, err)
	}

	resolved := a.resolveNames(parseListfile(data))
	slog.Debug("External listfile loaded", "path", path, "names", resolved)
	return resolved, nil
}

// resolveNames offers each name that the hash table resolves to its
// descriptor, through the caching path and marked listed.
func (a *Archive) resolveNames(names []string) int {
	resolved := 0
	for _, name := range names {
		e := a.findHash(name)
		if e == nil {
			continue
		}

		a.offerName(a.files[e.BlockIndex], name, true, true)
		resolved++
	}
	return resolved
}

// parseListfile splits listfile contents into names. Lines may be terminated
// by CR, LF or semicolons; blank lines are skipped.
func parseListfile(data []byte) []string {
	names := make([]string, 0, 128)

	for _, line := range strings.FieldsFunc(string(data), func(r rune) bool {
		return r == '\r' || r == '\n' || r == ';'
	}) {
		name := strings.TrimSpace(line)
		if name != "" {
			names = append(names, name)
		}
	}

	return names
}
