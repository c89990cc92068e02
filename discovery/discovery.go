// Package discovery finds the target files of a run.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// DefaultDir is searched when no directory is given.
	DefaultDir = "tests"

	// DefaultPattern matches Go targets for the worker and process executors.
	DefaultPattern = "**/*.go"

	// DefaultBrowserPattern matches script targets for the browser executor.
	DefaultBrowserPattern = "**/*.js"
)

// DefaultIgnore lists patterns excluded from every search.
var DefaultIgnore = []string{"**/node_modules/**", "**/vendor/**"}

// Options controls a search.
type Options struct {
	Pattern string   // doublestar pattern relative to each directory
	Ignore  []string // doublestar patterns relative to each directory
	Log     log.Logger
}

// Find returns the files under dirs matching opts.Pattern and none of
// opts.Ignore. Paths keep the directory prefix they were found under, are
// sorted and appear once. Missing directories contribute nothing.
func Find(dirs []string, opts Options) ([]string, error) {
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.Log == nil {
		opts.Log = log.Root()
	}
	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("invalid pattern %q", opts.Pattern)
	}
	for _, ignore := range opts.Ignore {
		if !doublestar.ValidatePattern(ignore) {
			return nil, fmt.Errorf("invalid ignore pattern %q", ignore)
		}
	}
	if len(dirs) == 0 {
		dirs = []string{DefaultDir}
	}

	var found []string
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			opts.Log.Warn("Target directory does not exist", "dir", dir)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat target directory '%s': %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("target '%s' is not a directory", dir)
		}

		matches, err := doublestar.Glob(os.DirFS(dir), opts.Pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to search '%s': %w", dir, err)
		}

		for _, m := range matches {
			if ignored(m, opts.Ignore) {
				continue
			}
			found = append(found, filepath.Join(dir, filepath.FromSlash(m)))
		}
		opts.Log.Debug("Searched target directory", "dir", dir, "pattern", opts.Pattern, "matches", len(matches))
	}

	slices.Sort(found)
	return slices.Compact(found), nil
}

func ignored(path string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
