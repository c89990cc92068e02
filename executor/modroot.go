package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// ErrNoModule is returned when no go.mod encloses a directory.
var ErrNoModule = errors.New("no enclosing go.mod")

// ModuleRoot walks up from dir to the nearest go.mod and returns the
// directory holding it together with the module path.
func ModuleRoot(dir string) (string, string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	for {
		goModPath := filepath.Join(dir, "go.mod")
		content, err := os.ReadFile(goModPath)
		if err == nil {
			modFile, err := modfile.Parse(goModPath, content, nil)
			if err != nil {
				return "", "", fmt.Errorf("failed to parse go.mod: %w", err)
			}
			if modFile.Module == nil || modFile.Module.Mod.Path == "" {
				return "", "", fmt.Errorf("could not find module name in %s", goModPath)
			}
			return dir, modFile.Module.Mod.Path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("failed to read go.mod: %w", err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", ErrNoModule
		}
		dir = parent
	}
}
