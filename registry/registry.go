// Package registry maps execution targets to the suites compiled into the
// running binary, so the worker executor can run them in-process.
package registry

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ethereum-optimism/infra/mec/suite"
)

// Registry holds suite descriptors keyed by the absolute path of the file
// that declared them. Binaries built with -trimpath only know the import
// path of a file (module path plus the file's path inside the module); those
// registrations are kept apart and matched through LookupImportPath.
type Registry struct {
	mu      sync.RWMutex
	targets map[string][]*suite.Descriptor
	trimmed map[string][]*suite.Descriptor
}

// Default is the process-wide registry used by mec.Register.
var Default = New()

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		targets: make(map[string][]*suite.Descriptor),
		trimmed: make(map[string][]*suite.Descriptor),
	}
}

// Register adds suites for a target path. Repeated registrations for the same
// path accumulate in call order.
func (r *Registry) Register(path string, descs ...*suite.Descriptor) error {
	key, err := normalize(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[key] = append(r.targets[key], descs...)
	return nil
}

// RegisterImportPath adds suites for a file known only by its import path,
// e.g. "example.com/mod/tests/a.go".
func (r *Registry) RegisterImportPath(importPath string, descs ...*suite.Descriptor) error {
	if importPath == "" {
		return fmt.Errorf("import path cannot be empty")
	}
	key := path.Clean(filepath.ToSlash(importPath))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.trimmed[key] = append(r.trimmed[key], descs...)
	return nil
}

// LookupImportPath returns the suites registered under an import path.
func (r *Registry) LookupImportPath(importPath string) ([]*suite.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs, ok := r.trimmed[path.Clean(filepath.ToSlash(importPath))]
	if !ok {
		return nil, false
	}
	return slices.Clone(descs), true
}

// HasImportPaths reports whether any suites were registered by import path.
func (r *Registry) HasImportPaths() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trimmed) > 0
}

// Lookup returns the suites registered for a target path.
func (r *Registry) Lookup(path string) ([]*suite.Descriptor, bool) {
	key, err := normalize(path)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	descs, ok := r.targets[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(descs), true
}

// Paths returns every registered target path, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.targets)+len(r.trimmed))
	for p := range r.targets {
		paths = append(paths, p)
	}
	for p := range r.trimmed {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets) + len(r.trimmed)
}

func normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("target path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for target '%s': %w", path, err)
	}
	return filepath.Clean(abs), nil
}
