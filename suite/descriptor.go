package suite

import (
	"context"
	"slices"
)

// Hook is an optional lifecycle callback. A nil Hook means the suite has no such hook.
type Hook func(ctx context.Context) error

// TestFunc is the body of a single test.
type TestFunc func(t *T)

// Test is a named test function of a suite.
type Test struct {
	Name string
	Fn   TestFunc
}

// Reserved names belong to the suite descriptor itself and are never run as tests.
var ReservedNames = []string{"describe", "before", "beforeEach", "afterEach", "after"}

// IsReserved reports whether name is one of ReservedNames.
func IsReserved(name string) bool {
	return slices.Contains(ReservedNames, name)
}

// Descriptor describes a suite: an optional label, optional lifecycle hooks
// and tests in declaration order.
type Descriptor struct {
	Describe   string
	Before     Hook
	BeforeEach Hook
	AfterEach  Hook
	After      Hook
	Tests      []Test
}

// New starts a descriptor with the given label. An empty label is allowed.
func New(describe string) *Descriptor {
	return &Descriptor{Describe: describe}
}

// Label returns the suite label used in console output.
func (d *Descriptor) Label() string {
	if d.Describe == "" {
		return "Unnamed suite"
	}
	return d.Describe
}

// Test appends a test. Declaration order is execution order.
func (d *Descriptor) Test(name string, fn TestFunc) *Descriptor {
	d.Tests = append(d.Tests, Test{Name: name, Fn: fn})
	return d
}

// WithBefore sets the hook run once before the first test.
func (d *Descriptor) WithBefore(h Hook) *Descriptor {
	d.Before = h
	return d
}

// WithBeforeEach sets the hook run before every test.
func (d *Descriptor) WithBeforeEach(h Hook) *Descriptor {
	d.BeforeEach = h
	return d
}

// WithAfterEach sets the hook run after every test, whether it passed or not.
func (d *Descriptor) WithAfterEach(h Hook) *Descriptor {
	d.AfterEach = h
	return d
}

// WithAfter sets the hook run once after the last test.
func (d *Descriptor) WithAfter(h Hook) *Descriptor {
	d.After = h
	return d
}

// Runnable returns the executable tests: reserved names and nil functions are
// dropped, order is kept.
func (d *Descriptor) Runnable() []Test {
	tests := make([]Test, 0, len(d.Tests))
	for _, test := range d.Tests {
		if IsReserved(test.Name) || test.Fn == nil {
			continue
		}
		tests = append(tests, test)
	}
	return tests
}
