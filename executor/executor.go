// Package executor spawns one isolated execution context per test target and
// reduces the terminal status reported by each into a single run result.
package executor

import (
	"context"
	"time"

	"github.com/ethereum-optimism/infra/mec/status"
)

// Variant names an execution environment.
type Variant string

const (
	VariantWorker  Variant = "worker"
	VariantProcess Variant = "process"
	VariantBrowser Variant = "browser"
)

// Target is the path of a discovered test file.
type Target string

// TargetsFromPaths converts discovered file paths to targets.
func TargetsFromPaths(paths []string) []Target {
	targets := make([]Target, len(paths))
	for i, p := range paths {
		targets[i] = Target(p)
	}
	return targets
}

// Executor runs targets inside isolated execution contexts.
type Executor interface {
	// Execute spawns the contexts for targets and returns once every one of
	// them has exited. Cancelling ctx aborts the wait.
	Execute(ctx context.Context, targets []Target) (*Result, error)

	// Close releases anything kept alive after Execute returned.
	Close(ctx context.Context) error

	// Name returns the variant name.
	Name() Variant
}

// ContextResult captures what one execution context reported.
type ContextResult struct {
	Target   Target
	Status   status.Status
	Reported bool  // false when the context exited without posting a status
	Err      error // exit error of the context, if any
	Duration time.Duration
}

// Result captures the complete run.
type Result struct {
	RunID     string
	Variant   Variant
	Status    status.Status
	KeepAlive bool // the environment is still up; call Executor.Close to tear it down
	Duration  time.Duration
	Contexts  []ContextResult
}

// Failed returns the number of contexts that reported Fail or stayed silent.
func (r *Result) Failed() int {
	n := 0
	for _, c := range r.Contexts {
		if !c.Reported || c.Status != status.Pass {
			n++
		}
	}
	return n
}

// Silent returns the number of contexts that exited without a status.
func (r *Result) Silent() int {
	n := 0
	for _, c := range r.Contexts {
		if !c.Reported {
			n++
		}
	}
	return n
}
