package suite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/mec/events"
	"github.com/ethereum-optimism/infra/mec/metrics"
	"github.com/ethereum/go-ethereum/log"
)

// ErrAlreadyRun is returned when Run is called a second time on the same runner.
var ErrAlreadyRun = errors.New("suite already run")

// Outcome is the result of one executed test.
type Outcome struct {
	Name     string
	Duration time.Duration
	Passed   bool
	Err      error
}

// Report is the per-suite result. It is complete once Run returns and is not
// modified afterwards.
type Report struct {
	Name     string
	Total    int
	Failed   int
	Outcomes []Outcome
	Duration time.Duration
}

// Passed reports whether every test of the suite passed.
func (r *Report) Passed() bool {
	return r.Failed == 0
}

// HookError is returned when a lifecycle hook fails. It aborts the suite.
type HookError struct {
	Hook  string
	Suite string
	Test  string // empty for before/after
	Err   error
}

func (e *HookError) Error() string {
	if e.Test != "" {
		return fmt.Sprintf("suite %q: %s hook failed for %q: %v", e.Suite, e.Hook, e.Test, e.Err)
	}
	return fmt.Sprintf("suite %q: %s hook failed: %v", e.Suite, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// Runner executes a single suite against its own event bus and reports into
// the shared RunContext.
type Runner struct {
	rc   *RunContext
	desc *Descriptor
	bus  events.SuiteBus
	log  log.Logger
	ran  bool
}

// NewRunner registers desc as an active suite of rc. Registration happens
// here, not in Run, so the run-wide completion waits for every suite that
// was created.
func NewRunner(rc *RunContext, desc *Descriptor) *Runner {
	r := &Runner{
		rc:   rc,
		desc: desc,
		log:  rc.log.New("suite", desc.Label()),
	}
	rc.enter()
	r.subscribeConsole()
	return r
}

// Events returns the bus owned by this runner.
func (r *Runner) Events() *events.SuiteBus {
	return &r.bus
}

// Run executes the suite. Test failures are recorded in the report; a hook
// error aborts the suite and is returned as a *HookError, in which case the
// suite stays active in the run context.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.ran {
		return nil, ErrAlreadyRun
	}
	r.ran = true

	start := time.Now()
	tests := r.desc.Runnable()
	report := &Report{
		Name:     r.desc.Label(),
		Total:    len(tests),
		Outcomes: make([]Outcome, 0, len(tests)),
	}

	r.printf("\nSUITE: %s\n", r.desc.Label())
	r.log.Debug("Running suite", "tests", len(tests))

	if err := r.hook(ctx, "before", "", r.desc.Before); err != nil {
		return nil, err
	}

	for _, test := range tests {
		if err := r.hook(ctx, "beforeEach", test.Name, r.desc.BeforeEach); err != nil {
			return nil, err
		}

		outcome := r.runTest(ctx, test)
		report.Outcomes = append(report.Outcomes, outcome)
		if !outcome.Passed {
			report.Failed++
		}

		if err := r.hook(ctx, "afterEach", test.Name, r.desc.AfterEach); err != nil {
			return nil, err
		}
	}

	if err := r.hook(ctx, "after", "", r.desc.After); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	r.bus.Done.Emit(events.Done{Total: report.Total, Failed: report.Failed})
	metrics.RecordSuite(report.Failed, report.Duration)
	r.log.Debug("Suite done", "total", report.Total, "failed", report.Failed, "duration", report.Duration)

	r.rc.leave()
	return report, nil
}

func (r *Runner) runTest(ctx context.Context, test Test) Outcome {
	t := newT(ctx, test.Name, r.log.New("test", test.Name))

	start := time.Now()
	err := t.run(test.Fn)
	duration := time.Since(start)

	r.rc.recordTest(err != nil)
	metrics.RecordTest(err == nil, duration)

	if err != nil {
		r.log.Debug("Test failed", "test", test.Name, "err", err)
		r.bus.Failed.Emit(events.Failed{Name: test.Name, Err: err})
		return Outcome{Name: test.Name, Duration: duration, Err: err}
	}

	r.log.Debug("Test passed", "test", test.Name, "duration", duration)
	r.bus.Passed.Emit(events.Passed{Name: test.Name, Duration: duration})
	return Outcome{Name: test.Name, Duration: duration, Passed: true}
}

func (r *Runner) hook(ctx context.Context, name, test string, h Hook) error {
	if h == nil {
		return nil
	}
	if err := h(ctx); err != nil {
		r.log.Error("Lifecycle hook failed, aborting suite", "hook", name, "test", test, "err", err)
		return &HookError{Hook: name, Suite: r.desc.Label(), Test: test, Err: err}
	}
	return nil
}
