package suite

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ethereum-optimism/infra/mec/events"
	"github.com/ethereum/go-ethereum/log"
)

// RunContext is the aggregate shared by every suite runner of one execution
// context. It counts active suites and failures across suites and emits
// Completed exactly once, when the last registered suite finishes.
type RunContext struct {
	log log.Logger
	out io.Writer
	bus events.RunBus

	mu          sync.Mutex
	active      int
	suites      int
	totalTests  int
	totalFailed int
	completed   bool
}

// Option configures a RunContext.
type Option func(*RunContext)

// WithLogger sets the logger used by the context and its runners.
func WithLogger(l log.Logger) Option {
	return func(rc *RunContext) {
		rc.log = l
	}
}

// WithOutput sets where human-readable progress lines are written.
func WithOutput(w io.Writer) Option {
	return func(rc *RunContext) {
		rc.out = w
	}
}

// NewRunContext creates an empty run context. Progress goes to stdout unless
// WithOutput is given; a nil writer silences it.
func NewRunContext(opts ...Option) *RunContext {
	rc := &RunContext{
		log: log.Root(),
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.out == nil {
		rc.out = io.Discard
	}
	rc.bus.Completed.Subscribe(rc.printCompleted)
	return rc
}

// Events returns the run-wide bus.
func (rc *RunContext) Events() *events.RunBus {
	return &rc.bus
}

// Logger returns the context logger.
func (rc *RunContext) Logger() log.Logger {
	return rc.log
}

// Active returns the number of registered suites that have not finished.
func (rc *RunContext) Active() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.active
}

// Completed reports whether the completion event has fired.
func (rc *RunContext) Completed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.completed
}

// Summary returns the cumulative counts seen so far.
func (rc *RunContext) Summary() events.Completed {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.summaryLocked()
}

func (rc *RunContext) summaryLocked() events.Completed {
	return events.Completed{
		Suites:      rc.suites,
		TotalTests:  rc.totalTests,
		TotalPassed: rc.totalTests - rc.totalFailed,
		TotalFailed: rc.totalFailed,
	}
}

// RunAll registers every descriptor before running any of them, then runs
// them one after another in order. It stops at the first hook error.
func (rc *RunContext) RunAll(ctx context.Context, descs ...*Descriptor) ([]*Report, error) {
	runners := make([]*Runner, 0, len(descs))
	for _, d := range descs {
		runners = append(runners, NewRunner(rc, d))
	}

	reports := make([]*Report, 0, len(runners))
	for _, r := range runners {
		report, err := r.Run(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (rc *RunContext) enter() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.active++
	rc.suites++
}

func (rc *RunContext) recordTest(failed bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.totalTests++
	if failed {
		rc.totalFailed++
	}
}

// leave marks one suite as finished and fires Completed when it was the last.
func (rc *RunContext) leave() {
	rc.mu.Lock()
	rc.active--
	fire := rc.active == 0 && !rc.completed
	if fire {
		rc.completed = true
	}
	summary := rc.summaryLocked()
	rc.mu.Unlock()

	if fire {
		rc.log.Debug("All suites done", "suites", summary.Suites, "tests", summary.TotalTests, "failed", summary.TotalFailed)
		rc.bus.Completed.Emit(summary)
	}
}

func (rc *RunContext) printCompleted(c events.Completed) {
	if c.TotalFailed > 0 {
		fmt.Fprintf(rc.out, "%d test(s) failed\n", c.TotalFailed)
	}
}
