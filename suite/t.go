package suite

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// T is handed to every test function. It satisfies the TestingT interfaces of
// testify's assert, require and mock packages, so those can be used directly.
type T struct {
	ctx  context.Context
	name string
	log  log.Logger

	mu     sync.Mutex
	errs   []error
	failed bool
}

func newT(ctx context.Context, name string, logger log.Logger) *T {
	return &T{ctx: ctx, name: name, log: logger}
}

// Name returns the test name.
func (t *T) Name() string {
	return t.name
}

// Context returns the context of the suite run.
func (t *T) Context() context.Context {
	return t.ctx
}

// Helper is a no-op; it exists for testify's tHelper interface.
func (t *T) Helper() {}

// Log records a message at debug level.
func (t *T) Log(args ...any) {
	t.log.Debug(fmt.Sprint(args...), "test", t.name)
}

// Logf records a formatted message at debug level.
func (t *T) Logf(format string, args ...any) {
	t.log.Debug(fmt.Sprintf(format, args...), "test", t.name)
}

// Fail marks the test as failed and continues.
func (t *T) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
}

// Failed reports whether the test has been marked as failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Error records a failure and continues. A single error argument is kept as is.
func (t *T) Error(args ...any) {
	if len(args) == 1 {
		if err, ok := args[0].(error); ok {
			t.record(err)
			return
		}
	}
	t.record(errors.New(fmt.Sprint(args...)))
}

// Errorf records a formatted failure and continues. %w is honoured.
func (t *T) Errorf(format string, args ...any) {
	t.record(fmt.Errorf(format, args...))
}

// FailNow marks the test as failed and stops it.
func (t *T) FailNow() {
	t.Fail()
	runtime.Goexit()
}

// Fatal is Error followed by FailNow.
func (t *T) Fatal(args ...any) {
	t.Error(args...)
	t.FailNow()
}

// Fatalf is Errorf followed by FailNow.
func (t *T) Fatalf(format string, args ...any) {
	t.Errorf(format, args...)
	t.FailNow()
}

func (t *T) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
	t.errs = append(t.errs, err)
}

// err returns the failure of the test, or nil if it passed.
func (t *T) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case len(t.errs) == 1:
		return t.errs[0]
	case len(t.errs) > 1:
		return errors.Join(t.errs...)
	case t.failed:
		return errors.New("test marked as failed")
	}
	return nil
}

// PanicError wraps a value recovered from a panicking test.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ErrExitedEarly is recorded for a test whose goroutine was unwound by
// runtime.Goexit without the test being marked as failed.
var ErrExitedEarly = errors.New("test exited early via runtime.Goexit")

// run executes fn on its own goroutine so FailNow can unwind it, and waits
// for it to finish.
func (t *T) run(fn TestFunc) error {
	done := make(chan struct{})
	go func() {
		finished := false
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				t.record(&PanicError{Value: r})
				return
			}
			if !finished && !t.Failed() {
				t.record(ErrExitedEarly)
			}
		}()
		fn(t)
		finished = true
	}()
	<-done
	return t.err()
}
