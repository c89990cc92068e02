package mec

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/mec/exitcodes"
)

var (
	_ cli.ExitCoder = (*RuntimeError)(nil)
	_ cli.ExitCoder = (*TestFailureError)(nil)
)

// RuntimeError is a failure of the harness itself rather than of the code
// under test: bad flags or config, an unreadable test directory, an invalid
// pattern, or an executor that cannot start its contexts. It exits with 2.
//
// A target that fails to start, including a browser that cannot be launched,
// is not a RuntimeError: its context exits without a status and the run fails
// with exit code 1.
type RuntimeError struct {
	Err error
}

// NewRuntimeError wraps err as a RuntimeError.
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitCode implements cli.ExitCoder.
func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

// TestFailureError is a run whose terminal status is Fail: a context posted
// Fail, a context stayed silent, or there was nothing to run. It exits with 1.
type TestFailureError struct {
	Message string
}

// NewTestFailureError creates a TestFailureError.
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// ExitCode implements cli.ExitCoder.
func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

// IsRuntimeError reports whether err is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var target *RuntimeError
	return errors.As(err, &target)
}

// IsTestFailureError reports whether err is or wraps a TestFailureError.
func IsTestFailureError(err error) bool {
	var target *TestFailureError
	return errors.As(err, &target)
}

// ExitCode maps an error returned by the app to the process exit code. Errors
// that carry no code of their own count as test failures.
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitcodes.TestFailure
}
