// Package mec is a minimal test harness. Suites declared with Describe run
// either in-process (Register + Main), as child programs (Run) or in a
// sandboxed browser page, and every execution context reduces to a single
// pass/fail status and process exit code.
package mec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/mec/events"
	"github.com/ethereum-optimism/infra/mec/exitcodes"
	"github.com/ethereum-optimism/infra/mec/registry"
	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum-optimism/infra/mec/suite"
	"github.com/ethereum/go-ethereum/log"
)

type (
	// T is handed to every test function. It satisfies the testify TestingT
	// interfaces, so assert, require and mock work with it.
	T     = suite.T
	Suite = suite.Descriptor
	Hook  = suite.Hook

	// Mock is the mocking facade.
	Mock = mock.Mock
)

// Anything matches any argument in Mock expectations.
const Anything = mock.Anything

// AnythingOfType matches any argument of the named type in Mock expectations.
var AnythingOfType = mock.AnythingOfType

// Assert returns assertions reporting to t. A failed assertion marks the test
// as failed and lets it continue.
func Assert(t *T) *assert.Assertions {
	return assert.New(t)
}

// Require returns assertions reporting to t that stop the test on failure.
func Require(t *T) *require.Assertions {
	return require.New(t)
}

// Describe starts a suite declaration.
func Describe(label string) *Suite {
	return suite.New(label)
}

// Register adds suites for the calling file to the default registry, making
// the file a target for in-process runs. It is meant to be called from init
// and panics when the caller cannot be determined.
func Register(suites ...*Suite) {
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		panic("mec: cannot determine the file registering suites")
	}
	register := registry.Default.Register
	if !filepath.IsAbs(file) {
		// -trimpath builds report the import path of the file.
		register = registry.Default.RegisterImportPath
	}
	if err := register(file, suites...); err != nil {
		panic(fmt.Sprintf("mec: failed to register suites for %s: %v", file, err))
	}
}

// Run is the entry point of a child program: it runs the suites, posts the
// status when a coordinator listens for it and exits with the derived code.
func Run(suites ...*Suite) {
	os.Exit(RunSuites(context.Background(), os.Stdout, suites...))
}

// RunSuites runs the suites in one RunContext and returns the exit code. The
// status sentinel is written to out when the status channel is stdout. A hook
// error aborts the run without a status.
func RunSuites(ctx context.Context, out io.Writer, suites ...*Suite) int {
	l := log.Root()
	rc := suite.NewRunContext(suite.WithLogger(l), suite.WithOutput(out))

	var final status.Status
	rc.Events().Completed.Subscribe(func(c events.Completed) {
		final = status.FromFailed(c.TotalFailed > 0)
	})

	if _, err := rc.RunAll(ctx, suites...); err != nil {
		l.Error("Suite aborted", "err", err)
		return exitcodes.RuntimeErr
	}
	if !final.Valid() {
		l.Error("No suites completed")
		return exitcodes.TestFailure
	}

	if os.Getenv(status.ChannelEnv) == status.ChannelStdout {
		fmt.Fprintln(out, final)
	}
	return final.ExitCode()
}
