package mec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/mec/discovery"
	"github.com/ethereum-optimism/infra/mec/executor"
	"github.com/ethereum-optimism/infra/mec/exitcodes"
	"github.com/ethereum-optimism/infra/mec/flags"
	"github.com/ethereum-optimism/infra/mec/registry"
	"github.com/ethereum-optimism/infra/mec/service"
	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// mec implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &mec{}

// mec discovers the targets, runs them through one executor and reports the
// aggregated result.
type mec struct {
	config   *Config
	registry *registry.Registry
	executor executor.Executor
	service  *service.Service
	result   *executor.Result
	out      io.Writer

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New creates the lifecycle service. reg holds the suites compiled into the
// binary; it decides the isolation when the mode is auto.
func New(config *Config, reg *registry.Registry, shutdownCallback func(error)) (*mec, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if reg == nil {
		reg = registry.Default
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating mec with config",
		"testDirs", config.TestDirs,
		"browser", config.Browser,
		"keepAlive", config.KeepAlive,
		"isolation", config.Isolation,
		"pattern", config.Pattern)

	exec, err := newExecutor(config, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	config.Log.Info("mec.New: created executor", "variant", exec.Name())

	return &mec{
		config:           config,
		registry:         reg,
		executor:         exec,
		service:          service.New(config.Service, config.Log),
		out:              os.Stdout,
		shutdownCallback: shutdownCallback,
	}, nil
}

func newExecutor(config *Config, reg *registry.Registry) (executor.Executor, error) {
	if config.Browser {
		return executor.NewBrowser(executor.BrowserConfig{
			AssetsDir:  config.AssetsDir,
			ChromePath: config.ChromePath,
			KeepAlive:  config.KeepAlive,
			Log:        config.Log,
		})
	}

	mode := config.Isolation
	if mode == flags.IsolationAuto {
		mode = flags.IsolationProcess
		if reg.Len() > 0 {
			mode = flags.IsolationWorker
		}
	}

	switch mode {
	case flags.IsolationWorker:
		return executor.NewWorker(executor.WorkerConfig{
			Registry: reg,
			Log:      config.Log,
		})
	case flags.IsolationProcess:
		return executor.NewProcess(executor.ProcessConfig{
			GoBinary: config.GoBinary,
			Log:      config.Log,
		})
	default:
		return nil, fmt.Errorf("invalid isolation mode %q", mode)
	}
}

// Start runs the targets once.
// Start implements the cliapp.Lifecycle interface.
func (m *mec) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			m.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	m.running.Store(true)
	m.config.Log.Info("Starting mec", "variant", m.executor.Name())

	if err := m.service.Start(ctx); err != nil {
		return NewRuntimeError(err)
	}

	err := m.run(ctx)
	if err != nil {
		_ = m.shutdown(ctx)
		return err
	}

	if m.result.KeepAlive {
		m.config.Log.Info("Browser kept alive, interrupt to exit", "status", m.result.Status)
		return nil
	}

	m.config.Log.Info("Tests completed, exiting")
	// Only need to call this when all contexts passed; failures return an error
	go func() {
		m.shutdownCallback(nil)
	}()
	return nil
}

// run discovers and executes the targets and prints the results.
func (m *mec) run(ctx context.Context) error {
	paths, err := discovery.Find(m.config.TestDirs, discovery.Options{
		Pattern: m.config.Pattern,
		Ignore:  m.config.Ignore,
		Log:     m.config.Log,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to discover tests: %w", err))
	}
	if len(paths) == 0 {
		fmt.Fprintf(m.out, "No tests found in %v matching %q\n", m.config.TestDirs, m.config.Pattern)
		return NewTestFailureError("no tests found")
	}

	m.config.Log.Info("Running tests...", "targets", len(paths))
	result, err := m.executor.Execute(ctx, executor.TargetsFromPaths(paths))
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to execute tests: %w", err))
	}
	m.result = result

	m.printResultsTable()
	m.config.Log.Info("Test run completed", "run_id", result.RunID, "status", result.Status)

	if result.Status != status.Pass && !result.KeepAlive {
		m.config.Log.Warn("Test run completed with failures, returning exit code 1")
		return NewTestFailureError(m.failureMessage())
	}
	return nil
}

func (m *mec) failureMessage() string {
	return fmt.Sprintf("%d of %d execution contexts failed (%d silent)",
		m.result.Failed(), len(m.result.Contexts), m.result.Silent())
}

// Stop tears down a kept-alive browser and the service endpoints.
// Stop implements the cliapp.Lifecycle interface.
func (m *mec) Stop(ctx context.Context) error {
	m.config.Log.Info("Stopping mec")

	if !m.running.Load() {
		m.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	err := m.shutdown(ctx)
	if err != nil {
		return NewRuntimeError(err)
	}

	// A kept-alive run only reports its failure on exit.
	if m.result != nil && m.result.KeepAlive && m.result.Status != status.Pass {
		return NewTestFailureError(m.failureMessage())
	}

	m.config.Log.Info("mec stopped successfully")
	return nil
}

func (m *mec) shutdown(ctx context.Context) error {
	if !m.running.Swap(false) {
		return nil
	}
	return errors.Join(m.executor.Close(ctx), m.service.Shutdown(ctx))
}

// Stopped returns true if the mec service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (m *mec) Stopped() bool {
	return !m.running.Load()
}
