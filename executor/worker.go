package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/mec/events"
	"github.com/ethereum-optimism/infra/mec/registry"
	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum-optimism/infra/mec/suite"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
)

var _ Executor = (*workerExecutor)(nil)

// ErrNoRegisteredSuites is returned when none of the worker's targets
// registered any suites.
var ErrNoRegisteredSuites = errors.New("no suites registered for any target")

// WorkerConfig configures the in-process executor.
type WorkerConfig struct {
	Registry *registry.Registry
	Log      log.Logger
	Output   io.Writer // progress lines, defaults to stdout
}

// workerExecutor runs each target on its own goroutine with its own
// RunContext. Targets resolve to the suites registered for their file.
type workerExecutor struct {
	registry *registry.Registry
	log      log.Logger
	out      io.Writer
	barrier  *barrier
}

// NewWorker creates the in-process executor.
func NewWorker(cfg WorkerConfig) (Executor, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	l := cfg.Log.New("executor", VariantWorker)
	return &workerExecutor{
		registry: cfg.Registry,
		log:      l,
		out:      cfg.Output,
		barrier: &barrier{
			variant: VariantWorker,
			log:     l,
			tracer:  otel.Tracer("mec worker"),
		},
	}, nil
}

func (w *workerExecutor) Name() Variant {
	return VariantWorker
}

// Execute runs the targets that have suites registered. Discovered files that
// registered nothing, such as the file holding main or shared helpers, are not
// execution contexts and are skipped.
func (w *workerExecutor) Execute(ctx context.Context, targets []Target) (*Result, error) {
	registered := make([]Target, 0, len(targets))
	var skipped []string
	for _, target := range targets {
		if _, ok := w.lookup(target); ok {
			registered = append(registered, target)
			continue
		}
		w.log.Debug("Skipping file without registered suites", "target", target)
		skipped = append(skipped, string(target))
	}
	if len(registered) == 0 && len(targets) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRegisteredSuites, strings.Join(skipped, ", "))
	}
	return w.barrier.run(ctx, registered, w.runTarget)
}

// lookup resolves a target to its suites, falling back to the target's import
// path for binaries built with -trimpath.
func (w *workerExecutor) lookup(target Target) ([]*suite.Descriptor, bool) {
	if descs, ok := w.registry.Lookup(string(target)); ok && len(descs) > 0 {
		return descs, true
	}
	if !w.registry.HasImportPaths() {
		return nil, false
	}
	abs, err := filepath.Abs(string(target))
	if err != nil {
		return nil, false
	}
	root, modPath, err := ModuleRoot(filepath.Dir(abs))
	if err != nil {
		return nil, false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, false
	}
	descs, ok := w.registry.LookupImportPath(path.Join(modPath, filepath.ToSlash(rel)))
	return descs, ok && len(descs) > 0
}

func (w *workerExecutor) Close(ctx context.Context) error {
	return nil
}

func (w *workerExecutor) runTarget(ctx context.Context, ec *execContext) error {
	descs, ok := w.lookup(ec.target)
	if !ok {
		return fmt.Errorf("no suites registered for %s", ec.target)
	}

	rc := suite.NewRunContext(suite.WithLogger(ec.log), suite.WithOutput(w.out))
	unsubscribe := rc.Events().Completed.Subscribe(func(c events.Completed) {
		ec.Post(status.FromFailed(c.TotalFailed > 0))
	})
	defer unsubscribe()

	_, err := rc.RunAll(ctx, descs...)
	return err
}
