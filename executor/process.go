package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
)

const (
	// DefaultGoBinary runs .go targets.
	DefaultGoBinary = "go"

	maxLineSize = 1024 * 1024
)

var _ Executor = (*processExecutor)(nil)

// CmdBuilder creates the command for a context. The returned func releases
// whatever the builder allocated.
type CmdBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// ProcessConfig configures the child process executor.
type ProcessConfig struct {
	GoBinary   string
	WorkDir    string   // overrides the module root lookup
	Env        []string // extra environment for every child
	Log        log.Logger
	Output     io.Writer // child output, defaults to stdout
	CmdBuilder CmdBuilder
}

// processExecutor runs each target in its own child process. A .go target is
// started with `go run`, anything else is executed directly. The child posts
// its status as a sentinel line on stdout.
type processExecutor struct {
	goBinary   string
	workDir    string
	env        []string
	log        log.Logger
	out        io.Writer
	cmdBuilder CmdBuilder
	barrier    *barrier
}

// NewProcess creates the child process executor.
func NewProcess(cfg ProcessConfig) (Executor, error) {
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = defaultCmdBuilder
	}
	l := cfg.Log.New("executor", VariantProcess)
	return &processExecutor{
		goBinary:   cfg.GoBinary,
		workDir:    cfg.WorkDir,
		env:        cfg.Env,
		log:        l,
		out:        cfg.Output,
		cmdBuilder: cfg.CmdBuilder,
		barrier: &barrier{
			variant: VariantProcess,
			log:     l,
			tracer:  otel.Tracer("mec process"),
		},
	}, nil
}

func defaultCmdBuilder(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	return exec.CommandContext(ctx, name, arg...), func() {}
}

func (p *processExecutor) Name() Variant {
	return VariantProcess
}

func (p *processExecutor) Execute(ctx context.Context, targets []Target) (*Result, error) {
	return p.barrier.run(ctx, targets, p.runTarget)
}

func (p *processExecutor) Close(ctx context.Context) error {
	return nil
}

// command returns the program and arguments that start a target.
func (p *processExecutor) command(target Target) (string, []string) {
	path := string(target)
	if strings.HasSuffix(path, ".go") {
		return p.goBinary, []string{"run", path}
	}
	return path, nil
}

func (p *processExecutor) dir(target Target) string {
	if p.workDir != "" {
		return p.workDir
	}
	targetDir := filepath.Dir(string(target))
	root, _, err := ModuleRoot(targetDir)
	if err != nil {
		p.log.Debug("No module root for target, using its directory", "target", target, "err", err)
		return targetDir
	}
	return root
}

func (p *processExecutor) runTarget(ctx context.Context, ec *execContext) error {
	target, err := filepath.Abs(string(ec.target))
	if err != nil {
		return fmt.Errorf("failed to resolve target: %w", err)
	}

	name, args := p.command(Target(target))
	cmd, cleanup := p.cmdBuilder(ctx, name, args...)
	defer cleanup()

	cmd.Dir = p.dir(Target(target))
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", status.ChannelEnv, status.ChannelStdout))
	cmd.Stderr = p.out

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}

	ec.log.Debug("Starting child", "cmd", name, "args", args, "dir", cmd.Dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	scanErr := p.scan(stdout, ec)
	waitErr := cmd.Wait()
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("child exited with code %d: %w", exitErr.ExitCode(), waitErr)
		}
		return fmt.Errorf("child failed: %w", waitErr)
	}
	return scanErr
}

// scan reads child stdout until EOF. Sentinel lines are posted as the
// status, every other line is echoed.
func (p *processExecutor) scan(r io.Reader, ec *execContext) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if s, ok := status.Parse(line); ok {
			ec.Post(s)
			continue
		}
		fmt.Fprintln(p.out, line)
		ec.log.Trace("Child output", "line", stripansi.Strip(line))
	}
	if err := scanner.Err(); err != nil {
		// Drain so the child is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("failed to read child output: %w", err)
	}
	return nil
}
