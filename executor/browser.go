package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ethereum-optimism/infra/mec/harness"
	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var _ Executor = (*browserExecutor)(nil)

// BrowserConfig configures the browser executor.
type BrowserConfig struct {
	Root       string // directory served to the page, defaults to the common parent of the targets
	AssetsDir  string // chai.js and sinon.js
	ChromePath string
	KeepAlive  bool // leave a visible browser and the server running after the run
	Log        log.Logger
	Output     io.Writer // page console output, defaults to stdout

	// AllocatorOptions are appended to chromedp's defaults.
	AllocatorOptions []chromedp.ExecAllocatorOption
}

// browserPage is one harness page opened in a browser.
type browserPage interface {
	// Done is closed when the browser goes away.
	Done() <-chan struct{}
	// Close shuts the browser down.
	Close() error
}

// pageLauncher opens url in a browser and hands every console line of the
// page to onConsole.
type pageLauncher func(ctx context.Context, url string, l log.Logger, onConsole func(line string)) (browserPage, error)

// browserExecutor loads every target into one page of one browser. The page
// is a single execution context: its console carries the status sentinel.
type browserExecutor struct {
	cfg     BrowserConfig
	log     log.Logger
	out     io.Writer
	barrier *barrier
	launch  pageLauncher

	mu       sync.Mutex
	teardown func(ctx context.Context) error
}

// NewBrowser creates the browser executor.
func NewBrowser(cfg BrowserConfig) (Executor, error) {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	l := cfg.Log.New("executor", VariantBrowser)
	b := &browserExecutor{
		cfg: cfg,
		log: l,
		out: cfg.Output,
		barrier: &barrier{
			variant: VariantBrowser,
			log:     l,
			tracer:  otel.Tracer("mec browser"),
		},
	}
	b.launch = b.launchChrome
	return b, nil
}

func (b *browserExecutor) Name() Variant {
	return VariantBrowser
}

func (b *browserExecutor) Execute(ctx context.Context, targets []Target) (*Result, error) {
	root := b.cfg.Root
	if root == "" {
		var err error
		root, err = CommonDir(targets)
		if err != nil {
			return nil, err
		}
	}

	paths := make([]string, len(targets))
	for i, t := range targets {
		paths[i] = string(t)
	}

	result, err := b.barrier.run(ctx, []Target{Target(root)}, func(ctx context.Context, ec *execContext) error {
		return b.runPage(ctx, ec, root, paths)
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	result.KeepAlive = b.teardown != nil
	b.mu.Unlock()
	return result, nil
}

// Close tears down a browser left running by KeepAlive.
func (b *browserExecutor) Close(ctx context.Context) error {
	b.mu.Lock()
	teardown := b.teardown
	b.teardown = nil
	b.mu.Unlock()

	if teardown == nil {
		return nil
	}
	b.log.Info("Closing browser")
	return teardown(ctx)
}

func (b *browserExecutor) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", !b.cfg.KeepAlive))
	if b.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ChromePath))
	}
	return append(opts, b.cfg.AllocatorOptions...)
}

// runPage serves the harness, opens it and waits for the status sentinel on
// the page console. The browser and server are torn down once the page has
// reported unless KeepAlive leaves them to Close.
func (b *browserExecutor) runPage(ctx context.Context, ec *execContext, root string, targets []string) error {
	srv, err := harness.NewServer(harness.Config{
		Root:      root,
		Targets:   targets,
		AssetsDir: b.cfg.AssetsDir,
		Log:       ec.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create harness server: %w", err)
	}
	url, err := srv.Listen(harness.DefaultAddr)
	if err != nil {
		return err
	}
	go func() {
		if err := srv.Serve(); err != nil {
			ec.log.Error("Harness server failed", "err", err)
		}
	}()
	shutdownServer := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}

	reported := make(chan struct{})
	var once sync.Once
	onConsole := func(line string) {
		if s, ok := status.Parse(line); ok {
			ec.Post(s)
			once.Do(func() { close(reported) })
			return
		}
		fmt.Fprintln(b.out, line)
	}

	ec.log.Info("Opening harness page", "url", url, "headless", !b.cfg.KeepAlive)
	page, err := b.launch(ctx, url, ec.log, onConsole)
	if err != nil {
		_ = shutdownServer(context.Background())
		return fmt.Errorf("failed to open harness page: %w", err)
	}

	teardown := func(ctx context.Context) error {
		var g errgroup.Group
		g.Go(page.Close)
		g.Go(func() error { return shutdownServer(ctx) })
		return g.Wait()
	}

	select {
	case <-reported:
	case <-page.Done():
		ec.log.Warn("Browser closed before reporting a status")
	case <-ctx.Done():
		_ = teardown(context.Background())
		return ctx.Err()
	}

	if b.cfg.KeepAlive {
		b.mu.Lock()
		b.teardown = teardown
		b.mu.Unlock()
		ec.log.Info("Keeping browser alive", "url", url)
		return nil
	}
	return teardown(context.Background())
}

// chromePage is a harness page driven through chromedp.
type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *chromePage) Done() <-chan struct{} {
	return p.ctx.Done()
}

func (p *chromePage) Close() error {
	defer p.cancel()
	if err := chromedp.Cancel(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

func (b *browserExecutor) launchChrome(ctx context.Context, url string, l log.Logger, onConsole func(string)) (browserPage, error) {
	// The browser may outlive this run when kept alive.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), b.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	page := &chromePage{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			onConsole(consoleText(ev.Args))
		case *runtime.EventExceptionThrown:
			l.Error("Uncaught exception in harness page", "err", exceptionText(ev.ExceptionDetails))
		}
	})

	if err := chromedp.Run(browserCtx, chromedp.Navigate(url)); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// consoleText joins console arguments the way the console displays them.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if arg.Type == runtime.TypeString {
			var s string
			if err := json.Unmarshal([]byte(arg.Value), &s); err == nil {
				parts = append(parts, s)
				continue
			}
		}
		switch {
		case len(arg.Value) > 0:
			parts = append(parts, string(arg.Value))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(details *runtime.ExceptionDetails) string {
	if details == nil {
		return ""
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}

// CommonDir returns the deepest directory containing every target.
func CommonDir(targets []Target) (string, error) {
	if len(targets) == 0 {
		return "", fmt.Errorf("no targets")
	}

	var common []string
	for i, t := range targets {
		abs, err := filepath.Abs(string(t))
		if err != nil {
			return "", fmt.Errorf("failed to resolve target '%s': %w", t, err)
		}
		parts := strings.Split(filepath.Dir(abs), string(filepath.Separator))
		if i == 0 {
			common = parts
			continue
		}
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}

	dir := strings.Join(common, string(filepath.Separator))
	if dir == "" {
		dir = string(filepath.Separator)
	}
	return dir, nil
}
