package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/mec/metrics"
	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type eventKind int

const (
	eventStatus eventKind = iota
	eventExit
)

type contextEvent struct {
	index    int
	kind     eventKind
	status   status.Status
	err      error
	duration time.Duration
}

// execContext is the coordinator's handle on one running context. A context
// posts at most one status and then exits exactly once.
type execContext struct {
	index  int
	target Target
	log    log.Logger
	events chan<- contextEvent

	mu     sync.Mutex
	posted bool
	exited bool
}

// Post delivers the terminal status. Only the first post before exit counts.
func (c *execContext) Post(s status.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.posted || c.exited {
		c.log.Warn("Dropping status", "status", s, "posted", c.posted, "exited", c.exited)
		return
	}
	c.posted = true
	c.log.Debug("Context posted status", "status", s)
	c.events <- contextEvent{index: c.index, kind: eventStatus, status: s}
}

func (c *execContext) exit(err error, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited = true
	c.events <- contextEvent{index: c.index, kind: eventExit, err: err, duration: duration}
}

// contextFunc is the body of one execution context. It returns when the
// context has terminated.
type contextFunc func(ctx context.Context, ec *execContext) error

// barrier joins the contexts of one run.
type barrier struct {
	variant Variant
	log     log.Logger
	tracer  trace.Tracer
}

// run spawns one context per target and waits until every context exited.
// The run passes only if every context posted Pass.
func (b *barrier) run(ctx context.Context, targets []Target, body contextFunc) (*Result, error) {
	start := time.Now()
	result := &Result{
		RunID:    uuid.New().String(),
		Variant:  b.variant,
		Contexts: make([]ContextResult, len(targets)),
	}
	runLog := b.log.New("run", result.RunID)
	runLog.Info("Spawning execution contexts", "variant", b.variant, "contexts", len(targets))

	// Every context sends at most one status and one exit event.
	events := make(chan contextEvent, 2*len(targets))
	for i, target := range targets {
		result.Contexts[i] = ContextResult{Target: target, Status: status.Fail}
		ec := &execContext{
			index:  i,
			target: target,
			log:    runLog.New("target", string(target)),
			events: events,
		}
		go b.spawn(ctx, ec, body)
	}

	pending := len(targets)
	running := len(targets)
	anyFailed := false
	for running > 0 {
		select {
		case <-ctx.Done():
			runLog.Warn("Run interrupted", "pending", pending, "running", running)
			return nil, ctx.Err()
		case ev := <-events:
			cr := &result.Contexts[ev.index]
			switch ev.kind {
			case eventStatus:
				cr.Status = ev.status
				cr.Reported = true
				pending--
				if ev.status != status.Pass {
					anyFailed = true
				}
			case eventExit:
				running--
				cr.Err = ev.err
				cr.Duration = ev.duration
				if !cr.Reported {
					runLog.Error("Context exited without reporting a status", "target", cr.Target, "err", ev.err)
				} else if ev.err != nil {
					runLog.Debug("Context exited with error", "target", cr.Target, "err", ev.err)
				}
				metrics.RecordContext(string(b.variant), cr.Status, cr.Reported)
			}
		}
	}

	result.Status = status.FromFailed(anyFailed || pending != 0)
	result.Duration = time.Since(start)
	metrics.RecordRun(string(b.variant), result.RunID, result.Status, result.Duration)
	runLog.Info("Execution contexts finished", "status", result.Status, "silent", pending, "duration", result.Duration)
	return result, nil
}

func (b *barrier) spawn(ctx context.Context, ec *execContext, body contextFunc) {
	ctx, span := b.tracer.Start(ctx, fmt.Sprintf("context %s", ec.target))
	defer span.End()
	span.SetAttributes(attribute.String("variant", string(b.variant)))

	start := time.Now()
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = body(ctx, ec)
	})
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("context panicked: %w", r.AsError())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	ec.exit(err, time.Since(start))
}
