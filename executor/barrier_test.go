package executor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func newTestBarrier() *barrier {
	return &barrier{
		variant: VariantWorker,
		log:     testLogger(),
		tracer:  otel.Tracer("test"),
	}
}

func TestBarrierStatus(t *testing.T) {
	tests := []struct {
		name     string
		behavior map[Target]func(ec *execContext) error
		want     status.Status
		silent   int
	}{
		{
			name: "all pass",
			behavior: map[Target]func(ec *execContext) error{
				"a": func(ec *execContext) error { ec.Post(status.Pass); return nil },
				"b": func(ec *execContext) error { ec.Post(status.Pass); return nil },
			},
			want: status.Pass,
		},
		{
			name: "one fails",
			behavior: map[Target]func(ec *execContext) error{
				"a": func(ec *execContext) error { ec.Post(status.Pass); return nil },
				"b": func(ec *execContext) error { ec.Post(status.Fail); return nil },
			},
			want: status.Fail,
		},
		{
			name: "silent context fails the run",
			behavior: map[Target]func(ec *execContext) error{
				"a": func(ec *execContext) error { ec.Post(status.Pass); return nil },
				"b": func(ec *execContext) error { return errors.New("hook failed") },
			},
			want:   status.Fail,
			silent: 1,
		},
		{
			name: "panic is a silent exit",
			behavior: map[Target]func(ec *execContext) error{
				"a": func(ec *execContext) error { panic("boom") },
			},
			want:   status.Fail,
			silent: 1,
		},
		{
			name: "duplicate posts are dropped",
			behavior: map[Target]func(ec *execContext) error{
				"a": func(ec *execContext) error {
					ec.Post(status.Pass)
					ec.Post(status.Fail)
					return nil
				},
			},
			want: status.Pass,
		},
		{
			name: "exit error after pass keeps pass",
			behavior: map[Target]func(ec *execContext) error{
				"a": func(ec *execContext) error { ec.Post(status.Pass); return errors.New("exit 3") },
			},
			want: status.Pass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := make([]Target, 0, len(tt.behavior))
			for target := range tt.behavior {
				targets = append(targets, target)
			}

			result, err := newTestBarrier().run(context.Background(), targets, func(ctx context.Context, ec *execContext) error {
				return tt.behavior[ec.target](ec)
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.silent, result.Silent())
			assert.Len(t, result.Contexts, len(targets))
			assert.NotEmpty(t, result.RunID)
			assert.Equal(t, VariantWorker, result.Variant)
		})
	}
}

func TestBarrierPanicRecordedAsExitError(t *testing.T) {
	result, err := newTestBarrier().run(context.Background(), []Target{"a"}, func(ctx context.Context, ec *execContext) error {
		panic("boom")
	})
	require.NoError(t, err)
	require.Len(t, result.Contexts, 1)
	assert.False(t, result.Contexts[0].Reported)
	require.Error(t, result.Contexts[0].Err)
	assert.Contains(t, result.Contexts[0].Err.Error(), "boom")
}

func TestBarrierWaitsForEveryContext(t *testing.T) {
	release := make(chan struct{})
	var exited sync.WaitGroup
	exited.Add(2)

	done := make(chan *Result, 1)
	go func() {
		result, err := newTestBarrier().run(context.Background(), []Target{"fast", "slow"}, func(ctx context.Context, ec *execContext) error {
			defer exited.Done()
			if ec.target == "slow" {
				<-release
			}
			ec.Post(status.Pass)
			return nil
		})
		assert.NoError(t, err)
		done <- result
	}()

	select {
	case <-done:
		t.Fatal("run resolved before every context exited")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	result := <-done
	exited.Wait()
	assert.Equal(t, status.Pass, result.Status)
	for _, c := range result.Contexts {
		assert.True(t, c.Reported)
	}
}

func TestBarrierLatePostIgnored(t *testing.T) {
	var late *execContext
	result, err := newTestBarrier().run(context.Background(), []Target{"a"}, func(ctx context.Context, ec *execContext) error {
		late = ec
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, status.Fail, result.Status)

	// A status arriving after exit must neither block nor count.
	late.Post(status.Pass)
	assert.False(t, result.Contexts[0].Reported)
}

func TestBarrierInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	defer close(block)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := newTestBarrier().run(ctx, []Target{"a"}, func(ctx context.Context, ec *execContext) error {
		<-block
		return nil
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBarrierNoTargets(t *testing.T) {
	result, err := newTestBarrier().run(context.Background(), nil, func(ctx context.Context, ec *execContext) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, status.Pass, result.Status)
	assert.Empty(t, result.Contexts)
}

func TestResultCounts(t *testing.T) {
	r := &Result{Contexts: []ContextResult{
		{Status: status.Pass, Reported: true},
		{Status: status.Fail, Reported: true},
		{Status: status.Fail},
	}}
	assert.Equal(t, 2, r.Failed())
	assert.Equal(t, 1, r.Silent())
}
