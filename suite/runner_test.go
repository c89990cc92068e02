package suite

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/ethereum-optimism/infra/mec/events"
	"github.com/ethereum-optimism/infra/mec/exitcodes"
	"github.com/ethereum-optimism/infra/mec/status"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) (*RunContext, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	rc := NewRunContext(WithLogger(log.NewLogger(log.DiscardHandler())), WithOutput(&out))
	return rc, &out
}

// recorder captures every event of a suite bus in emission order.
type recorder struct {
	passed []events.Passed
	failed []events.Failed
	done   []events.Done
	order  []string
}

func record(r *Runner) *recorder {
	rec := &recorder{}
	r.Events().Passed.Subscribe(func(e events.Passed) {
		rec.passed = append(rec.passed, e)
		rec.order = append(rec.order, "passed:"+e.Name)
	})
	r.Events().Failed.Subscribe(func(e events.Failed) {
		rec.failed = append(rec.failed, e)
		rec.order = append(rec.order, "failed:"+e.Name)
	})
	r.Events().Done.Subscribe(func(e events.Done) {
		rec.done = append(rec.done, e)
		rec.order = append(rec.order, "done")
	})
	return rec
}

func TestRunnerConcreteScenario(t *testing.T) {
	rc, _ := newTestContext(t)
	boom := errors.New("x")

	desc := New("scenario").
		Test("a", func(t *T) { assert.Equal(t, 1, 1) }).
		Test("b", func(t *T) { t.Fatal(boom) })

	r := NewRunner(rc, desc)
	rec := record(r)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Passed())
	assert.Equal(t, []string{"passed:a", "failed:b", "done"}, rec.order)
	require.Len(t, rec.failed, 1)
	assert.Same(t, boom, rec.failed[0].Err)
	assert.Equal(t, []events.Done{{Total: 2, Failed: 1}}, rec.done)

	require.Len(t, report.Outcomes, 2)
	assert.True(t, report.Outcomes[0].Passed)
	assert.ErrorIs(t, report.Outcomes[1].Err, boom)
}

func TestRunnerEventCountMatchesTests(t *testing.T) {
	rc, _ := newTestContext(t)

	desc := New("counts").
		Test("one", func(t *T) {}).
		Test("describe", func(t *T) { t.Fatal("reserved names must not run") }).
		Test("two", func(t *T) { t.Error("soft failure") }).
		Test("afterEach", func(t *T) { t.Fatal("reserved names must not run") }).
		Test("three", func(t *T) { panic("boom") })

	r := NewRunner(rc, desc)
	rec := record(r)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, report.Total, len(rec.passed)+len(rec.failed))
	assert.Len(t, rec.passed, 1)
	assert.Len(t, rec.failed, 2)
}

func TestRunnerDeclarationOrder(t *testing.T) {
	rc, _ := newTestContext(t)
	var seq []string

	desc := New("order")
	for _, name := range []string{"z", "a", "m", "b"} {
		desc.Test(name, func(t *T) { seq = append(seq, t.Name()) })
	}

	_, err := NewRunner(rc, desc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m", "b"}, seq)
}

func TestRunnerAfterEachRunsForEveryTest(t *testing.T) {
	rc, _ := newTestContext(t)
	var seq []string

	desc := New("hooks").
		WithBefore(func(context.Context) error { seq = append(seq, "before"); return nil }).
		WithBeforeEach(func(context.Context) error { seq = append(seq, "beforeEach"); return nil }).
		WithAfterEach(func(context.Context) error { seq = append(seq, "afterEach"); return nil }).
		WithAfter(func(context.Context) error { seq = append(seq, "after"); return nil }).
		Test("pass", func(t *T) { seq = append(seq, "pass") }).
		Test("fatal", func(t *T) { seq = append(seq, "fatal"); t.FailNow(); seq = append(seq, "unreachable") }).
		Test("panic", func(t *T) { seq = append(seq, "panic"); panic(errors.New("kaput")) }).
		Test("goexit", func(t *T) { seq = append(seq, "goexit"); runtime.Goexit() })

	runner := NewRunner(rc, desc)
	rec := record(runner)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, []string{
		"before",
		"beforeEach", "pass", "afterEach",
		"beforeEach", "fatal", "afterEach",
		"beforeEach", "panic", "afterEach",
		"beforeEach", "goexit", "afterEach",
		"after",
	}, seq)

	require.Len(t, rec.failed, 3)
	assert.Equal(t, "goexit", rec.failed[2].Name)
	assert.ErrorIs(t, rec.failed[2].Err, ErrExitedEarly)
	assert.NotErrorIs(t, rec.failed[0].Err, ErrExitedEarly)
}

func TestRunnerHookErrors(t *testing.T) {
	hookErr := errors.New("hook broke")
	failing := func(context.Context) error { return hookErr }

	tests := []struct {
		name     string
		desc     func(ran *[]string) *Descriptor
		wantHook string
		wantRan  []string
	}{
		{
			name: "before aborts before any test",
			desc: func(ran *[]string) *Descriptor {
				return New("s").WithBefore(failing).
					Test("a", func(t *T) { *ran = append(*ran, "a") })
			},
			wantHook: "before",
		},
		{
			name: "beforeEach aborts the remaining suite",
			desc: func(ran *[]string) *Descriptor {
				return New("s").WithBeforeEach(failing).
					Test("a", func(t *T) { *ran = append(*ran, "a") })
			},
			wantHook: "beforeEach",
		},
		{
			name: "afterEach error propagates after the first test",
			desc: func(ran *[]string) *Descriptor {
				return New("s").WithAfterEach(failing).
					Test("a", func(t *T) { *ran = append(*ran, "a") }).
					Test("b", func(t *T) { *ran = append(*ran, "b") })
			},
			wantHook: "afterEach",
			wantRan:  []string{"a"},
		},
		{
			name: "after error propagates once all tests ran",
			desc: func(ran *[]string) *Descriptor {
				return New("s").WithAfter(failing).
					Test("a", func(t *T) { *ran = append(*ran, "a") }).
					Test("b", func(t *T) { *ran = append(*ran, "b") })
			},
			wantHook: "after",
			wantRan:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, _ := newTestContext(t)
			var ran []string
			completed := 0
			rc.Events().Completed.Subscribe(func(events.Completed) { completed++ })

			r := NewRunner(rc, tt.desc(&ran))
			rec := record(r)

			report, err := r.Run(context.Background())
			require.Error(t, err)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, hookErr)

			var hookError *HookError
			require.ErrorAs(t, err, &hookError)
			assert.Equal(t, tt.wantHook, hookError.Hook)

			assert.Equal(t, tt.wantRan, ran)
			assert.Empty(t, rec.done, "an aborted suite never emits done")
			assert.Equal(t, 1, rc.Active(), "an aborted suite stays active")
			assert.Equal(t, 0, completed)
		})
	}
}

func TestRunnerRunTwice(t *testing.T) {
	rc, _ := newTestContext(t)
	r := NewRunner(rc, New("once").Test("a", func(t *T) {}))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRunContextCompletesOnceInReverseOrder(t *testing.T) {
	rc, _ := newTestContext(t)
	var completions []events.Completed
	rc.Events().Completed.Subscribe(func(c events.Completed) { completions = append(completions, c) })

	first := NewRunner(rc, New("first").Test("a", func(t *T) {}))
	second := NewRunner(rc, New("second").Test("b", func(t *T) {}).Test("c", func(t *T) {}))
	require.Equal(t, 2, rc.Active())

	_, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, completions, "completion must wait for every registered suite")
	assert.False(t, rc.Completed())

	_, err = first.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, completions, 1)
	assert.Equal(t, events.Completed{Suites: 2, TotalTests: 3, TotalPassed: 3}, completions[0])
	assert.True(t, rc.Completed())
	assert.Equal(t, 0, rc.Active())
}

func TestRunContextAggregatesAcrossSuites(t *testing.T) {
	rc, out := newTestContext(t)
	var completed events.Completed
	rc.Events().Completed.Subscribe(func(c events.Completed) { completed = c })

	passing := New("passing").
		Test("p1", func(t *T) {}).
		Test("p2", func(t *T) {})
	failing := New("failing").
		Test("f1", func(t *T) {}).
		Test("f2", func(t *T) { t.Errorf("expected %d, got %d", 1, 2) })

	reports, err := rc.RunAll(context.Background(), passing, failing)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, 1, completed.TotalFailed)
	assert.Equal(t, 3, completed.TotalPassed)
	assert.Equal(t, exitcodes.TestFailure, status.FromFailed(completed.TotalFailed > 0).ExitCode())
	assert.Contains(t, out.String(), "1 test(s) failed")
}

func TestRunContextRunAllStopsAtHookError(t *testing.T) {
	rc, _ := newTestContext(t)
	ranSecond := false

	broken := New("broken").WithBefore(func(context.Context) error { return errors.New("setup") })
	second := New("second").Test("a", func(t *T) { ranSecond = true })

	reports, err := rc.RunAll(context.Background(), broken, second)
	require.Error(t, err)
	assert.Empty(t, reports)
	assert.False(t, ranSecond)
	assert.False(t, rc.Completed())
}

func TestConsoleOutput(t *testing.T) {
	rc, out := newTestContext(t)

	desc := New("").
		Test("good", func(t *T) {}).
		Test("bad", func(t *T) { t.Error(errors.New("nope")) })

	_, err := NewRunner(rc, desc).Run(context.Background())
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "SUITE: Unnamed suite")
	assert.Regexp(t, `PASS: good \d+\.\d{2} ms`, got)
	assert.Contains(t, got, "FAIL: bad\n    nope")
	assert.Contains(t, got, "1 out of 2 tests failed")
}

type greeter struct {
	mock.Mock
}

func (g *greeter) Greet(name string) string {
	return g.Called(name).String(0)
}

func TestTSatisfiesTestifyInterfaces(t *testing.T) {
	rc, _ := newTestContext(t)

	desc := New("testify").
		Test("require stops the test", func(t *T) {
			require.Equal(t, 1, 2)
			t.Fatal("unreachable")
		}).
		Test("mock expectations", func(t *T) {
			g := &greeter{}
			g.On("Greet", "reader").Return("Hello reader!")
			assert.Equal(t, "Hello reader!", g.Greet("reader"))
			g.AssertExpectations(t)
		})

	r := NewRunner(rc, desc)
	rec := record(r)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"failed:require stops the test", "passed:mock expectations", "done"}, rec.order)
	assert.NotContains(t, rec.failed[0].Err.Error(), "unreachable")
}
