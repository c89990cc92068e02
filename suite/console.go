package suite

import (
	"fmt"

	"github.com/ethereum-optimism/infra/mec/events"
)

// subscribeConsole attaches the human-readable progress lines to the runner bus.
func (r *Runner) subscribeConsole() {
	r.bus.Passed.Subscribe(func(e events.Passed) {
		r.printf("PASS: %s %.2f ms\n", e.Name, float64(e.Duration.Microseconds())/1000)
	})
	r.bus.Failed.Subscribe(func(e events.Failed) {
		r.printf("FAIL: %s\n    %v\n", e.Name, e.Err)
	})
	r.bus.Done.Subscribe(func(e events.Done) {
		if e.Failed > 0 {
			r.printf("%d out of %d tests failed\n", e.Failed, e.Total)
		}
	})
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.rc.out, format, args...)
}
