// Package status defines the terminal status protocol shared by every execution
// context and its coordinator.
package status

import (
	"strings"

	"github.com/ethereum-optimism/infra/mec/exitcodes"
)

// Status is the single terminal signal an execution context reports before it terminates.
// The string value is also the wire sentinel, so it must never change.
type Status string

const (
	Pass Status = "MEC PASS"
	Fail Status = "MEC FAIL"
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the two terminal statuses.
func (s Status) Valid() bool {
	return s == Pass || s == Fail
}

// ExitCode derives the process exit code. Anything other than Pass is a failure.
func (s Status) ExitCode() int {
	if s == Pass {
		return exitcodes.Success
	}
	return exitcodes.TestFailure
}

// FromFailed maps a failure flag to a status.
func FromFailed(failed bool) Status {
	if failed {
		return Fail
	}
	return Pass
}

// Merge combines two statuses; Fail wins.
func Merge(a, b Status) Status {
	if a == Fail || b == Fail {
		return Fail
	}
	return Pass
}

// Parse recognizes a sentinel on a line read from a context's outbound channel.
// Only line terminators are trimmed; any other content is not a status.
func Parse(line string) (Status, bool) {
	s := Status(strings.TrimRight(line, "\r\n"))
	if s.Valid() {
		return s, true
	}
	return "", false
}

const (
	// ChannelEnv names the environment variable through which a coordinator
	// tells a child program where to post its status.
	ChannelEnv = "MEC_STATUS_CHANNEL"

	// ChannelStdout posts the status as a sentinel line on stdout.
	ChannelStdout = "stdout"
)
