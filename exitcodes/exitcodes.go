// Package exitcodes defines the standard exit codes used by mec.
package exitcodes

// Exit code constants used by mec
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every execution context reported a pass
// * TestFailure (1): Used when a context failed, stayed silent, or no targets were found
// * RuntimeErr (2): Used for runtime errors such as invalid configuration or setup failures
const (
	Success     = 0 // All contexts pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)
