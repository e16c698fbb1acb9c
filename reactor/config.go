// File: reactor/config.go
// Author: momentics <momentics@gmail.com>
//
// Reactor construction parameters.

package reactor

import "github.com/momentics/hioload-reactor/api"

// DefaultMaxFDs mirrors the classic FD_SETSIZE bound. SetMaxFDs may raise
// it before the first backend setup.
const DefaultMaxFDs = 1024

// Config carries reactor construction parameters.
type Config struct {
	// MaxFDs caps the number of pollable descriptors. Zero defers to
	// DefaultMaxFDs at first backend setup; negative means "use the
	// process RLIMIT_NOFILE".
	MaxFDs int

	// Method selects the initial poll backend. MethodNone picks the best
	// backend available on this platform at first use.
	Method api.PollMethod

	// ReuseRecords keeps a handler record's storage after detach so the
	// next attach of the same numeric fd reuses it (POSIX returns the
	// lowest free descriptor). ThreadEnter turns it off, and ThreadLeave
	// does not turn it back on.
	ReuseRecords bool

	// Debug enables the handler blocking-budget instrumentation: any
	// callback running longer than the 500 ms budget logs a warning.
	Debug bool
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		Method:       api.MethodNone,
		ReuseRecords: defaultReuseRecords,
	}
}
