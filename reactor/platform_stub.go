//go:build !unix

// File: reactor/platform_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub glue for platforms without a poll backend.

package reactor

import (
	"os"
	"syscall"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
)

const defaultReuseRecords = false

var loopSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

func rlimitMaxFDs() (int, error) {
	return 0, errors.Wrap(api.ErrNotSupported, "rlimit")
}

func transientWaitError(err error) bool { return false }

func (r *Reactor) armWake() error { return nil }
func (r *Reactor) wake()          {}
func (r *Reactor) drainWake()     {}
func (r *Reactor) closeWake()     {}
