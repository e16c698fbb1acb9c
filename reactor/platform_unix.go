//go:build unix

// File: reactor/platform_unix.go
// Author: momentics <momentics@gmail.com>
//
// POSIX glue: fd limits, transient wait errors, the wakeup pipe and the
// captured signal set.

package reactor

import (
	"os"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// POSIX returns the lowest free descriptor, so detached records are kept
// for reuse by default.
const defaultReuseRecords = true

var loopSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGALRM}

func rlimitMaxFDs() (int, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, err
	}
	return int(lim.Cur), nil
}

// transientWaitError reports wait failures the loop swallows: interrupted
// syscalls everywhere plus a Darwin EBADF transient.
func transientWaitError(err error) bool {
	if errors.Is(err, unix.EINTR) {
		return true
	}
	if runtime.GOOS == "darwin" && errors.Is(err, unix.EBADF) {
		return true
	}
	return false
}

// armWake creates the nonblocking self-wakeup pipe. The read end is
// watched by every backend but never enters the registry; writing one
// byte forces a parked wait call to return.
func (r *Reactor) armWake() error {
	if r.wakeR >= 0 {
		return nil
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return errors.Wrap(err, "reactor: wake pipe")
	}
	for _, fd := range p {
		_ = unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}
	r.wakeR, r.wakeW = p[0], p[1]
	return nil
}

func (r *Reactor) wake() {
	if r.wakeW >= 0 {
		_, _ = unix.Write(r.wakeW, []byte{0})
	}
}

func (r *Reactor) drainWake() {
	if r.wakeR < 0 {
		return
	}
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (r *Reactor) closeWake() {
	if r.wakeR >= 0 {
		_ = unix.Close(r.wakeR)
		_ = unix.Close(r.wakeW)
		r.wakeR, r.wakeW = -1, -1
	}
}
