// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
//
// The polling loop: wait for I/O or the next timer, dispatch ready
// handlers, interleave timer expirations.

package reactor

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
)

// maxBlocking is the advisory wall-clock budget for one handler
// invocation; exceeding it logs a warning when Config.Debug is set.
const maxBlocking = 500 * time.Millisecond

type sigChannel chan os.Signal

// Run executes the polling loop until Cancel is called or an error
// occurs. An optional signal handler receives signals caught while the
// loop runs; delivery is serialized with I/O dispatch.
func Run(sigh api.SignalHandler) error {
	r := Current()
	if r == nil {
		return errors.Wrap(api.ErrBadArgument, "run: reactor not ready")
	}
	return r.Run(sigh)
}

// Run executes this reactor's polling loop. See Run.
func (r *Reactor) Run(sigh api.SignalHandler) error {
	if r.polling.Load() {
		return errors.Wrap(api.ErrAlreadyPolling, "main loop")
	}
	if err := r.pollSetup(); err != nil {
		return err
	}
	if sigh != nil {
		r.armSignals()
	}

	log().Debugf("reactor: polling with method %s", r.method)

	r.polling.Store(true)
	defer r.polling.Store(false)

	var err error
	r.lock()
	for {
		if r.retired != nil {
			r.retired.close()
			r.retired = nil
		}

		if sig := r.sig.Swap(0); sig != 0 && sigh != nil {
			sigh(syscall.Signal(sig))
		}

		if !r.polling.Load() {
			err = nil
			break
		}

		err = r.pass()
		if err != nil {
			if transientWaitError(err) {
				r.timers.fire(jiffies())
				continue
			}
			break
		}

		r.timers.fire(jiffies())
	}
	r.unlock()

	return err
}

// Cancel requests a graceful loop exit; it takes effect at the top of the
// next iteration. Safe to call from any goroutine.
func (r *Reactor) Cancel() {
	r.polling.Store(false)
	r.wake()
}

// pass runs one iteration: backend wait bounded by the next timer
// deadline, then dispatch of every decoded ready event. The reactor mutex
// is released only inside the backend wait call.
func (r *Reactor) pass() error {
	timeout := int64(-1)
	if to, ok := r.timers.nextTimeout(jiffies()); ok {
		timeout = int64(to)
	}

	n, err := r.poller.wait(timeout)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		ev := r.ready[i]
		if ev.flags == 0 {
			continue
		}

		// Lookup by fd so a detach earlier in this batch is observed.
		rec := r.registry[ev.fd]
		if rec == nil {
			log().Warnf("dispatch: no record for fd=%d", ev.fd)
			continue
		}
		if rec.fh != nil && rec.live() {
			r.dispatch(rec, ev.flags)
		}

		// Backend or topology changed mid-pass: restart the outer loop.
		if r.update {
			r.update = false
			return nil
		}
	}

	r.flushPending()
	return nil
}

func (r *Reactor) dispatch(rec *record, flags api.FDFlags) {
	if !r.debug {
		rec.fh(flags, rec.arg)
		return
	}
	start := time.Now()
	rec.fh(flags, rec.arg)
	if d := time.Since(start); d > maxBlocking {
		log().Warnf("long async blocking: %v>%v (fd=%d arg=%T)",
			d, maxBlocking, rec.fd, rec.arg)
	}
}

// armSignals installs the signal capture path: os/signal notification
// forwarded through the wakeup pipe so a parked wait call returns. The
// last caught signal is sticky until delivered once at the top of the
// loop.
func (r *Reactor) armSignals() {
	r.sigOnce.Do(func() {
		r.sigCh = make(sigChannel, 4)
		signal.Notify(r.sigCh, loopSignals...)
		go func() {
			for s := range r.sigCh {
				if num, ok := s.(syscall.Signal); ok {
					r.sig.Store(int32(num))
				}
				r.wake()
			}
		}()
	})
}

func (r *Reactor) disarmSignals() {
	if r.sigCh != nil {
		signal.Stop(r.sigCh)
		close(r.sigCh)
		r.sigCh = nil
	}
}

var timeBase = time.Now()

// jiffies is the monotonic millisecond clock shared by the timer list.
func jiffies() uint64 {
	return uint64(time.Since(timeBase) / time.Millisecond)
}
