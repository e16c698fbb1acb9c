// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Reactor state and descriptor attach/detach surface.

package reactor

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-reactor/api"
)

// Reactor owns one event loop: the descriptor registry, the active poll
// backend, the timer list and the loop state. One reactor per goroutine.
type Reactor struct {
	mu  sync.Mutex  // internal mutex
	mup *sync.Mutex // active mutex; redirected by SetMutex

	registry      map[int]*record
	byIndex       []*record // compact index -> record
	pendingDelete *queue.Queue
	reuse         bool
	maxFDs        int
	maxFD         int // one past the highest fd set so far; never lowered on detach
	nfds          int

	method  api.PollMethod
	poller  poller
	retired poller // closed by the loop once its in-flight wait returned
	ready   []ready
	update  bool

	timers timerList

	polling *atomic.Bool
	sig     *atomic.Int32

	owner   int64 // goroutine id of the creating goroutine
	foreign *atomic.Bool

	debug bool

	// wakeup pipe; both ends -1 until armed. Never part of the registry.
	wakeR, wakeW int

	sigCh    sigChannel
	sigOnce  sync.Once
	initMeth api.PollMethod
}

// New allocates a reactor bound to the calling goroutine.
func New(cfg Config) (*Reactor, error) {
	if cfg.MaxFDs < 0 {
		n, err := rlimitMaxFDs()
		if err != nil {
			return nil, errors.Wrap(err, "reactor: rlimit")
		}
		cfg.MaxFDs = n
	}
	r := &Reactor{
		registry:      make(map[int]*record),
		pendingDelete: queue.New(),
		reuse:         cfg.ReuseRecords,
		maxFDs:        cfg.MaxFDs,
		initMeth:      cfg.Method,
		polling:       atomic.NewBool(false),
		sig:           atomic.NewInt32(0),
		foreign:       atomic.NewBool(false),
		debug:         cfg.Debug,
		owner:         goid(),
		wakeR:         -1,
		wakeW:         -1,
	}
	r.mup = &r.mu
	r.timers.init()
	return r, nil
}

// NewDefault allocates a reactor with DefaultConfig.
func NewDefault() (*Reactor, error) { return New(DefaultConfig()) }

func (r *Reactor) lock()   { r.mup.Lock() }
func (r *Reactor) unlock() { r.mup.Unlock() }

// SetMutex installs an external mutex used for all reactor locking, for
// applications that serialize several libraries under one lock. Passing
// nil restores the internal mutex. The reactor still admits only one
// goroutine at a time.
func (r *Reactor) SetMutex(m *sync.Mutex) {
	if m != nil {
		r.mup = m
	} else {
		r.mup = &r.mu
	}
}

// Attach listens for events on a file descriptor, updating the existing
// registration when fd is already attached. Zero flags with a nil handler
// detach the descriptor. On a backend registration failure the offending
// fd is detached before the error is returned.
func (r *Reactor) Attach(fd int, flags api.FDFlags, fh api.FDHandler, arg any) error {
	if err := r.ThreadCheck(); err != nil {
		return err
	}
	if fd < 0 {
		return errors.Wrapf(api.ErrBadDescriptor, "attach: corrupt fd %d", fd)
	}

	if flags != 0 || fh != nil {
		if err := r.pollSetup(); err != nil {
			return err
		}
	}

	rec := r.upsert(fd, flags, fh, arg)

	var err error
	if r.poller != nil {
		err = r.poller.set(rec)
	}
	if err == nil && fd+1 > r.maxFD {
		r.maxFD = fd + 1
	}

	if flags == 0 {
		r.retire(rec)
		if r.foreign.Load() && r.polling.Load() {
			r.wake()
		}
		return err
	}

	if err != nil {
		log().WithError(err).Warnf("attach: fd=%d flags=%s", fd, flags)
		rec.flags = 0
		rec.fh = nil
		if r.poller != nil {
			_ = r.poller.set(rec)
		}
		r.retire(rec)
		return err
	}

	// A foreign attach may race a parked wait; slot-array backends only
	// observe the change after the next wakeup.
	if r.foreign.Load() && r.polling.Load() {
		r.wake()
	}
	return nil
}

// Detach stops listening for events on a file descriptor.
func (r *Reactor) Detach(fd int) {
	_ = r.Attach(fd, 0, nil, nil)
}

// NFDs returns the number of attached descriptors.
func (r *Reactor) NFDs() int { return r.nfds }

// Method returns the active poll backend.
func (r *Reactor) Method() api.PollMethod { return r.method }

// SetReuseRecords toggles the keep-record-after-detach policy.
func (r *Reactor) SetReuseRecords(reuse bool) { r.reuse = reuse }

// SetMaxFDs sets the maximum number of pollable descriptors. Only the
// first call binds the limit; n=0 tears down backend resources and n<0
// uses the process fd limit.
func (r *Reactor) SetMaxFDs(n int) error {
	if n == 0 {
		r.logInUse()
		r.pollClose()
		return nil
	}
	if n < 0 {
		lim, err := rlimitMaxFDs()
		if err != nil {
			return errors.Wrap(err, "set_max_fds")
		}
		n = lim
	}
	if r.maxFDs == 0 {
		r.maxFDs = n
	}
	return nil
}

// SetMethod switches the poll backend, valid at any time. Every live
// record is re-attached into the new backend and the previous backend is
// torn down; an in-flight dispatch pass returns after the current batch.
func (r *Reactor) SetMethod(m api.PollMethod) error {
	if err := r.SetMaxFDs(DefaultMaxFDs); err != nil {
		return err
	}
	f, ok := pollerFactories[m]
	if !ok {
		return errors.Wrapf(api.ErrNotSupported, "poll method %s", m)
	}
	if m == api.MethodSelect && r.maxFD > r.maxFDs {
		return errors.Wrap(api.ErrTooManyDescriptors, "select: max fds reached")
	}

	prev := r.poller
	p := f(r)
	r.method = m
	r.poller = p
	if err := p.init(); err != nil {
		r.poller = prev
		if prev != nil {
			r.method = prev.method()
		} else {
			r.method = api.MethodNone
		}
		return err
	}
	r.update = true

	for _, rec := range r.registry {
		if rec.fh == nil || !rec.live() {
			continue
		}
		if err := p.set(rec); err != nil {
			return errors.Wrapf(api.ErrBadDescriptor, "set_method: rebuild fd=%d: %v", rec.fd, err)
		}
	}

	if prev != nil {
		// The owner may be parked inside the previous backend's wait
		// syscall; closing its resources now could strand that call.
		// Hand it to the loop, which tears it down after the in-flight
		// wait returns.
		if r.polling.Load() {
			if r.retired != nil {
				r.retired.close()
			}
			r.retired = prev
			r.wake()
		} else {
			prev.close()
		}
	}
	log().Debugf("reactor: poll method set to %s", m)
	return nil
}

// pollSetup lazily binds the fd limit, picks the best backend when none
// was chosen and allocates backend resources.
func (r *Reactor) pollSetup() error {
	if err := r.SetMaxFDs(DefaultMaxFDs); err != nil {
		return err
	}
	if err := r.armWake(); err != nil {
		return err
	}
	if r.method == api.MethodNone {
		m := r.initMeth
		if m == api.MethodNone {
			m = BestMethod()
		}
		if m == api.MethodNone {
			return errors.Wrap(api.ErrNotSupported, "no poll backend on this platform")
		}
		if err := r.SetMethod(m); err != nil {
			return err
		}
		r.update = false
	}
	if len(r.ready) < r.maxFDs {
		r.ready = make([]ready, r.maxFDs)
	}
	return nil
}

// pollClose frees all backend resources.
func (r *Reactor) pollClose() {
	r.maxFDs = 0
	if r.retired != nil {
		r.retired.close()
		r.retired = nil
	}
	if r.poller != nil {
		r.poller.close()
		r.poller = nil
	}
	r.method = api.MethodNone
	r.ready = nil
}

// Close releases the reactor: backend resources, wakeup pipe and the
// registry. The loop, if running, must have been cancelled first.
func (r *Reactor) Close() {
	r.pollClose()
	r.closeWake()
	r.disarmSignals()
	r.registry = make(map[int]*record)
	r.byIndex = nil
	r.nfds = 0
	r.maxFD = 0
}

// Debug renders the loop state for diagnostics.
func (r *Reactor) Debug() string {
	return fmt.Sprintf("reactor: maxfds=%d nfds=%d method=%s polling=%v",
		r.maxFDs, r.nfds, r.method, r.polling.Load())
}

// logInUse writes every attached descriptor through the logger, the
// companion of SetMaxFDs(0) teardown.
func (r *Reactor) logInUse() {
	for fd, rec := range r.registry {
		if rec.flags == 0 {
			continue
		}
		log().Warnf("fd %d in use: flags=%s arg=%T", fd, rec.flags, rec.arg)
	}
}
