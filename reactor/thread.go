// File: reactor/thread.go
// Author: momentics <momentics@gmail.com>
//
// Per-goroutine reactor slot store. Each loop-running goroutine owns one
// reactor registered in its slot; the first reactor is also published as
// the process-wide fallback so library calls from incidental goroutines
// still resolve a reactor. Go has no goroutine destructors, so
// ThreadClose is the mandatory teardown path.

package reactor

import (
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-reactor/api"
)

var (
	slots      = cmap.New[*Reactor]()
	globalSlot atomic.Pointer[Reactor]
)

// ThreadInit allocates a reactor and binds it to the calling goroutine.
// The first caller also publishes its reactor as the global fallback.
func ThreadInit() (*Reactor, error) {
	key := goidKey()
	if _, ok := slots.Get(key); ok {
		return nil, errors.Wrap(api.ErrAlreadyBound, "thread_init: already added for goroutine")
	}
	r, err := NewDefault()
	if err != nil {
		return nil, err
	}
	globalSlot.CompareAndSwap(nil, r)
	slots.Set(key, r)
	return r, nil
}

// ThreadClose deallocates the calling goroutine's reactor and clears the
// slot; the global fallback is unpublished when it was this reactor.
func ThreadClose() {
	key := goidKey()
	r, ok := slots.Get(key)
	if !ok {
		return
	}
	globalSlot.CompareAndSwap(r, nil)
	slots.Remove(key)
	r.Close()
}

// ThreadAttach points the calling goroutine's slot at an existing
// reactor. Attaching the bound reactor again is a no-op; a different one
// fails with AlreadyBound.
func ThreadAttach(ctx *Reactor) error {
	if ctx == nil {
		return errors.Wrap(api.ErrBadArgument, "thread_attach")
	}
	key := goidKey()
	if cur, ok := slots.Get(key); ok {
		if cur != ctx {
			return errors.Wrap(api.ErrAlreadyBound, "thread_attach: different reactor bound")
		}
		return nil
	}
	slots.Set(key, ctx)
	return nil
}

// ThreadDetach clears the calling goroutine's slot without destroying the
// reactor.
func ThreadDetach() {
	slots.Remove(goidKey())
}

// Current returns the calling goroutine's reactor, falling back to the
// process-wide one, or nil when neither ThreadInit nor ThreadAttach
// happened.
func Current() *Reactor {
	if r, ok := slots.Get(goidKey()); ok {
		return r
	}
	return globalSlot.Load()
}

// ThreadEnter acquires the reactor mutex from a foreign goroutine and
// disables record reuse: descriptor reuse relies on POSIX lowest-fd
// allocation determinism that does not hold across threads. ThreadLeave
// does not re-enable it; reuse stays off until SetReuseRecords(true).
func (r *Reactor) ThreadEnter() {
	r.lock()
	r.reuse = false
	if goid() != r.owner {
		r.foreign.Store(true)
	}
}

// ThreadLeave releases the reactor mutex after ThreadEnter.
func (r *Reactor) ThreadLeave() {
	r.foreign.Store(false)
	r.unlock()
}

// ThreadCheck returns nil iff the caller is the reactor's owner goroutine
// or currently inside a ThreadEnter/ThreadLeave bracket.
func (r *Reactor) ThreadCheck() error {
	if r.foreign.Load() {
		return nil
	}
	if goid() == r.owner {
		return nil
	}
	log().Warn("thread check: called from a foreign goroutine without ThreadEnter")
	return errors.Wrap(api.ErrPermission, "thread check")
}
