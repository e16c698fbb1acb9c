// File: reactor/record.go
// Author: momentics <momentics@gmail.com>
//
// Descriptor handler records and the fd-keyed registry.

package reactor

import (
	"github.com/momentics/hioload-reactor/api"
)

// record is the reactor's bookkeeping for one attached descriptor. At most
// one record exists per active fd per reactor.
type record struct {
	fd    int
	flags api.FDFlags
	fh    api.FDHandler
	arg   any

	// index is the record's position in the backend's compact event
	// array; -1 while detached.
	index int
}

// live reports whether the record is attached.
func (rec *record) live() bool { return rec.index >= 0 }

// upsert returns the record for fd, creating it when absent. A fresh or
// re-attached record is assigned the next compact index.
func (r *Reactor) upsert(fd int, flags api.FDFlags, fh api.FDHandler, arg any) *record {
	rec := r.registry[fd]
	if rec == nil {
		rec = &record{fd: fd, index: -1}
		r.registry[fd] = rec
	}
	if rec.index == -1 {
		rec.index = r.nfds
		r.growIndex(rec.index)
		r.byIndex[rec.index] = rec
		r.nfds++
	}
	rec.flags = flags
	rec.fh = fh
	rec.arg = arg
	return rec
}

// retire releases the record's compact index, keeping the index space
// dense: the record holding the top index is moved into the freed slot and
// re-registered with the active backend.
func (r *Reactor) retire(rec *record) {
	last := r.nfds - 1
	if rec.index >= 0 && rec.index < last {
		moved := r.byIndex[last]
		moved.index = rec.index
		r.byIndex[rec.index] = moved
		if r.poller != nil {
			if err := r.poller.set(moved); err != nil {
				log().WithError(err).Warnf("retire: re-set moved fd=%d", moved.fd)
			}
		}
	}
	if last >= 0 {
		r.byIndex[last] = nil
	}
	rec.index = -1
	r.nfds--

	if !r.reuse {
		if r.polling.Load() {
			r.pendingDelete.Add(rec)
		} else {
			delete(r.registry, rec.fd)
		}
	}
}

// flushPending frees records retired while a dispatch pass was in flight.
// Records that were re-attached in the meantime are left alone.
func (r *Reactor) flushPending() {
	for r.pendingDelete.Length() > 0 {
		rec := r.pendingDelete.Remove().(*record)
		if cur, ok := r.registry[rec.fd]; ok && cur == rec && !rec.live() {
			delete(r.registry, rec.fd)
		}
	}
}

func (r *Reactor) growIndex(index int) {
	if index < len(r.byIndex) {
		return
	}
	grown := make([]*record, index+1, 2*(index+1))
	copy(grown, r.byIndex)
	r.byIndex = grown
}
