//go:build unix

// File: reactor/backend_select.go
// Author: momentics <momentics@gmail.com>
//
// select(2) backend: three fd-sets rebuilt from the registry on every
// wait. The nfds argument is derived exactly from the live records, so no
// stale descriptors are scanned after detach.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-reactor/api"
)

// selectCap is the fd-set capacity baked into the libc fd_set layout.
const selectCap = 1024

func init() {
	registerPoller(api.MethodSelect, func(r *Reactor) poller {
		return &selectPoller{r: r}
	})
}

type selectPoller struct {
	r *Reactor
}

func (p *selectPoller) method() api.PollMethod { return api.MethodSelect }

func (p *selectPoller) init() error { return nil }

func (p *selectPoller) set(rec *record) error {
	if rec.flags != 0 && (rec.fd+1 > p.r.maxFDs || rec.fd >= selectCap) {
		return errors.Wrapf(api.ErrTooManyDescriptors, "select: fd=%d", rec.fd)
	}
	// Sets are rebuilt per wait; nothing to store.
	return nil
}

func (p *selectPoller) wait(timeout int64) (int, error) {
	var rset, wset, eset unix.FdSet
	nfds := 0
	for fd, rec := range p.r.registry {
		if rec.flags == 0 {
			continue
		}
		if rec.flags&api.FDRead != 0 {
			rset.Set(fd)
		}
		if rec.flags&api.FDWrite != 0 {
			wset.Set(fd)
		}
		if rec.flags&api.FDExcept != 0 {
			eset.Set(fd)
		}
		if fd+1 > nfds {
			nfds = fd + 1
		}
	}
	if p.r.wakeR >= 0 {
		rset.Set(p.r.wakeR)
		if p.r.wakeR+1 > nfds {
			nfds = p.r.wakeR + 1
		}
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout * int64(1e6))
		tv = &t
	}

	p.r.unlock()
	n, err := unix.Select(nfds, &rset, &wset, &eset, tv)
	p.r.lock()
	if err != nil {
		return 0, errors.Wrap(err, "select")
	}
	if n <= 0 {
		return 0, nil
	}

	if p.r.wakeR >= 0 && rset.IsSet(p.r.wakeR) {
		p.r.drainWake()
	}

	cnt := 0
	for fd, rec := range p.r.registry {
		if rec.flags == 0 || cnt >= len(p.r.ready) {
			continue
		}
		var flags api.FDFlags
		if rset.IsSet(fd) {
			flags |= api.FDRead
		}
		if wset.IsSet(fd) {
			flags |= api.FDWrite
		}
		if eset.IsSet(fd) {
			flags |= api.FDExcept
		}
		if flags == 0 {
			continue
		}
		p.r.ready[cnt] = ready{fd: fd, flags: flags}
		cnt++
	}
	return cnt, nil
}

func (p *selectPoller) close() {}
