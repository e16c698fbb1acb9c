//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// File: reactor/backend_kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
//
// BSD/Darwin kqueue(2) backend: kernel-owned interest set with a
// delete-then-add change pair per descriptor update.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-reactor/api"
)

func init() {
	registerPoller(api.MethodKqueue, func(r *Reactor) poller {
		return &kqueuePoller{r: r, kqfd: -1}
	})
}

type kqueuePoller struct {
	r      *Reactor
	kqfd   int
	evlist []unix.Kevent_t
}

func (p *kqueuePoller) method() api.PollMethod { return api.MethodKqueue }

func (p *kqueuePoller) init() error {
	if len(p.evlist) < p.r.maxFDs {
		p.evlist = make([]unix.Kevent_t, p.r.maxFDs)
	}
	if p.kqfd < 0 {
		kqfd, err := unix.Kqueue()
		if err != nil {
			return errors.Wrap(err, "kqueue")
		}
		unix.CloseOnExec(kqfd)
		p.kqfd = kqfd
	}
	if p.r.wakeR >= 0 {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, p.r.wakeR, unix.EVFILT_READ, unix.EV_ADD)
		if _, err := unix.Kevent(p.kqfd, []unix.Kevent_t{kev}, nil, nil); err != nil {
			return errors.Wrap(err, "kevent: wake pipe")
		}
	}
	return nil
}

func (p *kqueuePoller) set(rec *record) error {
	// Always delete both filters before re-adding the wanted ones.
	dels := make([]unix.Kevent_t, 2)
	unix.SetKevent(&dels[0], rec.fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&dels[1], rec.fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	_, _ = unix.Kevent(p.kqfd, dels, nil, nil)

	var adds []unix.Kevent_t
	if rec.flags&api.FDWrite != 0 {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, rec.fd, unix.EVFILT_WRITE, unix.EV_ADD)
		adds = append(adds, kev)
	}
	if rec.flags&(api.FDRead|api.FDExcept) != 0 {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, rec.fd, unix.EVFILT_READ, unix.EV_ADD)
		adds = append(adds, kev)
	}

	if len(adds) > 0 {
		if _, err := unix.Kevent(p.kqfd, adds, nil, nil); err != nil {
			return errors.Wrapf(err, "kevent: fd=%d flags=%s", rec.fd, rec.flags)
		}
	}
	return nil
}

func (p *kqueuePoller) wait(timeout int64) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout * int64(1e6))
		ts = &t
	}

	// Capture the array: a backend switch may retire this poller while
	// the syscall is in flight.
	evlist := p.evlist
	p.r.unlock()
	n, err := unix.Kevent(p.kqfd, nil, evlist, ts)
	p.r.lock()
	if err != nil {
		return 0, errors.Wrap(err, "kevent")
	}

	cnt := 0
	for i := 0; i < n && cnt < len(p.r.ready); i++ {
		kev := &evlist[i]
		fd := int(kev.Ident)
		if p.r.wakeR >= 0 && fd == p.r.wakeR {
			p.r.drainWake()
			continue
		}
		var flags api.FDFlags
		switch int64(kev.Filter) {
		case int64(unix.EVFILT_READ):
			flags |= api.FDRead
		case int64(unix.EVFILT_WRITE):
			flags |= api.FDWrite
		default:
			log().Warnf("kqueue: unhandled filter %d fd=%d", kev.Filter, fd)
		}
		if kev.Flags&unix.EV_EOF != 0 {
			flags |= api.FDExcept
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			log().Warnf("kqueue: EV_ERROR on fd=%d", fd)
		}
		if flags == 0 {
			continue
		}
		p.r.ready[cnt] = ready{fd: fd, flags: flags}
		cnt++
	}
	return cnt, nil
}

func (p *kqueuePoller) close() {
	if p.kqfd >= 0 {
		_ = unix.Close(p.kqfd)
		p.kqfd = -1
	}
	p.evlist = nil
}
