//go:build linux

// File: reactor/backend_epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) backend: kernel-owned interest set, one ctl syscall per
// attach or detach (a modify tries ADD first, then MOD), O(ready) wait.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-reactor/api"
)

func init() {
	registerPoller(api.MethodEpoll, func(r *Reactor) poller {
		return &epollPoller{r: r, epfd: -1}
	})
}

type epollPoller struct {
	r      *Reactor
	epfd   int
	events []unix.EpollEvent
}

func (p *epollPoller) method() api.PollMethod { return api.MethodEpoll }

func (p *epollPoller) init() error {
	if len(p.events) < p.r.maxFDs {
		p.events = make([]unix.EpollEvent, p.r.maxFDs)
	}
	if p.epfd < 0 {
		epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
		if err != nil {
			return errors.Wrap(err, "epoll_create")
		}
		p.epfd = epfd
	}
	if p.r.wakeR >= 0 {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(p.r.wakeR)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.r.wakeR, &ev); err != nil && !errors.Is(err, unix.EEXIST) {
			return errors.Wrap(err, "epoll_ctl: wake pipe")
		}
	}
	return nil
}

func (p *epollPoller) set(rec *record) error {
	if p.epfd < 0 {
		return errors.Wrap(api.ErrBadDescriptor, "epoll: not initialized")
	}

	if rec.flags == 0 {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, rec.fd, nil); err != nil && !errors.Is(err, unix.ENOENT) {
			log().WithError(err).Debugf("epoll_ctl: del fd=%d", rec.fd)
		}
		return nil
	}

	ev := unix.EpollEvent{Fd: int32(rec.fd)}
	if rec.flags&api.FDRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if rec.flags&api.FDWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if rec.flags&api.FDExcept != 0 {
		ev.Events |= unix.EPOLLERR
	}

	// Add first; an already-known descriptor is modified instead.
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, rec.fd, &ev)
	if errors.Is(err, unix.EEXIST) {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, rec.fd, &ev)
	}
	if err != nil {
		return errors.Wrapf(err, "epoll_ctl: fd=%d", rec.fd)
	}
	return nil
}

func (p *epollPoller) wait(timeout int64) (int, error) {
	// Capture the array: a backend switch may retire this poller while
	// the syscall is in flight.
	events := p.events
	p.r.unlock()
	n, err := unix.EpollWait(p.epfd, events, int(timeout))
	p.r.lock()
	if err != nil {
		return 0, errors.Wrap(err, "epoll_wait")
	}

	cnt := 0
	for i := 0; i < n && cnt < len(p.r.ready); i++ {
		ev := &events[i]
		fd := int(ev.Fd)
		if p.r.wakeR >= 0 && fd == p.r.wakeR {
			p.r.drainWake()
			continue
		}
		var flags api.FDFlags
		if ev.Events&unix.EPOLLIN != 0 {
			flags |= api.FDRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			flags |= api.FDWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			flags |= api.FDExcept
		}
		if flags == 0 {
			log().Warnf("epoll: no flags fd=%d", fd)
			continue
		}
		p.r.ready[cnt] = ready{fd: fd, flags: flags}
		cnt++
	}
	return cnt, nil
}

func (p *epollPoller) close() {
	if p.epfd >= 0 {
		_ = unix.Close(p.epfd)
		p.epfd = -1
	}
	p.events = nil
}
