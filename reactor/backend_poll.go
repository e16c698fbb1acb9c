//go:build unix

// File: reactor/backend_poll.go
// Author: momentics <momentics@gmail.com>
//
// poll(2) backend: a compact pollfd array indexed by each record's index.
// One extra slot past the live range carries the wakeup pipe.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-reactor/api"
)

func init() {
	registerPoller(api.MethodPoll, func(r *Reactor) poller {
		return &pollPoller{r: r}
	})
}

type pollPoller struct {
	r   *Reactor
	fds []unix.PollFd
}

func (p *pollPoller) method() api.PollMethod { return api.MethodPoll }

func (p *pollPoller) init() error {
	if len(p.fds) < p.r.maxFDs+1 {
		p.fds = make([]unix.PollFd, p.r.maxFDs+1)
		for i := range p.fds {
			p.fds[i].Fd = -1
		}
	}
	return nil
}

func (p *pollPoller) set(rec *record) error {
	if rec.index >= p.r.maxFDs {
		return errors.Wrapf(api.ErrTooManyDescriptors, "poll: index=%d", rec.index)
	}
	slot := &p.fds[rec.index]
	if rec.flags != 0 {
		slot.Fd = int32(rec.fd)
	} else {
		slot.Fd = -1
	}
	slot.Events = 0
	slot.Revents = 0
	if rec.flags&api.FDRead != 0 {
		slot.Events |= unix.POLLIN
	}
	if rec.flags&api.FDWrite != 0 {
		slot.Events |= unix.POLLOUT
	}
	if rec.flags&api.FDExcept != 0 {
		slot.Events |= unix.POLLERR
	}
	return nil
}

func (p *pollPoller) wait(timeout int64) (int, error) {
	// Capture the array: a backend switch may retire this poller while
	// the syscall is in flight.
	fds := p.fds
	n := p.r.nfds
	if p.r.wakeR >= 0 {
		fds[n] = unix.PollFd{Fd: int32(p.r.wakeR), Events: unix.POLLIN}
		n++
	}

	p.r.unlock()
	cnt, err := unix.Poll(fds[:n], int(timeout))
	p.r.lock()
	if err != nil {
		return 0, errors.Wrap(err, "poll")
	}
	if cnt <= 0 {
		return 0, nil
	}

	out := 0
	for i := 0; i < n && out < len(p.r.ready); i++ {
		slot := &fds[i]
		if slot.Revents == 0 {
			continue
		}
		fd := int(slot.Fd)
		if p.r.wakeR >= 0 && fd == p.r.wakeR {
			p.r.drainWake()
			slot.Revents = 0
			continue
		}
		var flags api.FDFlags
		if slot.Revents&unix.POLLIN != 0 {
			flags |= api.FDRead
		}
		if slot.Revents&unix.POLLOUT != 0 {
			flags |= api.FDWrite
		}
		if slot.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			flags |= api.FDExcept
		}
		if slot.Revents&unix.POLLNVAL != 0 {
			log().Warnf("poll: POLLNVAL fd=%d events=0x%02x", fd, slot.Events)
		}
		slot.Revents = 0
		if flags == 0 {
			continue
		}
		p.r.ready[out] = ready{fd: fd, flags: flags}
		out++
	}
	return out, nil
}

func (p *pollPoller) close() {
	p.fds = nil
}
