// File: reactor/backend.go
// Author: momentics <momentics@gmail.com>
//
// Poll backend capability surface and per-platform factory registration.
// Concrete backends live in build-tagged files; each registers a factory
// from init(), mirroring compile-time availability.

package reactor

import (
	"github.com/michaelquigley/pfxlog"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-reactor/api"
)

// poller is the uniform four-operation backend contract: init, attach or
// modify or detach one descriptor, wait, teardown.
type poller interface {
	method() api.PollMethod

	// init allocates backend resources for the reactor's current MaxFDs.
	// Kernel-set backends (epoll, kqueue) also register the wakeup pipe
	// here; poll and select add it to every wait instead.
	init() error

	// set propagates one record's current flags into the backend. Zero
	// flags detach the descriptor from the backend.
	set(rec *record) error

	// wait blocks for readiness up to timeout milliseconds (negative
	// means indefinitely), releasing the reactor mutex around the
	// syscall, and decodes ready events into the reactor's ready array.
	// It returns the number of decoded events.
	wait(timeout int64) (int, error)

	// close releases backend resources.
	close()
}

// ready is one decoded readiness event of a dispatch pass.
type ready struct {
	fd    int
	flags api.FDFlags
}

type pollerFactory func(r *Reactor) poller

var pollerFactories = map[api.PollMethod]pollerFactory{}

func registerPoller(m api.PollMethod, f pollerFactory) {
	pollerFactories[m] = f
}

// BestMethod returns the preferred poll backend available on this
// platform: epoll over kqueue over poll over select.
func BestMethod() api.PollMethod {
	for _, m := range []api.PollMethod{
		api.MethodEpoll,
		api.MethodKqueue,
		api.MethodPoll,
		api.MethodSelect,
	} {
		if _, ok := pollerFactories[m]; ok {
			return m
		}
	}
	return api.MethodNone
}

func log() *logrus.Entry {
	return pfxlog.Logger()
}
