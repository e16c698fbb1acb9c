// File: api/handler.go
// Author: momentics <momentics@gmail.com>
//
// Handler signatures invoked by the reactor loop. All handlers run on the
// reactor's owner goroutine, serialized by the reactor mutex.

package api

import "os"

// FDHandler is called when a watched descriptor becomes ready. flags is
// the union of conditions delivered by the OS for this pass; arg is the
// opaque value supplied at attach time.
type FDHandler func(flags FDFlags, arg any)

// TimerHandler is called when a timer deadline expires.
type TimerHandler func(arg any)

// SignalHandler receives signals caught while the loop runs. Delivery is
// serialized with I/O dispatch; a handler never runs inside an FDHandler.
type SignalHandler func(sig os.Signal)
