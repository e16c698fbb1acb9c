//go:build unix

// File: reactor/loop_test.go
// Author: momentics <momentics@gmail.com>
//
// End-to-end loop tests: echo over poll, a live backend switch and
// foreign-goroutine descriptor attachment.

package reactor

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/internal/netutil"
)

// echoServer attaches a listener and echoes every connection's bytes.
// nfdsDuring receives r.NFDs() as observed inside the echo handler.
func echoServer(t *testing.T, r *Reactor, nfdsDuring *atomic.Int32) int {
	t.Helper()

	lfd, port, err := netutil.ListenTCP([4]byte{127, 0, 0, 1}, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = netutil.Close(lfd) })

	echo := func(flags api.FDFlags, arg any) {
		fd := arg.(int)
		buf := make([]byte, 4096)
		n, err := netutil.Read(fd, buf)
		if err != nil && netutil.WouldBlock(err) {
			return
		}
		if n <= 0 || err != nil {
			r.Detach(fd)
			_ = netutil.Close(fd)
			return
		}
		if nfdsDuring != nil {
			nfdsDuring.Store(int32(r.NFDs()))
		}
		_, _ = netutil.Write(fd, buf[:n])
	}

	accept := func(_ api.FDFlags, _ any) {
		fd, err := netutil.Accept(lfd)
		if err != nil {
			return
		}
		if err := r.Attach(fd, api.FDRead, echo, fd); err != nil {
			_ = netutil.Close(fd)
		}
	}

	require.NoError(t, r.Attach(lfd, api.FDRead, accept, nil))
	return port
}

func roundTrip(t *testing.T, conn net.Conn, msg string) {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf))
}

func TestEchoOverPoll(t *testing.T) {
	var r *Reactor
	var port int
	var nfdsDuring atomic.Int32
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		var err error
		r, err = New(Config{Method: api.MethodPoll, ReuseRecords: true})
		if err != nil {
			done <- err
			close(ready)
			return
		}
		port = echoServer(t, r, &nfdsDuring)
		close(ready)
		done <- r.Run(nil)
	}()
	<-ready
	require.NotNil(t, r)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	roundTrip(t, conn, "hello")
	require.Equal(t, int32(2), nfdsDuring.Load(), "listener plus client during echo")
	require.NoError(t, conn.Close())

	// Allow the server to observe the close and detach the client.
	time.Sleep(100 * time.Millisecond)
	r.Cancel()
	require.NoError(t, <-done)
	require.Equal(t, 1, r.NFDs(), "only the listener remains attached")
	require.Equal(t, api.MethodPoll, r.Method())
}

func TestBackendSwitchLive(t *testing.T) {
	if _, ok := pollerFactories[api.MethodEpoll]; !ok {
		t.Skip("epoll not available on this platform")
	}

	var r *Reactor
	var port int
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		var err error
		r, err = New(Config{Method: api.MethodPoll, ReuseRecords: true})
		if err != nil {
			done <- err
			close(ready)
			return
		}
		port = echoServer(t, r, nil)
		close(ready)
		done <- r.Run(nil)
	}()
	<-ready
	require.NotNil(t, r)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	roundTrip(t, conn, "first")

	r.ThreadEnter()
	err = r.SetMethod(api.MethodEpoll)
	r.ThreadLeave()
	require.NoError(t, err)

	roundTrip(t, conn, "second")
	require.Equal(t, api.MethodEpoll, r.Method())

	r.Cancel()
	require.NoError(t, <-done)
}

func TestRunAlreadyPolling(t *testing.T) {
	var r *Reactor
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		r, _ = New(Config{})
		var parked Timer
		r.StartTimer(&parked, 10_000, nil, nil)
		close(ready)
		done <- r.Run(nil)
	}()
	<-ready

	// Wait for the loop flag to flip.
	require.Eventually(t, func() bool { return r.polling.Load() },
		time.Second, time.Millisecond)

	err := r.Run(nil)
	require.ErrorIs(t, err, api.ErrAlreadyPolling)

	r.Cancel()
	require.NoError(t, <-done)
}

func TestForeignAttachDispatchedByOwner(t *testing.T) {
	var r *Reactor
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		r, _ = New(Config{})
		var parked Timer
		r.StartTimer(&parked, 10_000, nil, nil)
		close(ready)
		done <- r.Run(nil)
	}()
	<-ready
	require.Eventually(t, func() bool { return r.polling.Load() },
		time.Second, time.Millisecond)

	lfd, port, err := netutil.ListenTCP([4]byte{127, 0, 0, 1}, 0)
	require.NoError(t, err)
	defer netutil.Close(lfd)

	var mu sync.Mutex
	var handlerGoid int64

	// The worker is a foreign goroutine: bracket with ThreadEnter/Leave.
	r.ThreadEnter()
	err = r.Attach(lfd, api.FDRead, func(api.FDFlags, any) {
		mu.Lock()
		handlerGoid = goid()
		mu.Unlock()
	}, nil)
	r.ThreadLeave()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handlerGoid != 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, r.owner, handlerGoid, "event dispatched by the owner goroutine")
	mu.Unlock()

	r.Cancel()
	require.NoError(t, <-done)
}

func TestThreadCheckRejectsUnbracketedForeignCall(t *testing.T) {
	r := newTestReactor(t, Config{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Attach(0, api.FDRead, func(api.FDFlags, any) {}, nil)
	}()
	require.ErrorIs(t, <-errCh, api.ErrPermission)
}
