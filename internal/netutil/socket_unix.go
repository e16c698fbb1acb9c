//go:build unix

// File: internal/netutil/socket_unix.go
// Author: momentics <momentics@gmail.com>
//
// Nonblocking raw-socket plumbing used by the reactor tests.

package netutil

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ListenTCP creates a nonblocking listening TCP socket bound to addr
// (IPv4 dotted quad, port 0 for ephemeral) and returns the fd together
// with the bound port.
func ListenTCP(addr [4]byte, port int) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, 0, errors.Wrap(err, "socket")
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, 0, errors.Wrap(err, "bind")
	}
	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return -1, 0, errors.Wrap(err, "listen")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, 0, errors.Wrap(err, "nonblock")
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, 0, errors.Wrap(err, "getsockname")
	}
	return fd, bound.(*unix.SockaddrInet4).Port, nil
}

// Accept accepts one pending connection from a nonblocking listener,
// returning the nonblocking client fd.
func Accept(lfd int) (int, error) {
	fd, _, err := unix.Accept(lfd)
	if err != nil {
		return -1, errors.Wrap(err, "accept")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, errors.Wrap(err, "nonblock")
	}
	return fd, nil
}

// Read reads from a raw socket descriptor.
func Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// Write writes to a raw socket descriptor.
func Write(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// Close closes a raw socket descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}

// WouldBlock reports an EAGAIN/EWOULDBLOCK outcome of a nonblocking call.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
