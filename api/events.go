// File: api/events.go
// Author: momentics <momentics@gmail.com>
//
// Descriptor event flags and polling method identifiers.

package api

import "strings"

// FDFlags is the set of I/O readiness conditions a descriptor is watched
// for. The zero value detaches the descriptor from the reactor.
type FDFlags int

const (
	// FDRead requests read-readiness events.
	FDRead FDFlags = 1 << iota
	// FDWrite requests write-readiness events.
	FDWrite
	// FDExcept requests exceptional-condition events (errors, hangup).
	FDExcept
)

// String renders the flag set as "R|W|E" style shorthand.
func (f FDFlags) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	if f&FDRead != 0 {
		parts = append(parts, "R")
	}
	if f&FDWrite != 0 {
		parts = append(parts, "W")
	}
	if f&FDExcept != 0 {
		parts = append(parts, "E")
	}
	return strings.Join(parts, "|")
}

// PollMethod identifies a concrete OS polling backend.
type PollMethod int

const (
	// MethodNone means no backend has been selected yet.
	MethodNone PollMethod = iota
	// MethodSelect is the select(2) backend.
	MethodSelect
	// MethodPoll is the poll(2) backend.
	MethodPoll
	// MethodEpoll is the Linux epoll(7) backend.
	MethodEpoll
	// MethodKqueue is the BSD/Darwin kqueue(2) backend.
	MethodKqueue
)

var methodNames = map[PollMethod]string{
	MethodNone:   "none",
	MethodSelect: "select",
	MethodPoll:   "poll",
	MethodEpoll:  "epoll",
	MethodKqueue: "kqueue",
}

func (m PollMethod) String() string {
	if n, ok := methodNames[m]; ok {
		return n
	}
	return "unknown"
}
