// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor implements the asynchronous I/O event loop: a descriptor
// registry, interchangeable OS poll backends (select, poll, epoll, kqueue),
// a deadline-ordered timer list and a per-goroutine reactor slot store.
//
// One reactor is owned by exactly one goroutine. All handlers run on the
// owner, serialized by the reactor mutex; foreign goroutines bracket calls
// with ThreadEnter/ThreadLeave.
package reactor
