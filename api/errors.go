// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Common error kinds used across the library. Callers classify failures
// with errors.Is against these sentinels; call sites add context by
// wrapping (github.com/pkg/errors).

package api

import "errors"

var (
	// ErrBadArgument reports an invalid argument to a library call.
	ErrBadArgument = errors.New("bad argument")
	// ErrBadDescriptor reports an invalid or corrupt file descriptor.
	ErrBadDescriptor = errors.New("bad descriptor")
	// ErrTooManyDescriptors reports that the active backend cannot hold
	// another descriptor.
	ErrTooManyDescriptors = errors.New("too many descriptors")
	// ErrNotSupported reports an operation the platform or build cannot do.
	ErrNotSupported = errors.New("not supported")
	// ErrAlreadyBound reports a thread slot already bound to a different
	// reactor.
	ErrAlreadyBound = errors.New("already bound")
	// ErrAlreadyPolling reports a Run call on a reactor whose loop is
	// already running.
	ErrAlreadyPolling = errors.New("already polling")
	// ErrNotFound reports a missing descriptor, file or cache entry.
	ErrNotFound = errors.New("not found")
	// ErrOverflow reports an output buffer smaller than the result.
	ErrOverflow = errors.New("overflow")
	// ErrBadFormat reports unparsable PEM/DER input.
	ErrBadFormat = errors.New("bad format")
	// ErrNotADirectory reports a CA path that is not a directory.
	ErrNotADirectory = errors.New("not a directory")
	// ErrAuthFailure reports a failed peer certificate verification.
	ErrAuthFailure = errors.New("authentication failure")
	// ErrProtocol reports a TLS protocol-level failure.
	ErrProtocol = errors.New("protocol error")
	// ErrPermission reports a reactor call from a foreign goroutine
	// outside a ThreadEnter/ThreadLeave bracket.
	ErrPermission = errors.New("permission denied")
	// ErrInvalid reports a non-fatal rejection, e.g. caching a
	// non-resumable session.
	ErrInvalid = errors.New("invalid")
	// ErrTransient reports a retryable condition.
	ErrTransient = errors.New("transient")
)
