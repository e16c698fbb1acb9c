// File: api/doc.go
// Author: momentics <momentics@gmail.com>

// Package api defines the shared vocabulary of hioload-reactor: descriptor
// event flags, polling methods, handler signatures and the sentinel error
// kinds used across the reactor and TLS subsystems.
package api
