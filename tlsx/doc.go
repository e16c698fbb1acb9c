// File: tlsx/doc.go
// Author: momentics <momentics@gmail.com>

// Package tlsx manages TLS and DTLS credentials and sessions: a context
// holding certificate, key, trust store, verification policy, cipher and
// SRTP profile configuration, plus a peer-address-keyed session cache for
// TLS resumption.
//
// Stream TLS is backed by crypto/tls, datagram TLS by pion/dtls. A
// context outlives its connections; connections hold a plain reference to
// their parent context.
package tlsx
