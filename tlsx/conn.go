// File: tlsx/conn.go
// Author: momentics <momentics@gmail.com>
//
// Per-connection TLS/DTLS surface: handshakes, peer inspection, session
// reuse and SRTP keying export.

package tlsx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/internal/sa"
)

// Conn is one TLS or DTLS connection over an already-connected transport
// socket. It references its parent context; the context outlives the
// connection.
type Conn struct {
	ctx  *Context
	nc   net.Conn
	peer sa.Key

	host       string
	verifyHost bool

	stream *tls.Conn
	dgram  *dtls.Conn

	resumeHit  bool
	verifyErr  error
	verifyDone bool
}

// NewConn wraps an established transport connection. The peer address is
// taken from the connection and keys the session cache.
func (c *Context) NewConn(nc net.Conn) (*Conn, error) {
	if nc == nil {
		return nil, errors.Wrap(api.ErrBadArgument, "new conn")
	}
	peer, err := sa.FromNetAddr(nc.RemoteAddr())
	if err != nil {
		return nil, errors.Wrap(err, "peer address")
	}
	return &Conn{ctx: c, nc: nc, peer: peer}, nil
}

// SetVerifyServer enables server certificate and hostname verification
// for this connection: host becomes the SNI name and is matched strictly
// (no partial wildcards). A no-op when the context has server
// verification disabled.
func (cn *Conn) SetVerifyServer(host string) error {
	if host == "" {
		return errors.Wrap(api.ErrBadArgument, "verify server: no host")
	}
	if !cn.ctx.verifyServer {
		return nil
	}
	cn.host = host
	cn.verifyHost = true
	return nil
}

// ReuseSession looks up the cached session for the connection's peer
// ahead of the handshake. The session itself reaches the library through
// the cache adapter during the handshake, which happens on every
// connection of a context with session reuse enabled, whether or not
// ReuseSession was called. Without a cached entry the handshake simply
// runs full.
func (cn *Conn) ReuseSession() error {
	if cn.ctx == nil {
		return errors.Wrap(api.ErrBadArgument, "reuse session")
	}
	if !cn.ctx.SessionReuseEnabled() {
		return nil
	}
	// Lookup only; the cache adapter hands the session to the library
	// during the handshake.
	_ = cn.ctx.reuse.cache.get(cn.peer)
	return nil
}

// UpdateSessions checks that the connection's session is in the cache.
// It does not capture or insert a session itself: the library pushes
// sessions through the cache callbacks at handshake time, for stream and
// datagram connections alike. A missing entry means the session was not
// resumable and yields Invalid.
func (cn *Conn) UpdateSessions() error {
	if !cn.ctx.SessionReuseEnabled() {
		return errors.Wrap(api.ErrInvalid, "session reuse disabled")
	}
	if cn.ctx.reuse.cache.get(cn.peer) == nil {
		return errors.Wrap(api.ErrInvalid, "no resumable session")
	}
	return nil
}

// HandshakeClient runs the client side of the handshake.
func (cn *Conn) HandshakeClient(ctx context.Context) error {
	if cn.ctx.method.Datagram() {
		return cn.handshakeDatagram(ctx, true)
	}
	return cn.handshakeStream(ctx, true)
}

// HandshakeServer runs the server side of the handshake.
func (cn *Conn) HandshakeServer(ctx context.Context) error {
	if cn.ctx.method.Datagram() {
		return cn.handshakeDatagram(ctx, false)
	}
	return cn.handshakeStream(ctx, false)
}

func (cn *Conn) handshakeStream(ctx context.Context, client bool) error {
	cfg := cn.ctx.streamConfig()
	cfg.VerifyPeerCertificate = cn.recordVerify

	if client {
		if cn.verifyHost {
			cfg.ServerName = cn.host
		} else {
			// OpenSSL VERIFY_NONE semantics: the handshake proceeds and
			// the chain result stays available through PeerVerify.
			cfg.InsecureSkipVerify = true
		}
		if cn.ctx.SessionReuseEnabled() {
			cfg.ClientSessionCache = &streamSessionCache{ctx: cn.ctx, conn: cn}
		}
		cn.stream = tls.Client(cn.nc, cfg)
	} else {
		cn.stream = tls.Server(cn.nc, cfg)
	}

	if err := cn.stream.HandshakeContext(ctx); err != nil {
		return errors.Wrapf(api.ErrProtocol, "handshake: %v", err)
	}
	return nil
}

func (cn *Conn) handshakeDatagram(ctx context.Context, client bool) error {
	cfg := cn.dtlsConfig(ctx, client)

	var err error
	if client {
		cn.dgram, err = dtls.Client(cn.nc, cfg)
	} else {
		cn.dgram, err = dtls.Server(cn.nc, cfg)
	}
	if err != nil {
		cn.dgram = nil
		return errors.Wrapf(api.ErrProtocol, "dtls handshake: %v", err)
	}
	return nil
}

func (cn *Conn) dtlsConfig(ctx context.Context, client bool) *dtls.Config {
	c := cn.ctx
	c.mu.Lock()
	cfg := &dtls.Config{
		RootCAs:   c.roots,
		ClientCAs: c.roots,
		// SRTP keying export needs the extended master secret.
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, 30*time.Second)
		},
	}
	if c.cert != nil {
		cfg.Certificates = []tls.Certificate{*c.cert}
	}
	if c.verifyClient {
		cfg.ClientAuth = dtls.RequestClientCert
	}
	for _, p := range c.srtpProfiles {
		cfg.SRTPProtectionProfiles = append(cfg.SRTPProtectionProfiles,
			dtls.SRTPProtectionProfile(p))
	}
	reuse := c.reuse.enabled
	c.mu.Unlock()

	cfg.VerifyPeerCertificate = cn.recordVerify
	if client {
		if cn.verifyHost {
			cfg.ServerName = cn.host
		} else {
			cfg.InsecureSkipVerify = true
		}
		if reuse {
			cfg.SessionStore = &dgramSessionStore{ctx: c, conn: cn}
		}
	}
	return cfg
}

// recordVerify notes the chain verification result for PeerVerify
// without failing trust-all handshakes. Revoked peers fail outright.
func (cn *Conn) recordVerify(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	cn.verifyDone = true
	cn.verifyErr = cn.verifyPeerChain(rawCerts, verifiedChains)
	if cn.verifyErr != nil && cn.isRevoked(rawCerts) {
		return cn.verifyErr
	}
	return nil
}

func (cn *Conn) verifyPeerChain(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	if len(verifiedChains) > 0 {
		// The library already built and verified a chain.
		return cn.checkCRLs(verifiedChains[0])
	}
	if len(rawCerts) == 0 {
		return errors.Wrap(api.ErrNotFound, "no peer certificate")
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return errors.Wrapf(api.ErrBadFormat, "peer certificate: %v", err)
		}
		certs = append(certs, cert)
	}

	cn.ctx.mu.Lock()
	opts := x509.VerifyOptions{
		Roots:         cn.ctx.roots,
		KeyUsages:     cn.ctx.purposes,
		Intermediates: x509.NewCertPool(),
	}
	cn.ctx.mu.Unlock()
	if len(opts.KeyUsages) == 0 {
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageAny}
	}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}

	chains, err := certs[0].Verify(opts)
	if err != nil {
		return errors.Wrapf(api.ErrAuthFailure, "verify: %v", err)
	}
	return cn.checkCRLs(chains[0])
}

// checkCRLs rejects chain members revoked by any installed CRL. Go's TLS
// stack does not consult CRLs itself.
func (cn *Conn) checkCRLs(chain []*x509.Certificate) error {
	cn.ctx.mu.Lock()
	crls := cn.ctx.crls
	cn.ctx.mu.Unlock()

	for _, crl := range crls {
		for _, cert := range chain {
			for _, rev := range crl.RevokedCertificateEntries {
				if cert.SerialNumber.Cmp(rev.SerialNumber) == 0 {
					return errors.Wrapf(api.ErrAuthFailure,
						"certificate %v revoked", cert.SerialNumber)
				}
			}
		}
	}
	return nil
}

func (cn *Conn) isRevoked(rawCerts [][]byte) bool {
	if len(rawCerts) == 0 {
		return false
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return false
	}
	return cn.checkCRLs([]*x509.Certificate{cert}) != nil
}

// PeerVerify returns nil when the peer certificate chain verified
// against the context's trust store, AuthFailure otherwise.
func (cn *Conn) PeerVerify() error {
	if !cn.verifyDone {
		return errors.Wrap(api.ErrNotFound, "peer verify: no handshake")
	}
	if cn.verifyErr != nil {
		return errors.Wrap(api.ErrAuthFailure, "peer verify")
	}
	return nil
}

// peerLeaf returns the peer's leaf certificate.
func (cn *Conn) peerLeaf() (*x509.Certificate, error) {
	switch {
	case cn.stream != nil:
		certs := cn.stream.ConnectionState().PeerCertificates
		if len(certs) == 0 {
			return nil, errors.Wrap(api.ErrNotFound, "no peer certificate")
		}
		return certs[0], nil
	case cn.dgram != nil:
		state := cn.dgram.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			return nil, errors.Wrap(api.ErrNotFound, "no peer certificate")
		}
		cert, err := x509.ParseCertificate(state.PeerCertificates[0])
		if err != nil {
			return nil, errors.Wrapf(api.ErrBadFormat, "peer certificate: %v", err)
		}
		return cert, nil
	default:
		return nil, errors.Wrap(api.ErrNotFound, "no handshake")
	}
}

// PeerFingerprint writes the digest of the peer certificate into md.
func (cn *Conn) PeerFingerprint(alg FingerprintAlg, md []byte) error {
	leaf, err := cn.peerLeaf()
	if err != nil {
		return err
	}
	return certFingerprint(leaf.Raw, alg, md)
}

// PeerCommonName returns the common name of the peer certificate.
func (cn *Conn) PeerCommonName() (string, error) {
	leaf, err := cn.peerLeaf()
	if err != nil {
		return "", err
	}
	if leaf.Subject.CommonName == "" {
		return "", errors.Wrap(api.ErrNotFound, "no common name")
	}
	return leaf.Subject.CommonName, nil
}

// CipherName returns the negotiated cipher suite name of a stream
// connection, empty when unknown.
func (cn *Conn) CipherName() string {
	if cn.stream == nil {
		return ""
	}
	return tls.CipherSuiteName(cn.stream.ConnectionState().CipherSuite)
}

// SessionReused reports whether the handshake resumed a cached session.
func (cn *Conn) SessionReused() bool {
	if cn.stream != nil {
		return cn.stream.ConnectionState().DidResume
	}
	return cn.dgram != nil && cn.resumeHit
}

// SRTPKeyInfo returns the negotiated SRTP suite and both sides' keying
// material, exported under the fixed DTLS-SRTP label.
func (cn *Conn) SRTPKeyInfo() (*SRTPKeyInfo, error) {
	if cn.dgram == nil {
		return nil, errors.Wrap(api.ErrNotSupported, "srtp: not a DTLS connection")
	}
	profile, ok := cn.dgram.SelectedSRTPProtectionProfile()
	if !ok {
		return nil, errors.Wrap(api.ErrNotFound, "srtp: no negotiated profile")
	}
	state := cn.dgram.ConnectionState()
	return exportSRTPKeys(SRTPProfile(profile), &state)
}

// Read reads application data after the handshake.
func (cn *Conn) Read(p []byte) (int, error) {
	if cn.stream != nil {
		return cn.stream.Read(p)
	}
	if cn.dgram != nil {
		return cn.dgram.Read(p)
	}
	return 0, errors.Wrap(api.ErrNotFound, "no handshake")
}

// Write writes application data after the handshake.
func (cn *Conn) Write(p []byte) (int, error) {
	if cn.stream != nil {
		return cn.stream.Write(p)
	}
	if cn.dgram != nil {
		return cn.dgram.Write(p)
	}
	return 0, errors.Wrap(api.ErrNotFound, "no handshake")
}

// Close closes the connection including the underlying transport.
func (cn *Conn) Close() error {
	if cn.stream != nil {
		return cn.stream.Close()
	}
	if cn.dgram != nil {
		return cn.dgram.Close()
	}
	return cn.nc.Close()
}
