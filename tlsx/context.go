// File: tlsx/context.go
// Author: momentics <momentics@gmail.com>
//
// TLS context: credential container and session-reuse configuration.

package tlsx

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
)

// Method selects the handshake family of a context.
type Method int

const (
	// MethodTLS negotiates stream TLS, any version within bounds.
	MethodTLS Method = iota
	// MethodSSLv23 is the historical alias for MethodTLS.
	MethodSSLv23
	// MethodDTLS negotiates datagram TLS. Every DTLS method runs a DTLS 1.2
	// handshake (pion/dtls); the method value does not pin a version.
	MethodDTLS
	// MethodDTLSv1 is accepted as a DTLS method; it handshakes like
	// MethodDTLS and does not restrict the version to DTLS 1.0.
	MethodDTLSv1
	// MethodDTLSv1_2 is accepted as a DTLS method; it handshakes like
	// MethodDTLS.
	MethodDTLSv1_2
)

// Datagram reports whether the method is a DTLS one.
func (m Method) Datagram() bool {
	return m == MethodDTLS || m == MethodDTLSv1 || m == MethodDTLSv1_2
}

// KeyType tags DER-encoded private keys.
type KeyType int

const (
	// KeyRSA is a PKCS#1 RSA private key.
	KeyRSA KeyType = iota
	// KeyEC is a SEC1 EC private key.
	KeyEC
)

// Context is a credential container: certificate, private key, trust
// store, verification policy, cipher list, protocol-version bounds, SRTP
// profile list and the session-reuse cache.
type Context struct {
	mu sync.Mutex

	method     Method
	minVersion uint16
	maxVersion uint16

	cert *tls.Certificate
	leaf *x509.Certificate

	roots *x509.CertPool
	crls  []*x509.RevocationList

	verifyServer bool
	verifyClient bool
	purposes     []x509.ExtKeyUsage

	ciphers      []uint16
	srtpProfiles []SRTPProfile

	pass string

	// ticketKey is shared by every server handshake of this context so a
	// session ticket issued on one connection resumes on the next.
	ticketKey [32]byte

	reuse struct {
		enabled bool
		cache   *sessionCache
	}
}

// New allocates a TLS context for the given method. keyfile optionally
// names a PEM file carrying the certificate chain and private key; a
// non-empty password decrypts an encrypted key and is retained by the
// context for the decryption callback's lifetime.
func New(method Method, keyfile, password string) (*Context, error) {
	switch method {
	case MethodTLS, MethodSSLv23, MethodDTLS, MethodDTLSv1, MethodDTLSv1_2:
	default:
		return nil, errors.Wrapf(api.ErrNotSupported, "tls method %d", method)
	}

	c := &Context{
		method:       method,
		verifyServer: true,
	}
	c.reuse.cache = newSessionCache()
	if _, err := rand.Read(c.ticketKey[:]); err != nil {
		return nil, errors.Wrap(err, "session ticket key")
	}

	if keyfile != "" {
		c.pass = password
		pemData, err := os.ReadFile(keyfile)
		if err != nil {
			return nil, errors.Wrapf(api.ErrNotFound, "read key file %s: %v", keyfile, err)
		}
		if err := c.SetCertificatePEM(pemData, nil); err != nil {
			return nil, errors.Wrapf(err, "key file %s", keyfile)
		}
	}
	return c, nil
}

// Close releases the context's session cache and credential references.
// Connections must not outlive their context.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reuse.cache.flush()
	c.cert = nil
	c.leaf = nil
	c.pass = ""
}

// Method returns the context's handshake method.
func (c *Context) Method() Method { return c.method }

// AddCA loads trusted CA certificates from a PEM file.
func (c *Context) AddCA(cafile string) error {
	return c.AddCAPath(cafile, "")
}

// AddCAPath loads trusted CA certificates from a PEM file and/or a
// directory of PEM files.
func (c *Context) AddCAPath(cafile, capath string) error {
	if cafile == "" && capath == "" {
		return errors.Wrap(api.ErrBadArgument, "add_ca")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roots == nil {
		c.roots = x509.NewCertPool()
	}

	if cafile != "" {
		pemData, err := os.ReadFile(cafile)
		if err != nil {
			return errors.Wrapf(api.ErrNotFound, "CA file %s: %v", cafile, err)
		}
		if !c.roots.AppendCertsFromPEM(pemData) {
			return errors.Wrapf(api.ErrBadFormat, "CA file %s", cafile)
		}
	}

	if capath != "" {
		fi, err := os.Stat(capath)
		if err != nil {
			return errors.Wrapf(api.ErrNotFound, "CA path %s: %v", capath, err)
		}
		if !fi.IsDir() {
			return errors.Wrapf(api.ErrNotADirectory, "CA path %s", capath)
		}
		files, err := os.ReadDir(capath)
		if err != nil {
			return errors.Wrapf(api.ErrNotFound, "CA path %s: %v", capath, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			pemData, err := os.ReadFile(filepath.Join(capath, f.Name()))
			if err != nil {
				continue
			}
			c.roots.AppendCertsFromPEM(pemData)
		}
	}
	return nil
}

// AddCAPem adds one trusted CA certificate given as PEM text.
func (c *Context) AddCAPem(capem string) error {
	if capem == "" {
		return errors.Wrap(api.ErrBadArgument, "add_capem")
	}
	block, _ := pem.Decode([]byte(capem))
	if block == nil || block.Type != "CERTIFICATE" {
		return errors.Wrap(api.ErrBadFormat, "add_capem")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return errors.Wrapf(api.ErrBadFormat, "add_capem: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roots == nil {
		c.roots = x509.NewCertPool()
	}
	c.roots.AddCert(cert)
	return nil
}

// AddCRLPem adds a trusted CRL given as PEM text. CRLs are consulted
// during peer chain verification.
func (c *Context) AddCRLPem(crlpem string) error {
	if crlpem == "" {
		return errors.Wrap(api.ErrBadArgument, "add_crlpem")
	}
	block, _ := pem.Decode([]byte(crlpem))
	if block == nil {
		return errors.Wrap(api.ErrBadFormat, "add_crlpem")
	}
	crl, err := x509.ParseRevocationList(block.Bytes)
	if err != nil {
		return errors.Wrapf(api.ErrBadFormat, "add_crlpem: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.crls = append(c.crls, crl)
	return nil
}

// SetVerifyClient makes server-side handshakes request a certificate from
// the client with a trust-all peer callback, as used by fingerprint-based
// flows such as DTLS-SRTP. The chain result remains available through
// Conn.PeerVerify.
func (c *Context) SetVerifyClient() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyClient = true
}

// DisableVerifyServer disables default server verification for following
// connections.
func (c *Context) DisableVerifyServer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyServer = false
}

// SetCiphers installs the ordered cipher list by IANA suite name.
func (c *Context) SetCiphers(names []string) error {
	if len(names) == 0 {
		return errors.Wrap(api.ErrBadArgument, "set_ciphers")
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherID(name)
		if !ok {
			return errors.Wrapf(api.ErrProtocol, "unknown cipher %q", name)
		}
		ids = append(ids, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ciphers = ids
	return nil
}

func cipherID(name string) (uint16, bool) {
	for _, s := range tls.CipherSuites() {
		if s.Name == name {
			return s.ID, true
		}
	}
	for _, s := range tls.InsecureCipherSuites() {
		if s.Name == name {
			return s.ID, true
		}
	}
	return 0, false
}

// SetMinProtoVersion bounds the negotiated protocol version from below,
// e.g. tls.VersionTLS12.
func (c *Context) SetMinProtoVersion(v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minVersion = v
}

// SetMaxProtoVersion bounds the negotiated protocol version from above.
func (c *Context) SetMaxProtoVersion(v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxVersion = v
}

// SetSRTPProfiles installs the supported SRTP protection profile list
// offered during DTLS-SRTP negotiation.
func (c *Context) SetSRTPProfiles(profiles ...SRTPProfile) error {
	if len(profiles) == 0 {
		return errors.Wrap(api.ErrBadArgument, "set_srtp")
	}
	for _, p := range profiles {
		if _, ok := srtpSizes[p]; !ok {
			return errors.Wrapf(api.ErrNotSupported, "srtp profile %d", p)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.srtpProfiles = append([]SRTPProfile(nil), profiles...)
	return nil
}

// SetSessionReuse enables or disables the session cache. Default:
// disabled.
func (c *Context) SetSessionReuse(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reuse.enabled = enabled
	if !enabled {
		return
	}
	if c.reuse.cache == nil {
		c.reuse.cache = newSessionCache()
	}
}

// SessionReuseEnabled reports whether the session cache is enabled.
func (c *Context) SessionReuseEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reuse.enabled
}

// Issuer returns the issuer of the local certificate in RFC 2253 form.
func (c *Context) Issuer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaf == nil {
		return "", errors.Wrap(api.ErrNotFound, "issuer: no certificate")
	}
	return c.leaf.Issuer.String(), nil
}

// Subject returns the subject of the local certificate in RFC 2253 form.
func (c *Context) Subject() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaf == nil {
		return "", errors.Wrap(api.ErrNotFound, "subject: no certificate")
	}
	return c.leaf.Subject.String(), nil
}

// streamConfig assembles the crypto/tls configuration for one connection.
func (c *Context) streamConfig() *tls.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := &tls.Config{
		MinVersion:   c.minVersion,
		MaxVersion:   c.maxVersion,
		CipherSuites: append([]uint16(nil), c.ciphers...),
		RootCAs:      c.roots,
		ClientCAs:    c.roots,

		SessionTicketKey: c.ticketKey,
	}
	if c.cert != nil {
		cfg.Certificates = []tls.Certificate{*c.cert}
	}
	if c.verifyClient {
		cfg.ClientAuth = tls.RequestClientCert
	}
	return cfg
}
