// File: tlsx/cert.go
// Author: momentics <momentics@gmail.com>
//
// Local credential installation and self-signed certificate generation.

package tlsx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
)

// install replaces the context's active credential; the prior one is
// dropped.
func (c *Context) install(leaf *x509.Certificate, chain [][]byte, key crypto.PrivateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cert = &tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        leaf,
	}
	c.leaf = leaf
}

// SetCertificateX509 installs a pre-parsed certificate and private key.
func (c *Context) SetCertificateX509(leaf *x509.Certificate, key crypto.PrivateKey) error {
	if leaf == nil || key == nil {
		return errors.Wrap(api.ErrBadArgument, "set_certificate")
	}
	c.install(leaf, [][]byte{leaf.Raw}, key)
	return nil
}

// SetCertificate installs a credential from PEM text carrying both the
// certificate chain and the private key.
func (c *Context) SetCertificate(pemData []byte) error {
	return c.SetCertificatePEM(pemData, nil)
}

// SetCertificatePEM installs a credential from PEM text. A nil key reads
// the private key from the certificate PEM.
func (c *Context) SetCertificatePEM(certPEM, keyPEM []byte) error {
	if len(certPEM) == 0 {
		return errors.Wrap(api.ErrBadArgument, "set_certificate_pem")
	}
	if keyPEM == nil {
		keyPEM = certPEM
	}

	var chain [][]byte
	var leaf *x509.Certificate
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return errors.Wrapf(api.ErrBadFormat, "certificate: %v", err)
		}
		if leaf == nil {
			leaf = cert
		}
		chain = append(chain, block.Bytes)
	}
	if leaf == nil {
		return errors.Wrap(api.ErrBadFormat, "no certificate in PEM")
	}

	key, err := c.parseKeyPEM(keyPEM)
	if err != nil {
		return err
	}

	c.install(leaf, chain, key)
	return nil
}

// SetCertificateDER installs a credential from DER bytes tagged with the
// private key type.
func (c *Context) SetCertificateDER(keytype KeyType, certDER, keyDER []byte) error {
	if len(certDER) == 0 || len(keyDER) == 0 {
		return errors.Wrap(api.ErrBadArgument, "set_certificate_der")
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return errors.Wrapf(api.ErrBadFormat, "certificate: %v", err)
	}

	var key crypto.PrivateKey
	switch keytype {
	case KeyRSA:
		key, err = x509.ParsePKCS1PrivateKey(keyDER)
	case KeyEC:
		key, err = x509.ParseECPrivateKey(keyDER)
	default:
		return errors.Wrapf(api.ErrBadArgument, "key type %d", keytype)
	}
	if err != nil {
		return errors.Wrapf(api.ErrBadFormat, "private key: %v", err)
	}

	c.install(leaf, [][]byte{certDER}, key)
	return nil
}

// parseKeyPEM extracts the first private key from PEM text, decrypting
// with the context password when the block is encrypted.
func (c *Context) parseKeyPEM(keyPEM []byte) (crypto.PrivateKey, error) {
	for rest := keyPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		der := block.Bytes
		//nolint:staticcheck // PEM encryption kept for OpenSSL-produced key files.
		if x509.IsEncryptedPEMBlock(block) {
			var err error
			//nolint:staticcheck
			der, err = x509.DecryptPEMBlock(block, []byte(c.pass))
			if err != nil {
				return nil, errors.Wrapf(api.ErrBadFormat, "decrypt key: %v", err)
			}
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(der)
			if err != nil {
				return nil, errors.Wrapf(api.ErrBadFormat, "rsa key: %v", err)
			}
			return key, nil
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(der)
			if err != nil {
				return nil, errors.Wrapf(api.ErrBadFormat, "ec key: %v", err)
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(der)
			if err != nil {
				return nil, errors.Wrapf(api.ErrBadFormat, "pkcs8 key: %v", err)
			}
			return key, nil
		}
	}
	return nil, errors.Wrap(api.ErrBadFormat, "no private key in PEM")
}

// SetSelfSigned generates and installs a self-signed RSA-2048 certificate
// bound to the given Common Name.
func (c *Context) SetSelfSigned(cn string) error {
	return c.SetSelfSignedRSA(cn, 2048)
}

// SetSelfSignedRSA generates and installs a self-signed RSA certificate
// with the chosen modulus length.
func (c *Context) SetSelfSignedRSA(cn string, bits int) error {
	if cn == "" {
		return errors.Wrap(api.ErrBadArgument, "selfsigned: no common name")
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return errors.Wrap(err, "selfsigned: rsa")
	}
	return c.selfSign(cn, key.Public(), key, x509.SHA256WithRSA)
}

// SetSelfSignedEC generates and installs a self-signed EC certificate on
// the named curve (prime256v1/P-256, secp384r1/P-384, secp521r1/P-521).
func (c *Context) SetSelfSignedEC(cn, curve string) error {
	if cn == "" {
		return errors.Wrap(api.ErrBadArgument, "selfsigned: no common name")
	}
	var cv elliptic.Curve
	switch curve {
	case "prime256v1", "secp256r1", "P-256":
		cv = elliptic.P256()
	case "secp384r1", "P-384":
		cv = elliptic.P384()
	case "secp521r1", "P-521":
		cv = elliptic.P521()
	default:
		return errors.Wrapf(api.ErrNotSupported, "curve %q", curve)
	}
	key, err := ecdsa.GenerateKey(cv, rand.Reader)
	if err != nil {
		return errors.Wrap(err, "selfsigned: ec")
	}
	return c.selfSign(cn, key.Public(), key, x509.ECDSAWithSHA256)
}

// selfSign issues an X.509 v3 certificate with subject == issuer, a
// random 32-bit serial and a validity window of one year before now to
// ten years after, signed with SHA-256.
func (c *Context) selfSign(cn string, pub crypto.PublicKey, key crypto.PrivateKey, alg x509.SignatureAlgorithm) error {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return errors.Wrap(err, "selfsigned: serial")
	}
	serial := new(big.Int).SetUint64(uint64(binary.BigEndian.Uint32(raw[:])))

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: cn},
		NotBefore:          now.Add(-365 * 24 * time.Hour),
		NotAfter:           now.Add(10 * 365 * 24 * time.Hour),
		SignatureAlgorithm: alg,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, key)
	if err != nil {
		return errors.Wrap(err, "selfsigned: create certificate")
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return errors.Wrap(err, "selfsigned: reparse")
	}

	c.install(leaf, [][]byte{der}, key)
	return nil
}
