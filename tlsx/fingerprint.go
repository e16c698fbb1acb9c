// File: tlsx/fingerprint.go
// Author: momentics <momentics@gmail.com>
//
// Certificate fingerprints. A buffer smaller than the digest yields
// Overflow and the buffer is left untouched.

package tlsx

import (
	"crypto/sha1"
	"crypto/sha256"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
)

// FingerprintAlg selects the fingerprint digest.
type FingerprintAlg int

const (
	// FingerprintSHA1 is a 20-byte SHA-1 digest.
	FingerprintSHA1 FingerprintAlg = iota
	// FingerprintSHA256 is a 32-byte SHA-256 digest.
	FingerprintSHA256
)

// Size returns the digest length in bytes.
func (a FingerprintAlg) Size() int {
	switch a {
	case FingerprintSHA1:
		return sha1.Size
	case FingerprintSHA256:
		return sha256.Size
	default:
		return 0
	}
}

func certFingerprint(der []byte, alg FingerprintAlg, md []byte) error {
	switch alg {
	case FingerprintSHA1:
		if len(md) < sha1.Size {
			return errors.Wrap(api.ErrOverflow, "fingerprint")
		}
		sum := sha1.Sum(der)
		copy(md, sum[:])
	case FingerprintSHA256:
		if len(md) < sha256.Size {
			return errors.Wrap(api.ErrOverflow, "fingerprint")
		}
		sum := sha256.Sum256(der)
		copy(md, sum[:])
	default:
		return errors.Wrapf(api.ErrNotSupported, "fingerprint alg %d", alg)
	}
	return nil
}

// Fingerprint writes the digest of the local certificate into md.
func (c *Context) Fingerprint(alg FingerprintAlg, md []byte) error {
	c.mu.Lock()
	leaf := c.leaf
	c.mu.Unlock()
	if leaf == nil {
		return errors.Wrap(api.ErrBadArgument, "fingerprint: no certificate")
	}
	return certFingerprint(leaf.Raw, alg, md)
}
