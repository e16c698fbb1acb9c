// File: tlsx/purpose.go
// Author: momentics <momentics@gmail.com>
//
// Certificate verification purposes addressed by their OpenSSL short
// names, mapped onto extended key usages for chain verification.

package tlsx

import (
	"crypto/x509"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
)

var purposeByName = map[string][]x509.ExtKeyUsage{
	"sslclient":     {x509.ExtKeyUsageClientAuth},
	"sslserver":     {x509.ExtKeyUsageServerAuth},
	"nssslserver":   {x509.ExtKeyUsageServerAuth},
	"smimesign":     {x509.ExtKeyUsageEmailProtection},
	"smimeencrypt":  {x509.ExtKeyUsageEmailProtection},
	"crlsign":       {x509.ExtKeyUsageAny},
	"any":           {x509.ExtKeyUsageAny},
	"ocsphelper":    {x509.ExtKeyUsageOCSPSigning},
	"timestampsign": {x509.ExtKeyUsageTimeStamping},
}

// SetVerifyPurpose selects the certificate purpose checked during peer
// chain verification, addressed by short name.
func (c *Context) SetVerifyPurpose(purpose string) error {
	usages, ok := purposeByName[purpose]
	if !ok {
		return errors.Wrapf(api.ErrBadArgument, "unknown purpose %q", purpose)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purposes = usages
	return nil
}
