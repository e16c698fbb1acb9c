// File: tlsx/srtp.go
// Author: momentics <momentics@gmail.com>
//
// DTLS-SRTP protection profiles and keying-material export.

package tlsx

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
)

// srtpLabel is the fixed exporter label of RFC 5764, with empty context.
const srtpLabel = "EXTRACTOR-dtls_srtp"

// SRTPProfile is a DTLS-SRTP protection profile id (RFC 5764 registry).
type SRTPProfile uint16

const (
	// ProfileAES128CMSHA1_80 is SRTP_AES128_CM_SHA1_80.
	ProfileAES128CMSHA1_80 SRTPProfile = 0x0001
	// ProfileAES128CMSHA1_32 is SRTP_AES128_CM_SHA1_32.
	ProfileAES128CMSHA1_32 SRTPProfile = 0x0002
	// ProfileAEADAES128GCM is SRTP_AEAD_AES_128_GCM.
	ProfileAEADAES128GCM SRTPProfile = 0x0007
	// ProfileAEADAES256GCM is SRTP_AEAD_AES_256_GCM.
	ProfileAEADAES256GCM SRTPProfile = 0x0008
)

var srtpProfileNames = map[SRTPProfile]string{
	ProfileAES128CMSHA1_80: "SRTP_AES128_CM_SHA1_80",
	ProfileAES128CMSHA1_32: "SRTP_AES128_CM_SHA1_32",
	ProfileAEADAES128GCM:   "SRTP_AEAD_AES_128_GCM",
	ProfileAEADAES256GCM:   "SRTP_AEAD_AES_256_GCM",
}

func (p SRTPProfile) String() string {
	if n, ok := srtpProfileNames[p]; ok {
		return n
	}
	return "unknown"
}

// SRTPProfileByName resolves a profile from its registry name.
func SRTPProfileByName(name string) (SRTPProfile, bool) {
	for p, n := range srtpProfileNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// SRTPSuite identifies the negotiated SRTP crypto suite.
type SRTPSuite int

const (
	// SuiteAESCM128HMACSHA1_80 is AES_CM_128_HMAC_SHA1_80.
	SuiteAESCM128HMACSHA1_80 SRTPSuite = iota
	// SuiteAESCM128HMACSHA1_32 is AES_CM_128_HMAC_SHA1_32.
	SuiteAESCM128HMACSHA1_32
	// SuiteAES128GCM is AES_128_GCM.
	SuiteAES128GCM
	// SuiteAES256GCM is AES_256_GCM.
	SuiteAES256GCM
)

func (s SRTPSuite) String() string {
	switch s {
	case SuiteAESCM128HMACSHA1_80:
		return "AES_CM_128_HMAC_SHA1_80"
	case SuiteAESCM128HMACSHA1_32:
		return "AES_CM_128_HMAC_SHA1_32"
	case SuiteAES128GCM:
		return "AES_128_GCM"
	case SuiteAES256GCM:
		return "AES_256_GCM"
	default:
		return "unknown"
	}
}

type srtpSize struct {
	suite SRTPSuite
	key   int
	salt  int
}

var srtpSizes = map[SRTPProfile]srtpSize{
	ProfileAES128CMSHA1_80: {SuiteAESCM128HMACSHA1_80, 16, 14},
	ProfileAES128CMSHA1_32: {SuiteAESCM128HMACSHA1_32, 16, 14},
	ProfileAEADAES128GCM:   {SuiteAES128GCM, 16, 12},
	ProfileAEADAES256GCM:   {SuiteAES256GCM, 32, 12},
}

// SRTPKeyInfo is the keying material of one DTLS-SRTP association. Each
// side's material is key || salt of the profile's sizes.
type SRTPKeyInfo struct {
	Suite     SRTPSuite
	ClientKey []byte
	ServerKey []byte
}

// keyingExporter is satisfied by crypto/tls ConnectionState and
// pion/dtls State.
type keyingExporter interface {
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)
}

// exportSRTPKeys derives both sides' key material: 2*(key+salt) exporter
// bytes split as client-key, server-key, client-salt, server-salt.
func exportSRTPKeys(profile SRTPProfile, exp keyingExporter) (*SRTPKeyInfo, error) {
	sz, ok := srtpSizes[profile]
	if !ok {
		return nil, errors.Wrapf(api.ErrNotSupported, "srtp profile %d", profile)
	}
	side := sz.key + sz.salt

	keymat, err := exp.ExportKeyingMaterial(srtpLabel, nil, 2*side)
	if err != nil {
		return nil, errors.Wrapf(api.ErrNotFound, "export keying material: %v", err)
	}

	info := &SRTPKeyInfo{
		Suite:     sz.suite,
		ClientKey: make([]byte, side),
		ServerKey: make([]byte, side),
	}
	p := keymat
	copy(info.ClientKey[:sz.key], p[:sz.key])
	p = p[sz.key:]
	copy(info.ServerKey[:sz.key], p[:sz.key])
	p = p[sz.key:]
	copy(info.ClientKey[sz.key:], p[:sz.salt])
	p = p[sz.salt:]
	copy(info.ServerKey[sz.key:], p[:sz.salt])

	return info, nil
}
