// File: tlsx/srtp_test.go
// Author: momentics <momentics@gmail.com>

package tlsx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-reactor/api"
)

// fakeExporter yields a deterministic byte ramp so the split layout is
// checkable.
type fakeExporter struct {
	calls int
}

func (f *fakeExporter) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	f.calls++
	if label != "EXTRACTOR-dtls_srtp" || context != nil {
		panic("unexpected exporter input")
	}
	out := make([]byte, length)
	for i := range out {
		out[i] = byte(i)
	}
	return out, nil
}

func TestSRTPKeySizes(t *testing.T) {
	cases := []struct {
		profile SRTPProfile
		suite   SRTPSuite
		key     int
		salt    int
	}{
		{ProfileAES128CMSHA1_80, SuiteAESCM128HMACSHA1_80, 16, 14},
		{ProfileAES128CMSHA1_32, SuiteAESCM128HMACSHA1_32, 16, 14},
		{ProfileAEADAES128GCM, SuiteAES128GCM, 16, 12},
		{ProfileAEADAES256GCM, SuiteAES256GCM, 32, 12},
	}

	for _, tc := range cases {
		t.Run(tc.profile.String(), func(t *testing.T) {
			info, err := exportSRTPKeys(tc.profile, &fakeExporter{})
			require.NoError(t, err)
			require.Equal(t, tc.suite, info.Suite)
			require.Len(t, info.ClientKey, tc.key+tc.salt)
			require.Len(t, info.ServerKey, tc.key+tc.salt)
		})
	}
}

func TestSRTPKeySplitLayout(t *testing.T) {
	// Export order is client-key, server-key, client-salt, server-salt;
	// each side's material is key || salt.
	info, err := exportSRTPKeys(ProfileAES128CMSHA1_80, &fakeExporter{})
	require.NoError(t, err)

	ramp := func(from, n int) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = byte(from + i)
		}
		return out
	}

	require.Equal(t, ramp(0, 16), info.ClientKey[:16])
	require.Equal(t, ramp(16, 16), info.ServerKey[:16])
	require.Equal(t, ramp(32, 14), info.ClientKey[16:])
	require.Equal(t, ramp(46, 14), info.ServerKey[16:])
}

func TestSRTPExportDeterministic(t *testing.T) {
	exp := &fakeExporter{}
	a, err := exportSRTPKeys(ProfileAEADAES256GCM, exp)
	require.NoError(t, err)
	b, err := exportSRTPKeys(ProfileAEADAES256GCM, exp)
	require.NoError(t, err)
	require.Equal(t, a.ClientKey, b.ClientKey)
	require.Equal(t, a.ServerKey, b.ServerKey)
	require.Equal(t, 2, exp.calls)
}

func TestSRTPUnknownProfile(t *testing.T) {
	_, err := exportSRTPKeys(SRTPProfile(0x00FF), &fakeExporter{})
	require.ErrorIs(t, err, api.ErrNotSupported)
}

func TestSRTPProfileNames(t *testing.T) {
	p, ok := SRTPProfileByName("SRTP_AES128_CM_SHA1_80")
	require.True(t, ok)
	require.Equal(t, ProfileAES128CMSHA1_80, p)

	_, ok = SRTPProfileByName("SRTP_NULL_NULL")
	require.False(t, ok)

	require.Equal(t, "AES_CM_128_HMAC_SHA1_80", SuiteAESCM128HMACSHA1_80.String())
}
