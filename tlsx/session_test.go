// File: tlsx/session_test.go
// Author: momentics <momentics@gmail.com>

package tlsx

import (
	"net/netip"
	"testing"

	"github.com/pion/dtls/v2"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/internal/sa"
)

func peerKey(t *testing.T, s string) sa.Key {
	t.Helper()
	return sa.FromAddrPort(netip.MustParseAddrPort(s))
}

func newReuseContext(t *testing.T) *Context {
	t.Helper()
	c, err := New(MethodDTLS, "", "")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	c.SetSessionReuse(true)
	return c
}

func TestSessionCacheOneEntryPerPeer(t *testing.T) {
	c := newReuseContext(t)
	peer := peerKey(t, "10.0.0.1:5061")

	require.NoError(t, c.insertDatagram(peer, dtls.Session{ID: []byte{1}, Secret: []byte{0xA}}))
	require.NoError(t, c.insertDatagram(peer, dtls.Session{ID: []byte{2}, Secret: []byte{0xB}}))

	require.Equal(t, 1, c.reuse.cache.entries.Count())
	e := c.reuse.cache.get(peer)
	require.NotNil(t, e)
	require.Equal(t, []byte{2}, e.dgram.ID, "later insert displaces the prior entry")
}

func TestSessionCacheRejectsNonResumable(t *testing.T) {
	c := newReuseContext(t)
	peer := peerKey(t, "10.0.0.1:5061")

	err := c.insertDatagram(peer, dtls.Session{})
	require.ErrorIs(t, err, api.ErrInvalid)
	require.Nil(t, c.reuse.cache.get(peer))

	err = c.insertStream(peer, nil)
	require.ErrorIs(t, err, api.ErrInvalid)
	require.Nil(t, c.reuse.cache.get(peer))
}

func TestSessionCacheExactPeerMatch(t *testing.T) {
	c := newReuseContext(t)

	require.NoError(t, c.insertDatagram(peerKey(t, "10.0.0.1:5061"),
		dtls.Session{ID: []byte{1}, Secret: []byte{0xA}}))

	require.Nil(t, c.reuse.cache.get(peerKey(t, "10.0.0.1:5062")))
	require.Nil(t, c.reuse.cache.get(peerKey(t, "10.0.0.2:5061")))
	require.Nil(t, c.reuse.cache.get(peerKey(t, "[::ffff:10.0.0.1]:5061")),
		"v4-mapped peer is a different key")
	require.NotNil(t, c.reuse.cache.get(peerKey(t, "10.0.0.1:5061")))
}

func TestSessionCacheRemoveByBlobIdentity(t *testing.T) {
	c := newReuseContext(t)
	p1 := peerKey(t, "10.0.0.1:5061")
	p2 := peerKey(t, "10.0.0.2:5061")

	require.NoError(t, c.insertDatagram(p1, dtls.Session{ID: []byte{1}, Secret: []byte{0xA}}))
	require.NoError(t, c.insertDatagram(p2, dtls.Session{ID: []byte{2}, Secret: []byte{0xB}}))

	// The library's remove notification identifies the session blob.
	c.reuse.cache.removeDatagram([]byte{1})
	require.Nil(t, c.reuse.cache.get(p1))
	require.NotNil(t, c.reuse.cache.get(p2))
}

func TestSessionCacheFlushOnClose(t *testing.T) {
	c, err := New(MethodDTLS, "", "")
	require.NoError(t, err)
	c.SetSessionReuse(true)

	require.NoError(t, c.insertDatagram(peerKey(t, "10.0.0.1:5061"),
		dtls.Session{ID: []byte{1}, Secret: []byte{0xA}}))
	c.Close()
	require.Equal(t, 0, c.reuse.cache.entries.Count())
}

func TestDgramStoreAdapter(t *testing.T) {
	c := newReuseContext(t)
	cn := &Conn{ctx: c, peer: peerKey(t, "10.0.0.1:5061")}
	store := &dgramSessionStore{ctx: c, conn: cn}

	// Non-resumable sessions must not fail the handshake path.
	require.NoError(t, store.Set(nil, dtls.Session{}))
	require.Nil(t, c.reuse.cache.get(cn.peer))

	require.NoError(t, store.Set(nil, dtls.Session{ID: []byte{7}, Secret: []byte{0xC}}))

	got, err := store.Get(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{7}, got.ID)
	require.True(t, cn.resumeHit, "a cache hit marks the connection resumed")

	require.NoError(t, store.Del(nil))
	require.Nil(t, c.reuse.cache.get(cn.peer))
}

func TestReuseDisabledByDefault(t *testing.T) {
	c, err := New(MethodTLS, "", "")
	require.NoError(t, err)
	defer c.Close()
	require.False(t, c.SessionReuseEnabled())

	c.SetSessionReuse(true)
	require.True(t, c.SessionReuseEnabled())
	c.SetSessionReuse(false)
	require.False(t, c.SessionReuseEnabled())
}
