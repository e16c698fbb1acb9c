// File: tlsx/session.go
// Author: momentics <momentics@gmail.com>
//
// Peer-address-keyed session cache for TLS resumption. At most one entry
// per peer; entries own their session blob; non-resumable sessions are
// never inserted.

package tlsx

import (
	"bytes"
	"crypto/tls"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pion/dtls/v2"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/internal/sa"
)

// sessionEntry owns one cached session blob for a peer. Exactly one of
// stream/dgram is set.
type sessionEntry struct {
	peer   sa.Key
	stream *tls.ClientSessionState
	dgram  *dtls.Session
}

type sessionCache struct {
	entries cmap.ConcurrentMap[string, *sessionEntry]
}

func newSessionCache() *sessionCache {
	return &sessionCache{entries: cmap.New[*sessionEntry]()}
}

// put replaces any prior entry for the same peer.
func (sc *sessionCache) put(e *sessionEntry) {
	sc.entries.Set(e.peer.String(), e)
}

// get is an exact peer-address match.
func (sc *sessionCache) get(peer sa.Key) *sessionEntry {
	e, ok := sc.entries.Get(peer.String())
	if !ok {
		return nil
	}
	return e
}

func (sc *sessionCache) remove(peer sa.Key) {
	sc.entries.Remove(peer.String())
}

// removeStream drops the entry whose stream blob identity matches,
// feeding the library's remove notification.
func (sc *sessionCache) removeStream(cs *tls.ClientSessionState) {
	var victim string
	sc.entries.IterCb(func(key string, e *sessionEntry) {
		if e.stream == cs {
			victim = key
		}
	})
	if victim != "" {
		sc.entries.Remove(victim)
	}
}

// removeDatagram drops the entry whose DTLS session id matches.
func (sc *sessionCache) removeDatagram(id []byte) {
	var victim string
	sc.entries.IterCb(func(key string, e *sessionEntry) {
		if e.dgram != nil && bytes.Equal(e.dgram.ID, id) {
			victim = key
		}
	})
	if victim != "" {
		sc.entries.Remove(victim)
	}
}

func (sc *sessionCache) flush() {
	sc.entries.Clear()
}

// insertStream caches a stream session for peer. A nil session is the
// library's way of flagging a non-resumable or invalidated session and is
// rejected.
func (c *Context) insertStream(peer sa.Key, cs *tls.ClientSessionState) error {
	if cs == nil {
		return errors.Wrap(api.ErrInvalid, "session not resumable")
	}
	c.reuse.cache.put(&sessionEntry{peer: peer, stream: cs})
	return nil
}

// insertDatagram caches a DTLS session for peer. Sessions without an id
// cannot be resumed and are rejected.
func (c *Context) insertDatagram(peer sa.Key, s dtls.Session) error {
	if len(s.ID) == 0 {
		return errors.Wrap(api.ErrInvalid, "session not resumable")
	}
	c.reuse.cache.put(&sessionEntry{peer: peer, dgram: &s})
	return nil
}

// streamSessionCache adapts the per-context cache to crypto/tls's
// ClientSessionCache for one connection: the library's session key is
// replaced by the connection's peer address, Put feeds the "new session"
// callback and a nil Put the "remove session" one.
type streamSessionCache struct {
	ctx  *Context
	conn *Conn
}

func (s *streamSessionCache) Get(string) (*tls.ClientSessionState, bool) {
	e := s.ctx.reuse.cache.get(s.conn.peer)
	if e == nil || e.stream == nil {
		return nil, false
	}
	s.conn.resumeHit = true
	return e.stream, true
}

func (s *streamSessionCache) Put(_ string, cs *tls.ClientSessionState) {
	if cs == nil {
		if e := s.ctx.reuse.cache.get(s.conn.peer); e != nil && e.stream != nil {
			s.ctx.reuse.cache.removeStream(e.stream)
		}
		return
	}
	_ = s.ctx.insertStream(s.conn.peer, cs)
}

// dgramSessionStore adapts the per-context cache to pion/dtls's
// SessionStore for one connection, keyed by peer address instead of the
// library's derived key.
type dgramSessionStore struct {
	ctx  *Context
	conn *Conn
}

func (s *dgramSessionStore) Set(_ []byte, sess dtls.Session) error {
	// A non-resumable session is rejected from the cache but must not
	// fail the handshake that produced it.
	if err := s.ctx.insertDatagram(s.conn.peer, sess); err != nil && !errors.Is(err, api.ErrInvalid) {
		return err
	}
	return nil
}

func (s *dgramSessionStore) Get([]byte) (dtls.Session, error) {
	e := s.ctx.reuse.cache.get(s.conn.peer)
	if e == nil || e.dgram == nil {
		return dtls.Session{}, nil
	}
	s.conn.resumeHit = true
	return *e.dgram, nil
}

func (s *dgramSessionStore) Del([]byte) error {
	e := s.ctx.reuse.cache.get(s.conn.peer)
	if e != nil && e.dgram != nil {
		s.ctx.reuse.cache.removeDatagram(e.dgram.ID)
	}
	return nil
}
