// File: tlsx/conn_test.go
// Author: momentics <momentics@gmail.com>
//
// Handshake tests over loopback transports: stream TLS with session
// resumption, DTLS with SRTP keying export.

package tlsx

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/pem"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-reactor/api"
)

func selfSignedContext(t *testing.T, method Method, cn string) *Context {
	t.Helper()
	c, err := New(method, "", "")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.SetSelfSigned(cn))
	return c
}

// serveOneTLS accepts one connection and runs the server handshake plus
// one echo read/write.
func serveOneTLS(t *testing.T, ln net.Listener, srv *Context, done chan<- error) {
	nc, err := ln.Accept()
	if err != nil {
		done <- err
		return
	}
	cn, err := srv.NewConn(nc)
	if err != nil {
		done <- err
		return
	}
	if err := cn.HandshakeServer(context.Background()); err != nil {
		done <- err
		return
	}
	buf := make([]byte, 64)
	n, err := cn.Read(buf)
	if err != nil {
		done <- err
		return
	}
	if _, err := cn.Write(buf[:n]); err != nil {
		done <- err
		return
	}
	done <- nil
}

func TestStreamHandshakeAndPeerInspection(t *testing.T) {
	srv := selfSignedContext(t, MethodTLS, "server.example")
	cli := selfSignedContext(t, MethodTLS, "client.example")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go serveOneTLS(t, ln, srv, done)

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	cn, err := cli.NewConn(nc)
	require.NoError(t, err)
	defer cn.Close()

	require.NoError(t, cn.HandshakeClient(context.Background()))

	_, err = cn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = cn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
	require.NoError(t, <-done)

	name, err := cn.PeerCommonName()
	require.NoError(t, err)
	require.Equal(t, "server.example", name)

	require.NotEmpty(t, cn.CipherName())

	// Peer fingerprint matches the server's local one.
	want := make([]byte, sha256.Size)
	got := make([]byte, sha256.Size)
	require.NoError(t, srv.Fingerprint(FingerprintSHA256, want))
	require.NoError(t, cn.PeerFingerprint(FingerprintSHA256, got))
	require.Equal(t, want, got)

	// The self-signed peer is untrusted: recorded result is AuthFailure.
	require.ErrorIs(t, cn.PeerVerify(), api.ErrAuthFailure)
}

func TestStreamPeerVerifyWithTrustedCA(t *testing.T) {
	srv := selfSignedContext(t, MethodTLS, "server.example")
	cli := selfSignedContext(t, MethodTLS, "client.example")

	capem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.leaf.Raw})
	require.NoError(t, cli.AddCAPem(string(capem)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go serveOneTLS(t, ln, srv, done)

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	cn, err := cli.NewConn(nc)
	require.NoError(t, err)
	defer cn.Close()

	require.NoError(t, cn.HandshakeClient(context.Background()))
	_, err = cn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = cn.Read(buf)
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.NoError(t, cn.PeerVerify())
}

func TestStreamSessionResume(t *testing.T) {
	srv := selfSignedContext(t, MethodTLS, "server.example")
	cli := selfSignedContext(t, MethodTLS, "client.example")
	cli.SetSessionReuse(true)
	// Resumption observable at handshake completion on 1.2.
	cli.SetMaxProtoVersion(tls.VersionTLS12)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dialOnce := func() *Conn {
		done := make(chan error, 1)
		go serveOneTLS(t, ln, srv, done)

		nc, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		cn, err := cli.NewConn(nc)
		require.NoError(t, err)

		require.NoError(t, cn.ReuseSession())
		require.NoError(t, cn.HandshakeClient(context.Background()))

		_, err = cn.Write([]byte("ping"))
		require.NoError(t, err)
		buf := make([]byte, 4)
		_, err = cn.Read(buf)
		require.NoError(t, err)
		require.NoError(t, <-done)
		return cn
	}

	first := dialOnce()
	require.False(t, first.SessionReused())
	require.NoError(t, first.UpdateSessions(), "handshake populated the cache")
	require.NoError(t, first.Close())

	second := dialOnce()
	require.True(t, second.SessionReused())
	require.NoError(t, second.Close())
}

// udpPair cross-connects two UDP sockets on loopback.
func udpPair(t *testing.T) (client, server *net.UDPConn) {
	t.Helper()

	reserve := func() *net.UDPAddr {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		addr := c.LocalAddr().(*net.UDPAddr)
		require.NoError(t, c.Close())
		return addr
	}

	a, b := reserve(), reserve()
	cli, err := net.DialUDP("udp4", a, b)
	require.NoError(t, err)
	srv, err := net.DialUDP("udp4", b, a)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cli.Close()
		_ = srv.Close()
	})
	return cli, srv
}

func TestDTLSHandshakeSRTPKeying(t *testing.T) {
	srvCtx := selfSignedContext(t, MethodDTLS, "dtls.server")
	cliCtx := selfSignedContext(t, MethodDTLS, "dtls.client")
	srvCtx.SetVerifyClient()
	require.NoError(t, srvCtx.SetSRTPProfiles(ProfileAES128CMSHA1_80))
	require.NoError(t, cliCtx.SetSRTPProfiles(ProfileAES128CMSHA1_80))

	cliSock, srvSock := udpPair(t)

	srvConn, err := srvCtx.NewConn(srvSock)
	require.NoError(t, err)
	cliConn, err := cliCtx.NewConn(cliSock)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srvConn.HandshakeServer(ctx) }()
	require.NoError(t, cliConn.HandshakeClient(ctx))
	require.NoError(t, <-done)
	defer cliConn.Close()
	defer srvConn.Close()

	cliInfo, err := cliConn.SRTPKeyInfo()
	require.NoError(t, err)
	require.Equal(t, SuiteAESCM128HMACSHA1_80, cliInfo.Suite)
	require.Len(t, cliInfo.ClientKey, 30)
	require.Len(t, cliInfo.ServerKey, 30)

	srvInfo, err := srvConn.SRTPKeyInfo()
	require.NoError(t, err)
	require.Equal(t, cliInfo.ClientKey, srvInfo.ClientKey)
	require.Equal(t, cliInfo.ServerKey, srvInfo.ServerKey)

	// Export is stable across calls.
	again, err := cliConn.SRTPKeyInfo()
	require.NoError(t, err)
	require.Equal(t, cliInfo.ClientKey, again.ClientKey)

	name, err := srvConn.PeerCommonName()
	require.NoError(t, err)
	require.Equal(t, "dtls.client", name)
}

func TestSRTPKeyInfoOnStreamConn(t *testing.T) {
	cli := selfSignedContext(t, MethodTLS, "client.example")
	cn := &Conn{ctx: cli}
	_, err := cn.SRTPKeyInfo()
	require.ErrorIs(t, err, api.ErrNotSupported)
}
