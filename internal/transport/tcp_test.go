package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shangdawei/go-adb-client/internal/adberr"
)

func listenLoopback(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().String()
}

func TestOpenTCPSendRecvRoundTrip(t *testing.T) {
	ln, addr := listenLoopback(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tr, err := OpenTCP(addr)
	require.NoError(t, err)
	defer tr.Close()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted connection")
	}
	defer server.Close()

	require.NoError(t, tr.Send([]byte("hello")))
	buf := make([]byte, 5)
	_, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	_, err = server.Write([]byte("world"))
	require.NoError(t, err)

	tr.SetTimeout(time.Second)
	got, err := tr.Recv(5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}

func TestOpenTCPDialFailureIsNoDeviceKind(t *testing.T) {
	ln, addr := listenLoopback(t)
	ln.Close() // nothing listening on addr anymore

	_, err := OpenTCP(addr)
	require.Error(t, err)
	assert.Equal(t, adberr.KindNoDevice, adberr.Of(err))
}

func TestRecvTimesOutWhenPeerSendsNothing(t *testing.T) {
	ln, addr := listenLoopback(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tr, err := OpenTCP(addr)
	require.NoError(t, err)
	defer tr.Close()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted connection")
	}
	defer server.Close()

	tr.SetTimeout(50 * time.Millisecond)
	_, err = tr.Recv(64)
	require.Error(t, err)
	assert.Equal(t, adberr.KindTimeout, adberr.Of(err))
}
