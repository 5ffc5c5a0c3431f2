package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/framer"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/protocol"
)

// fakeTransport is an in-memory, single-consumer stand-in for
// transport.Transport: queued bytes satisfy Recv in order, and every Send is
// recorded for assertions. No device in this test suite ever needs real
// USB/TCP I/O, only scripted protocol replies.
type fakeTransport struct {
	pending  []byte
	sent     [][]byte
	emptyErr error
}

func (f *fakeTransport) Send(buf []byte) error {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	return nil
}

func (f *fakeTransport) Recv(maxLen int) ([]byte, error) {
	if len(f.pending) == 0 {
		if f.emptyErr != nil {
			return nil, f.emptyErr
		}
		return nil, adberr.New(adberr.KindTimeout, "no data queued")
	}
	n := maxLen
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeTransport) SetTimeout(time.Duration) {}
func (f *fakeTransport) Close() error              { return nil }

func (f *fakeTransport) queue(cmd protocol.Command, arg0, arg1 uint32, payload []byte) {
	buf, err := protocol.Encode(cmd, arg0, arg1, payload)
	if err != nil {
		panic(err)
	}
	f.pending = append(f.pending, buf...)
}

func (f *fakeTransport) sentMessage(i int) protocol.Message {
	buf := f.sent[i]
	h, err := protocol.DecodeHeader(buf[:protocol.HeaderSize])
	if err != nil {
		panic(err)
	}
	msg, err := protocol.DecodePayload(h, buf[protocol.HeaderSize:])
	if err != nil {
		panic(err)
	}
	return msg
}

func newTestFSM(t *testing.T) (*FSM, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	f := framer.New(ft)
	ks, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	return New(f, ks), ft
}

func TestConnectTrustedOnFirstToken(t *testing.T) {
	m, ft := newTestFSM(t)

	token := make([]byte, protocol.TokenSize)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	ft.queue(protocol.CmdCnxn, protocol.AVersion, protocol.MaxData, []byte("device::\x00"))

	err := m.Connect()
	require.NoError(t, err)
	assert.Equal(t, Connected, m.State())

	// CNXN, then AUTH SIGNATURE.
	require.Len(t, ft.sent, 2)
	assert.Equal(t, protocol.CmdCnxn, ft.sentMessage(0).Command)
	sig := ft.sentMessage(1)
	assert.Equal(t, protocol.CmdAuth, sig.Command)
	assert.EqualValues(t, protocol.AuthSignature, sig.Arg0)
}

func TestConnectUntrustedThenApproved(t *testing.T) {
	m, ft := newTestFSM(t)

	token := make([]byte, protocol.TokenSize)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token) // signature rejected
	ft.queue(protocol.CmdCnxn, protocol.AVersion, protocol.MaxData, []byte("device::\x00"))

	err := m.Connect()
	require.NoError(t, err)
	assert.Equal(t, Connected, m.State())

	require.Len(t, ft.sent, 3)
	pubkey := ft.sentMessage(2)
	assert.Equal(t, protocol.CmdAuth, pubkey.Command)
	assert.EqualValues(t, protocol.AuthRSAPublicKey, pubkey.Arg0)
}

func TestConnectUntrustedNeverApprovedIsPendingUserApproval(t *testing.T) {
	m, ft := newTestFSM(t)

	token := make([]byte, protocol.TokenSize)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	// No reply queued after public key is sent: Recv returns Timeout.

	err := m.Connect()
	require.Error(t, err)
	assert.Equal(t, adberr.KindPendingUserApproval, adberr.Of(err))
	assert.Equal(t, NotConnected, m.State())
}

func TestConnectIsIdempotentOnceConnected(t *testing.T) {
	m, ft := newTestFSM(t)
	token := make([]byte, protocol.TokenSize)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	ft.queue(protocol.CmdCnxn, protocol.AVersion, protocol.MaxData, nil)
	require.NoError(t, m.Connect())

	sentBefore := len(ft.sent)
	require.NoError(t, m.Connect())
	assert.Equal(t, sentBefore, len(ft.sent), "Connect on an already-CONNECTED FSM must not resend CNXN")
}

func TestWaitForAuthTimeoutResetsAndIsTimeoutKind(t *testing.T) {
	m, _ := newTestFSM(t)
	// No replies queued at all: first Recv (in WAIT_FOR_AUTH) times out.
	err := m.Connect()
	require.Error(t, err)
	assert.Equal(t, adberr.KindTimeout, adberr.Of(err))
	assert.Equal(t, NotConnected, m.State())
}

func TestCloseResetsState(t *testing.T) {
	m, ft := newTestFSM(t)
	token := make([]byte, protocol.TokenSize)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	ft.queue(protocol.CmdCnxn, protocol.AVersion, protocol.MaxData, nil)
	require.NoError(t, m.Connect())
	require.Equal(t, Connected, m.State())

	m.Close()
	assert.Equal(t, NotConnected, m.State())
}
