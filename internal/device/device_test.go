package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/protocol"
	"github.com/shangdawei/go-adb-client/internal/stream"
)

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
	// Like a real Transport, block for a while before timing out: tests
	// queue a reply only after they see the host's frame land in sent.
	deadline := time.Now().Add(time.Second)
	for len(f.pending) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
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

func connectedDevice(t *testing.T) (*Device, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	ks, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	dev := New(ft, ks, "test-serial")

	token := make([]byte, protocol.TokenSize)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	ft.queue(protocol.CmdCnxn, protocol.AVersion, protocol.MaxData, nil)
	require.NoError(t, dev.Connect())
	return dev, ft
}

func TestWithStreamRequiresConnected(t *testing.T) {
	ft := &fakeTransport{}
	ks, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	dev := New(ft, ks, "unconnected")

	err = dev.WithStream("shell:ls", func(*stream.Stream) error { return nil })
	require.Error(t, err)
	assert.Equal(t, adberr.KindProtocolError, adberr.Of(err))
}

func TestWithStreamClosesStreamOnSuccess(t *testing.T) {
	dev, ft := connectedDevice(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- dev.WithStream("shell:echo hi", func(s *stream.Stream) error {
			return nil
		})
	}()

	for len(ft.sent) < 3 { // CNXN, AUTH SIGNATURE, OPEN
		time.Sleep(time.Millisecond)
	}
	openMsg := ft.sentMessage(2)
	require.Equal(t, protocol.CmdOpen, openMsg.Command)
	ft.queue(protocol.CmdOkay, 99, openMsg.Arg0, nil)
	ft.queue(protocol.CmdClse, 99, openMsg.Arg0, nil)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WithStream did not return")
	}
}

func TestWithStreamClosesStreamEvenOnCallbackError(t *testing.T) {
	dev, ft := connectedDevice(t)

	fnErr := errors.New("callback failed")
	errCh := make(chan error, 1)
	go func() {
		errCh <- dev.WithStream("shell:boom", func(s *stream.Stream) error {
			return fnErr
		})
	}()

	for len(ft.sent) < 3 {
		time.Sleep(time.Millisecond)
	}
	openMsg := ft.sentMessage(2)
	ft.queue(protocol.CmdOkay, 1, openMsg.Arg0, nil)
	ft.queue(protocol.CmdClse, 1, openMsg.Arg0, nil)

	select {
	case err := <-errCh:
		assert.Equal(t, fnErr, err)
	case <-time.After(time.Second):
		t.Fatal("WithStream did not return")
	}
}
