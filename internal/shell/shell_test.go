package shell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/protocol"
)

type fakeTransport struct {
	pending []byte
	sent    [][]byte
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

func connectedDevice(t *testing.T) (*device.Device, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	ks, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	dev := device.New(ft, ks, "test-serial")

	token := make([]byte, protocol.TokenSize)
	ft.queue(protocol.CmdAuth, protocol.AuthToken, 0, token)
	ft.queue(protocol.CmdCnxn, protocol.AVersion, protocol.MaxData, nil)
	require.NoError(t, dev.Connect())
	return dev, ft
}

func TestRunConcatenatesChunksUntilClse(t *testing.T) {
	dev, ft := connectedDevice(t)

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := Run(dev, "echo hi", false)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	for len(ft.sent) < 3 { // CNXN, AUTH SIGNATURE, OPEN
		time.Sleep(time.Millisecond)
	}
	openMsg := ft.sentMessage(2)
	require.Equal(t, protocol.CmdOpen, openMsg.Command)
	localID := openMsg.Arg0

	ft.queue(protocol.CmdOkay, 1, localID, nil)
	ft.queue(protocol.CmdWrte, 1, localID, []byte("hi"))
	ft.queue(protocol.CmdWrte, 1, localID, []byte(" there"))
	ft.queue(protocol.CmdClse, 1, localID, nil)

	select {
	case out := <-resultCh:
		assert.Equal(t, "hi there", out)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunOnStreamRefusedReturnsStreamRefusedKind(t *testing.T) {
	dev, ft := connectedDevice(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(dev, "forbidden", false)
		errCh <- err
	}()

	for len(ft.sent) < 3 {
		time.Sleep(time.Millisecond)
	}
	ft.queue(protocol.CmdClse, 0, 0, nil)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, adberr.KindStreamRefused, adberr.Of(err))
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
