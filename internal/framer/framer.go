// Package framer drives one Transport through the protocol package's
// encode/decode pair: every message is sent as a single Transport.Send, and
// received as two Transport.Recv calls — one fixed 24-byte header read, one
// exact-length payload read — per spec §4.2.
package framer

import (
	"log"
	"time"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/protocol"
	"github.com/shangdawei/go-adb-client/internal/transport"
)

// Framer encodes outgoing messages and decodes incoming ones over a single
// Transport, validating the magic and checksum invariants on every receive.
type Framer struct {
	t transport.Transport
}

// New wraps t in a Framer.
func New(t transport.Transport) *Framer {
	return &Framer{t: t}
}

// Send encodes and writes one message.
func (f *Framer) Send(cmd protocol.Command, arg0, arg1 uint32, payload []byte) error {
	buf, err := protocol.Encode(cmd, arg0, arg1, payload)
	if err != nil {
		return err
	}
	if err := f.t.Send(buf); err != nil {
		return err
	}
	log.Printf("adb: -> %s arg0=0x%x arg1=0x%x len=%d", cmd, arg0, arg1, len(payload))
	return nil
}

// Recv blocks for one full message: header, then payload if any.
func (f *Framer) Recv() (protocol.Message, error) {
	headerBuf, err := f.recvExact(protocol.HeaderSize)
	if err != nil {
		return protocol.Message{}, err
	}
	h, err := protocol.DecodeHeader(headerBuf)
	if err != nil {
		return protocol.Message{}, err
	}

	var payload []byte
	if h.DataLength > 0 {
		payload, err = f.recvExact(int(h.DataLength))
		if err != nil {
			return protocol.Message{}, err
		}
	}

	msg, err := protocol.DecodePayload(h, payload)
	if err != nil {
		return protocol.Message{}, err
	}
	log.Printf("adb: <- %s arg0=0x%x arg1=0x%x len=%d", msg.Command, msg.Arg0, msg.Arg1, len(msg.Payload))
	return msg, nil
}

// recvExact reads exactly n bytes, issuing further Transport.Recv calls if
// the underlying transport returns short reads (USB bulk transfers can).
func (f *Framer) recvExact(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk, err := f.t.Recv(n - len(out))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, adberr.New(adberr.KindDisconnected, "transport returned no data")
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// SetTimeout forwards to the underlying Transport.
func (f *Framer) SetTimeout(d time.Duration) {
	f.t.SetTimeout(d)
}

// Close releases the underlying Transport.
func (f *Framer) Close() error {
	return f.t.Close()
}
