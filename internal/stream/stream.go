// Package stream implements the StreamEngine: OPEN/OKAY/WRTE/CLSE exchanges
// over one already-CONNECTED Framer, with a flow-control window of one
// (spec §4.5, §5, §8 invariant 3).
package stream

import (
	"errors"
	"log"
	"math/rand"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/framer"
	"github.com/shangdawei/go-adb-client/internal/protocol"
)

// ErrStreamClosed is returned by Read/Write once the peer has sent CLSE.
// It is a normal end-of-stream signal, not a protocol violation, so it's a
// distinct sentinel rather than an adberr.KindProtocolError.
var ErrStreamClosed = errors.New("StreamClosed")

// State is one of the four explicit stream lifecycle states (spec §3).
type State int

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "OPENING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stream is one logical (local_id, remote_id) channel multiplexed over a
// Framer. Only one Stream may be active on a Framer at a time (spec §5).
type Stream struct {
	f        *framer.Framer
	localID  uint32
	remoteID uint32
	state    State
}

// OpenStream sends OPEN for destination (e.g. "shell:ls", "sync:") and awaits the
// device's OKAY or CLSE. Any other reply, or an id mismatch, is a protocol
// violation (spec §4.5).
func OpenStream(f *framer.Framer, destination string) (*Stream, error) {
	localID := newLocalID()
	s := &Stream{f: f, localID: localID, state: Opening}

	payload := append([]byte(destination), 0)
	if err := f.Send(protocol.CmdOpen, localID, 0, payload); err != nil {
		return nil, err
	}

	msg, err := f.Recv()
	if err != nil {
		return nil, err
	}
	switch msg.Command {
	case protocol.CmdOkay:
		if msg.Arg1 != localID {
			return nil, adberr.New(adberr.KindProtocolError, "OKAY arg1 does not echo local id")
		}
		s.remoteID = msg.Arg0
		s.state = Open
		log.Printf("adb: stream %q open (local=%d remote=%d)", destination, s.localID, s.remoteID)
		return s, nil
	case protocol.CmdClse:
		s.state = Closed
		return nil, adberr.New(adberr.KindStreamRefused, "device refused OPEN for "+destination)
	default:
		return nil, adberr.New(adberr.KindProtocolError, "unexpected reply to OPEN: "+msg.Command.String())
	}
}

// newLocalID picks a fresh non-zero 32-bit local stream id (spec §3).
func newLocalID() uint32 {
	for {
		id := rand.Uint32()
		if id != 0 {
			return id
		}
	}
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() State { return s.state }

// LocalID returns the host-chosen stream id.
func (s *Stream) LocalID() uint32 { return s.localID }

// RemoteID returns the device-assigned stream id learned from OKAY.
func (s *Stream) RemoteID() uint32 { return s.remoteID }

// Write sends one WRTE and blocks for the device's OKAY before returning,
// enforcing the protocol's window-of-one flow control (spec §4.5, §8
// invariant 3: no WRTE before the previous one's OKAY).
func (s *Stream) Write(payload []byte) error {
	if s.state != Open {
		return adberr.New(adberr.KindProtocolError, "write on non-open stream")
	}
	if err := s.f.Send(protocol.CmdWrte, s.localID, s.remoteID, payload); err != nil {
		return err
	}
	msg, err := s.f.Recv()
	if err != nil {
		return err
	}
	switch msg.Command {
	case protocol.CmdOkay:
		if msg.Arg0 != s.remoteID || msg.Arg1 != s.localID {
			return adberr.New(adberr.KindProtocolError, "OKAY id mismatch after WRTE")
		}
		return nil
	case protocol.CmdClse:
		s.state = Closed
		return ErrStreamClosed
	default:
		return adberr.New(adberr.KindProtocolError, "unexpected reply to WRTE: "+msg.Command.String())
	}
}

// Read blocks for one WRTE from the device, acknowledges it with OKAY, and
// returns its payload. Returns StreamClosed once the peer sends CLSE.
func (s *Stream) Read() ([]byte, error) {
	if s.state == Closed {
		return nil, ErrStreamClosed
	}
	msg, err := s.f.Recv()
	if err != nil {
		return nil, err
	}
	switch msg.Command {
	case protocol.CmdWrte:
		if msg.Arg0 != s.remoteID || msg.Arg1 != s.localID {
			return nil, adberr.New(adberr.KindProtocolError, "WRTE id mismatch")
		}
		if err := s.f.Send(protocol.CmdOkay, s.localID, s.remoteID, nil); err != nil {
			return nil, err
		}
		return msg.Payload, nil
	case protocol.CmdClse:
		s.state = Closed
		return nil, ErrStreamClosed
	default:
		return nil, adberr.New(adberr.KindProtocolError, "unexpected message awaiting WRTE: "+msg.Command.String())
	}
}

// Close sends CLSE and drains inbound traffic until the peer's CLSE arrives
// or a Recv fails, for example on the Transport's own read timeout (spec
// §4.5). No separate, shorter grace timeout is applied while draining.
// Every opened stream must reach CLOSED before the Device returns control
// to its caller (spec §8 invariant 4), so Close never leaves the stream in
// an intermediate state even on error.
func (s *Stream) Close() error {
	if s.state == Closed {
		return nil
	}
	s.state = Closing
	sendErr := s.f.Send(protocol.CmdClse, s.localID, s.remoteID, nil)

	for {
		msg, err := s.f.Recv()
		if err != nil {
			// Timeout or disconnect while draining: treat the stream as
			// closed regardless, so the Device can proceed to its next
			// command with a clean invariant.
			s.state = Closed
			break
		}
		if msg.Command == protocol.CmdClse {
			s.state = Closed
			break
		}
		// Drop anything else in flight for this stream; there is nothing
		// left that wants it once CLSE has been sent.
	}
	return sendErr
}
