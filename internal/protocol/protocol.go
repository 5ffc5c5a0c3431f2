// Package protocol implements the ADB wire message format: a fixed 24-byte
// header, a six-command vocabulary, and the encode/decode pair the Framer
// exposes to the rest of the client.
//
// Wire layout is little-endian throughout, mirroring the functionfs ADB
// gadget's packet struct (command, arg0, arg1, length, crc32, magic) seen in
// the retrieval pack's ChromeOS tast reference.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/shangdawei/go-adb-client/internal/adberr"
)

// Command is the 32-bit ASCII-packed command tag.
type Command uint32

// Command vocabulary, values per spec §3.
const (
	CmdSync Command = 0x434E5953
	CmdCnxn Command = 0x4E584E43
	CmdOpen Command = 0x4E45504F
	CmdOkay Command = 0x59414B4F
	CmdClse Command = 0x45534C43
	CmdWrte Command = 0x45545257
	CmdAuth Command = 0x48545541
)

func (c Command) String() string {
	switch c {
	case CmdSync:
		return "SYNC"
	case CmdCnxn:
		return "CNXN"
	case CmdOpen:
		return "OPEN"
	case CmdOkay:
		return "OKAY"
	case CmdClse:
		return "CLSE"
	case CmdWrte:
		return "WRTE"
	case CmdAuth:
		return "AUTH"
	default:
		return fmt.Sprintf("CMD(0x%08x)", uint32(c))
	}
}

// AUTH sub-types, carried in arg0 of an AUTH message.
const (
	AuthToken        = 1
	AuthSignature    = 2
	AuthRSAPublicKey = 3
)

const (
	// AVersion is the only protocol version this client speaks.
	AVersion uint32 = 0x01000000
	// MaxData is the maximum payload length of any single message.
	MaxData = 4096
	// TokenSize is the length in bytes of an AUTH TOKEN challenge.
	TokenSize = 20
	// HeaderSize is the fixed wire size of a Message header.
	HeaderSize = 24
)

// Header is the 24-byte fixed prefix of every wire message.
type Header struct {
	Command    Command
	Arg0       uint32
	Arg1       uint32
	DataLength uint32
	DataCRC32  uint32
	Magic      uint32
}

// Message is a fully decoded ADB wire message: header plus payload.
type Message struct {
	Command Command
	Arg0    uint32
	Arg1    uint32
	Payload []byte
}

// magicOf computes the magic field for a command: command XOR 0xFFFFFFFF.
func magicOf(cmd Command) uint32 {
	return uint32(cmd) ^ 0xFFFFFFFF
}

// checksumOf sums payload bytes, per spec §3 ("checksum == Σ payload[i]").
func checksumOf(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// EncodeHeader serializes just the 24-byte header for cmd/arg0/arg1/payload.
func EncodeHeader(cmd Command, arg0, arg1 uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cmd))
	binary.LittleEndian.PutUint32(buf[4:8], arg0)
	binary.LittleEndian.PutUint32(buf[8:12], arg1)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[16:20], checksumOf(payload))
	binary.LittleEndian.PutUint32(buf[20:24], magicOf(cmd))
	return buf
}

// Encode produces a full header+payload wire buffer for one message.
func Encode(cmd Command, arg0, arg1 uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxData {
		return nil, adberr.New(adberr.KindProtocolError, fmt.Sprintf("payload too large: %d > %d", len(payload), MaxData))
	}
	out := EncodeHeader(cmd, arg0, arg1, payload)
	if len(payload) > 0 {
		out = append(out, payload...)
	}
	return out, nil
}

// DecodeHeader parses a fixed 24-byte buffer into a Header, rejecting it if
// the magic invariant (magic == command XOR 0xFFFFFFFF) does not hold.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, adberr.New(adberr.KindProtocolError, fmt.Sprintf("header must be %d bytes, got %d", HeaderSize, len(buf)))
	}
	h := Header{
		Command:    Command(binary.LittleEndian.Uint32(buf[0:4])),
		Arg0:       binary.LittleEndian.Uint32(buf[4:8]),
		Arg1:       binary.LittleEndian.Uint32(buf[8:12]),
		DataLength: binary.LittleEndian.Uint32(buf[12:16]),
		DataCRC32:  binary.LittleEndian.Uint32(buf[16:20]),
		Magic:      binary.LittleEndian.Uint32(buf[20:24]),
	}
	if h.Magic != magicOf(h.Command) {
		return Header{}, adberr.New(adberr.KindProtocolError, fmt.Sprintf("bad magic for %s: got 0x%08x", h.Command, h.Magic))
	}
	if h.DataLength > MaxData {
		return Header{}, adberr.New(adberr.KindProtocolError, fmt.Sprintf("payload length %d exceeds MAXDATA", h.DataLength))
	}
	return h, nil
}

// DecodePayload validates a received payload against the header's declared
// length and checksum, and assembles the final Message.
func DecodePayload(h Header, payload []byte) (Message, error) {
	if uint32(len(payload)) != h.DataLength {
		return Message{}, adberr.New(adberr.KindProtocolError, fmt.Sprintf("expected %d payload bytes, got %d", h.DataLength, len(payload)))
	}
	if checksumOf(payload) != h.DataCRC32 {
		return Message{}, adberr.New(adberr.KindProtocolError, "bad checksum")
	}
	return Message{
		Command: h.Command,
		Arg0:    h.Arg0,
		Arg1:    h.Arg1,
		Payload: payload,
	}, nil
}
