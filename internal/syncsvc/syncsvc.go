// Package syncsvc implements SyncService: the length-prefixed
// STAT/LIST/SEND/RECV/DATA/DONE/OKAY/FAIL/DENT/QUIT sub-protocol spoken
// inside a single `sync:` stream (spec §4.7).
//
// Every request and response frame starts with a 4-byte ASCII id followed
// by a 4-byte little-endian length, mirroring the general
// id+length+payload framing the retrieval pack's usbprotocol.go Transfer
// function uses for its own request/response exchange, generalized here
// to ADB's variable-length frames instead of a fixed 64-byte packet.
package syncsvc

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/protocol"
	"github.com/shangdawei/go-adb-client/internal/stream"
)

// Frame ids, 4-byte ASCII little-endian tags (spec §4.7).
const (
	idStat = "STAT"
	idList = "LIST"
	idSend = "SEND"
	idRecv = "RECV"
	idQuit = "QUIT"
	idDent = "DENT"
	idDone = "DONE"
	idData = "DATA"
	idOkay = "OKAY"
	idFail = "FAIL"
)

// maxSyncChunk is the largest DATA payload a single SYNC frame may carry.
// Each SYNC frame (8-byte id+length header plus payload) must still fit in
// one WRTE, whose payload is capped at protocol.MaxData (spec §4.2), so the
// payload itself is capped at protocol.MaxData minus that header: 4088
// bytes. A 12 KiB push therefore goes out as four DATA frames (three of
// 4088 bytes and one of 24), not as three 4096-byte frames.
const maxSyncChunk = protocol.MaxData - 8

// Entry is one directory entry returned by List.
type Entry struct {
	Name  string
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// Stat is the metadata returned by Stat.
type Stat struct {
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// session wraps the one `sync:` Stream for the duration of a single
// operation; callers never see it directly, only the four entry points
// below which each open and close their own session via device.WithStream.
// buf carries bytes read from the Stream but not yet consumed by a
// recvFrame call — a real device is free to split one logical SYNC frame
// across several WRTE messages, or batch several SYNC frames into one, so
// frame boundaries can't be assumed to line up with Stream.Read calls.
type session struct {
	s   *stream.Stream
	buf []byte
}

func withSync(dev *device.Device, fn func(*session) error) error {
	return dev.WithStream("sync:", func(s *stream.Stream) error {
		return fn(&session{s: s})
	})
}

// sendRequest writes one request frame: 4-byte id, 4-byte length, arg
// bytes. The frame is split across multiple WRTE/OKAY exchanges if it
// exceeds protocol.MaxData, since a single WRTE payload can't (spec §4.2).
// Push cuts file contents into maxSyncChunk-sized DATA frames itself, so
// each of those fits in one WRTE.
func (sess *session) sendRequest(id string, arg []byte) error {
	buf := make([]byte, 8+len(arg))
	copy(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(arg)))
	copy(buf[8:], arg)

	for len(buf) > 0 {
		n := len(buf)
		if n > protocol.MaxData {
			n = protocol.MaxData
		}
		if err := sess.s.Write(buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// fill reads from the Stream until sess.buf holds at least n bytes.
func (sess *session) fill(n int) error {
	for len(sess.buf) < n {
		chunk, err := sess.s.Read()
		if err != nil {
			return err
		}
		sess.buf = append(sess.buf, chunk...)
	}
	return nil
}

// recvFrame reads one response frame and returns its id and the bytes
// following the 8-byte id+length prefix, accumulating across as many
// Stream.Read calls as the frame's declared length requires.
func (sess *session) recvFrame() (string, []byte, error) {
	if err := sess.fill(8); err != nil {
		return "", nil, err
	}
	id := string(sess.buf[0:4])
	n := binary.LittleEndian.Uint32(sess.buf[4:8])

	if err := sess.fill(8 + int(n)); err != nil {
		return "", nil, err
	}
	payload := append([]byte(nil), sess.buf[8:8+n]...)
	sess.buf = sess.buf[8+n:]
	return id, payload, nil
}

func decodeStat(payload []byte) (Stat, error) {
	if len(payload) != 12 {
		return Stat{}, adberr.New(adberr.KindProtocolError, "STAT response must be 12 bytes")
	}
	return Stat{
		Mode:  binary.LittleEndian.Uint32(payload[0:4]),
		Size:  binary.LittleEndian.Uint32(payload[4:8]),
		Mtime: binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}

// StatPath issues a STAT request for path and returns its mode/size/mtime.
func StatPath(dev *device.Device, path string) (Stat, error) {
	var result Stat
	err := withSync(dev, func(sess *session) error {
		if err := sess.sendRequest(idStat, []byte(path)); err != nil {
			return err
		}
		id, payload, err := sess.recvFrame()
		if err != nil {
			return err
		}
		if id != idStat {
			return adberr.New(adberr.KindProtocolError, "expected STAT response, got "+id)
		}
		result, err = decodeStat(payload)
		return err
	})
	return result, err
}

// List issues a LIST request for path and returns every DENT entry up to
// the terminating DONE frame.
func List(dev *device.Device, path string) ([]Entry, error) {
	var entries []Entry
	err := withSync(dev, func(sess *session) error {
		if err := sess.sendRequest(idList, []byte(path)); err != nil {
			return err
		}
		for {
			id, payload, err := sess.recvFrame()
			if err != nil {
				return err
			}
			switch id {
			case idDent:
				if len(payload) < 16 {
					return adberr.New(adberr.KindProtocolError, "DENT frame too short")
				}
				mode := binary.LittleEndian.Uint32(payload[0:4])
				size := binary.LittleEndian.Uint32(payload[4:8])
				mtime := binary.LittleEndian.Uint32(payload[8:12])
				nameLen := binary.LittleEndian.Uint32(payload[12:16])
				if uint32(len(payload)) < 16+nameLen {
					return adberr.New(adberr.KindProtocolError, "DENT name truncated")
				}
				name := string(payload[16 : 16+nameLen])
				entries = append(entries, Entry{Name: name, Mode: mode, Size: size, Mtime: mtime})
			case idDone:
				return nil
			default:
				return adberr.New(adberr.KindProtocolError, "unexpected frame in LIST: "+id)
			}
		}
	})
	return entries, err
}

// Push uploads the contents of localPath to remotePath with the given file
// mode. The local file's existence is confirmed before any sync traffic is
// sent (spec §4.7's push pre-check); a stat failure aborts before the
// stream is even opened.
func Push(dev *device.Device, localPath, remotePath string, mode os.FileMode) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return adberr.Wrap(adberr.KindSyncError, "local file not accessible", err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return adberr.Wrap(adberr.KindSyncError, "failed to open local file", err)
	}
	defer f.Close()

	mtime := uint32(info.ModTime().Unix())

	return withSync(dev, func(sess *session) error {
		arg := []byte(fmt.Sprintf("%s,%d", remotePath, uint32(mode.Perm())|syscallRegularFileBits))
		if err := sess.sendRequest(idSend, arg); err != nil {
			return err
		}

		buf := make([]byte, maxSyncChunk)
		for {
			n, readErr := f.Read(buf)
			if n > 0 {
				if err := sess.sendRequest(idData, buf[:n]); err != nil {
					return err
				}
			}
			if readErr != nil {
				break
			}
		}

		doneArg := make([]byte, 4)
		binary.LittleEndian.PutUint32(doneArg, mtime)
		if err := sess.sendRequest(idDone, doneArg); err != nil {
			return err
		}

		id, payload, err := sess.recvFrame()
		if err != nil {
			return err
		}
		if id == idFail {
			return adberr.New(adberr.KindSyncError, string(payload))
		}
		if id != idOkay {
			return adberr.New(adberr.KindProtocolError, "expected OKAY/FAIL after push DONE, got "+id)
		}
		return nil
	})
}

// syscallRegularFileBits marks the mode bits adb expects for a plain file
// push (S_IFREG), matching the `,<mode>` suffix real device sync services
// parse.
const syscallRegularFileBits = 0o100000

// Pull downloads remotePath into localPath. The file is written to a temp
// path, fsynced, and renamed into place only on success, so a failed or
// aborted pull never leaves a partial file at the destination (spec §4.7).
func Pull(dev *device.Device, remotePath, localPath string) error {
	tmpPath := localPath + ".adbtmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return adberr.Wrap(adberr.KindSyncError, "failed to create temp file", err)
	}
	success := false
	defer func() {
		out.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	err = withSync(dev, func(sess *session) error {
		if err := sess.sendRequest(idRecv, []byte(remotePath)); err != nil {
			return err
		}
		for {
			id, payload, err := sess.recvFrame()
			if err != nil {
				return err
			}
			switch id {
			case idData:
				if _, err := out.Write(payload); err != nil {
					return adberr.Wrap(adberr.KindSyncError, "failed to write local file", err)
				}
			case idDone:
				return nil
			case idFail:
				return adberr.New(adberr.KindSyncError, string(payload))
			default:
				return adberr.New(adberr.KindProtocolError, "unexpected frame in RECV: "+id)
			}
		}
	})
	if err != nil {
		return err
	}

	if err := out.Sync(); err != nil {
		return adberr.Wrap(adberr.KindSyncError, "failed to fsync local file", err)
	}
	if err := out.Close(); err != nil {
		return adberr.Wrap(adberr.KindSyncError, "failed to close local file", err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return adberr.Wrap(adberr.KindSyncError, "failed to rename into place", err)
	}
	success = true
	return nil
}

// ModeFromOctalString parses the mode string of Push's wire argument back
// into os.FileMode. Despite the name, the string is read as decimal digits,
// the way Push writes it (e.g. "33206" for 0o100666), and the S_IFREG bits
// are cleared.
func ModeFromOctalString(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(v &^ syscallRegularFileBits), nil
}
