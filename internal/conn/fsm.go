// Package conn drives the ADB connection handshake: ConnectionFSM, spec §4.4.
// States are an explicit tagged variant with exhaustive handling, not an
// opaque integer, per spec §9's design note.
package conn

import (
	"log"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/framer"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/protocol"
)

// State is one of the FSM's five explicit states (spec §4.4).
type State int

const (
	NotConnected State = iota
	WaitForAuth
	SendPrivateKey
	SendPublicKey
	Connected
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case WaitForAuth:
		return "WAIT_FOR_AUTH"
	case SendPrivateKey:
		return "SEND_PRIVATE_KEY"
	case SendPublicKey:
		return "SEND_PUBLIC_KEY"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// hostBanner is the CNXN system identity the host always sends (spec §6).
const hostBanner = "host::\x00"

// FSM drives one Framer through NOT_CONNECTED -> ... -> CONNECTED.
type FSM struct {
	f            *framer.Framer
	ks           *keystore.KeyStore
	state        State
	pendingToken []byte
}

// New builds an FSM around a Framer and a KeyStore.
func New(f *framer.Framer, ks *keystore.KeyStore) *FSM {
	return &FSM{f: f, ks: ks, state: NotConnected}
}

// State reports the current FSM state.
func (m *FSM) State() State { return m.state }

// Connect drives the handshake to completion, or returns a classified
// error (spec §4.4, §7). On PendingUserApproval or transport Timeout the
// FSM resets to NOT_CONNECTED so Connect can be retried cleanly.
func (m *FSM) Connect() error {
	if m.state == Connected {
		return nil
	}
	m.state = NotConnected
	return m.step()
}

// Close resets the FSM to NOT_CONNECTED (spec §4.4's CONNECTED -> close()).
func (m *FSM) Close() {
	m.state = NotConnected
}

func (m *FSM) setState(s State) {
	if s != m.state {
		log.Printf("adb: connection state %s -> %s", m.state, s)
	}
	m.state = s
}

func (m *FSM) step() error {
	if err := m.sendCnxn(); err != nil {
		return err
	}
	m.setState(WaitForAuth)

	for {
		switch m.state {
		case WaitForAuth:
			if err := m.waitForAuth(); err != nil {
				return err
			}
		case SendPrivateKey:
			if err := m.sendPrivateKey(); err != nil {
				return err
			}
		case SendPublicKey:
			if err := m.sendPublicKey(); err != nil {
				return err
			}
		case Connected:
			return nil
		case NotConnected:
			return adberr.New(adberr.KindAuthRefused, "connection reset during handshake")
		}
	}
}

func (m *FSM) sendCnxn() error {
	return m.f.Send(protocol.CmdCnxn, protocol.AVersion, protocol.MaxData, []byte(hostBanner))
}

// waitForAuth implements the WAIT_FOR_AUTH row of spec §4.4's table: an
// AUTH TOKEN moves to SEND_PRIVATE_KEY, a CNXN completes the handshake
// immediately (device already trusts a key-less/previous session), anything
// else resets to NOT_CONNECTED, and a transport Timeout here is a transient
// hiccup that also resets rather than failing outright.
func (m *FSM) waitForAuth() error {
	msg, err := m.f.Recv()
	if err != nil {
		if adberr.Of(err) == adberr.KindTimeout {
			m.setState(NotConnected)
			return adberr.Wrap(adberr.KindTimeout, "timed out waiting for AUTH in WAIT_FOR_AUTH", err)
		}
		return err
	}
	switch msg.Command {
	case protocol.CmdAuth:
		if msg.Arg0 != protocol.AuthToken {
			m.setState(NotConnected)
			return adberr.New(adberr.KindProtocolError, "expected AUTH TOKEN")
		}
		m.pendingToken = msg.Payload
		m.setState(SendPrivateKey)
		return nil
	case protocol.CmdCnxn:
		m.setState(Connected)
		return nil
	default:
		m.setState(NotConnected)
		return adberr.New(adberr.KindProtocolError, "unexpected message in WAIT_FOR_AUTH: "+msg.Command.String())
	}
}

// sendPrivateKey implements SEND_PRIVATE_KEY: sign the token with the
// stored key and hope the device already trusts it. A second AUTH means
// the signature was rejected; proceed to SEND_PUBLIC_KEY. A Timeout here
// is also a transient hiccup per spec §7's error table.
func (m *FSM) sendPrivateKey() error {
	sig, err := m.ks.Sign(m.pendingToken)
	if err != nil {
		return err
	}
	if err := m.f.Send(protocol.CmdAuth, protocol.AuthSignature, 0, sig); err != nil {
		return err
	}

	msg, err := m.f.Recv()
	if err != nil {
		if adberr.Of(err) == adberr.KindTimeout {
			m.setState(NotConnected)
			return adberr.Wrap(adberr.KindTimeout, "timed out waiting for signature verdict", err)
		}
		return err
	}
	switch msg.Command {
	case protocol.CmdCnxn:
		m.setState(Connected)
		return nil
	case protocol.CmdAuth:
		// Signature rejected; device issued a fresh token alongside it in
		// real deployments, but the only action defined here is to move on
		// to presenting the public key.
		if msg.Arg0 == protocol.AuthToken {
			m.pendingToken = msg.Payload
		}
		m.setState(SendPublicKey)
		return nil
	default:
		m.setState(NotConnected)
		return adberr.New(adberr.KindProtocolError, "unexpected message in SEND_PRIVATE_KEY: "+msg.Command.String())
	}
}

// sendPublicKey implements SEND_PUBLIC_KEY: present the host's public key
// and wait for the user to approve it on-device. A Timeout here is the
// documented "user has not yet approved" signal (spec §4.4, §7) and must
// surface as retryable PendingUserApproval, not a fatal error.
func (m *FSM) sendPublicKey() error {
	blob, err := keystore.PublicKeyWireBlob(m.ks.PublicKey())
	if err != nil {
		return err
	}
	if err := m.f.Send(protocol.CmdAuth, protocol.AuthRSAPublicKey, 0, blob); err != nil {
		return err
	}

	msg, err := m.f.Recv()
	if err != nil {
		if adberr.Of(err) == adberr.KindTimeout {
			m.setState(NotConnected)
			return adberr.Wrap(adberr.KindPendingUserApproval, "waiting for user to approve this computer on the device", err)
		}
		return err
	}
	if msg.Command != protocol.CmdCnxn {
		m.setState(NotConnected)
		return adberr.New(adberr.KindAuthRefused, "device did not accept public key")
	}
	m.setState(Connected)
	return nil
}
