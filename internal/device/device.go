// Package device implements the Device handle (spec §3): one Transport, one
// ConnectionFSM, one authenticated session, and at most one active Stream
// at a time. It is the single place that enforces "a command may be
// dispatched only when CONNECTED and no Stream is active" (spec §3, §8
// invariant 4).
package device

import (
	"sync"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/conn"
	"github.com/shangdawei/go-adb-client/internal/framer"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/stream"
	"github.com/shangdawei/go-adb-client/internal/transport"
)

// Device owns one Transport for the lifetime of the connection. Commands
// are strictly serialized: the mutex enforces spec §5's "no overlapping
// protocol exchanges on the same device" at the API boundary.
type Device struct {
	mu     sync.Mutex
	t      transport.Transport
	f      *framer.Framer
	fsm    *conn.FSM
	serial string
}

// New wires a Transport, a KeyStore-backed FSM, and returns an unconnected
// Device. Call Connect before issuing any command.
func New(t transport.Transport, ks *keystore.KeyStore, serial string) *Device {
	f := framer.New(t)
	return &Device{
		t:      t,
		f:      f,
		fsm:    conn.New(f, ks),
		serial: serial,
	}
}

// Serial returns the identifier the caller used to select this device
// (e.g. a USB bus/address string, or a host:port for TCP).
func (d *Device) Serial() string { return d.serial }

// Connect drives the authentication handshake (spec §4.4). Safe to call
// again after a PendingUserApproval or Timeout error.
func (d *Device) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fsm.Connect()
}

// State reports the ConnectionFSM's current state.
func (d *Device) State() conn.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fsm.State()
}

// Close tears down the connection and releases the Transport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.Close()
	return d.t.Close()
}

// openStreamLocked opens one logical stream for destination, enforcing that
// the Device is CONNECTED (spec §3). It takes no lock itself: the caller
// must already hold d.mu, and must close the returned Stream before issuing
// another command; WithStream below does both.
func (d *Device) openStreamLocked(destination string) (*stream.Stream, error) {
	if d.fsm.State() != conn.Connected {
		return nil, adberr.New(adberr.KindProtocolError, "device is not CONNECTED")
	}
	return stream.OpenStream(d.f, destination)
}

// Registry tracks every Device a host process currently manages, keyed by
// serial. It exists so a long-running process (cmd/adb-server) can hand
// out a single shared view of connected devices
// without each caller threading its own map and mutex.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Put registers dev under its own Serial, replacing any previous entry.
func (r *Registry) Put(dev *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.Serial()] = dev
}

// Remove drops serial from the registry, if present.
func (r *Registry) Remove(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, serial)
}

// Get looks up a Device by serial.
func (r *Registry) Get(serial string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[serial]
	return dev, ok
}

// Serials returns every serial currently registered, in no particular order.
func (r *Registry) Serials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.devices))
	for serial := range r.devices {
		out = append(out, serial)
	}
	return out
}

// WithStream opens destination, runs fn with the resulting Stream, and
// guarantees the Stream reaches CLOSED before returning control to the
// caller — spec §8 invariant 4 — regardless of whether fn succeeds. It also
// holds the Device's command lock for the duration, so no other command can
// interleave on the same Transport (spec §3, §5).
func (d *Device) WithStream(destination string, fn func(*stream.Stream) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.openStreamLocked(destination)
	if err != nil {
		return err
	}

	fnErr := fn(s)
	closeErr := s.Close()
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}
