// Package transport abstracts the byte pipe beneath the ADB Framer: one USB
// bulk in/out endpoint pair, or one TCP connection. The Framer and everything
// above it only ever calls Send/Recv — device enumeration specifics stay
// here, the way the teacher's usb_device.go isolates gousb calls from the
// higher-level controller.
package transport

import (
	"time"
)

// DefaultTimeout is the default Transport read deadline (spec §5).
const DefaultTimeout = 10 * time.Second

// Transport sends and receives raw byte buffers to one endpoint pair.
type Transport interface {
	// Send writes the full buffer or returns an error.
	Send(buf []byte) error
	// Recv reads up to maxLen bytes, blocking until data arrives, the
	// timeout elapses, or the peer disconnects.
	Recv(maxLen int) ([]byte, error)
	// SetTimeout adjusts the read deadline used by subsequent Recv calls.
	SetTimeout(d time.Duration)
	// Close releases the underlying device/socket.
	Close() error
}
