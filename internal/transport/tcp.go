package transport

import (
	"net"
	"time"

	"github.com/shangdawei/go-adb-client/internal/adberr"
)

// tcpTransport carries the ADB wire protocol over a plain TCP connection,
// the optional transport spec §1 allows alongside USB (e.g. `adb connect
// host:port`, or the emulator's loopback port).
type tcpTransport struct {
	conn    net.Conn
	timeout time.Duration
}

// OpenTCP dials addr (host:port) and returns a ready Transport.
func OpenTCP(addr string) (Transport, error) {
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		return nil, adberr.Wrap(adberr.KindNoDevice, "tcp dial failed", err)
	}
	return &tcpTransport{conn: conn, timeout: DefaultTimeout}, nil
}

func (t *tcpTransport) SetTimeout(d time.Duration) { t.timeout = d }

func (t *tcpTransport) Send(buf []byte) error {
	_, err := t.conn.Write(buf)
	if err != nil {
		return adberr.Wrap(adberr.KindIOError, "tcp write failed", err)
	}
	return nil
}

func (t *tcpTransport) Recv(maxLen int) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, adberr.Wrap(adberr.KindIOError, "failed to set read deadline", err)
	}
	buf := make([]byte, maxLen)
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, adberr.Wrap(adberr.KindTimeout, "tcp read timed out", err)
		}
		return nil, adberr.Wrap(adberr.KindDisconnected, "tcp read failed", err)
	}
	return buf[:n], nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
