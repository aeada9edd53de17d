package hub

import (
	"net"
	"time"

	"dechat/internal/transport"
	"dechat/internal/wire"
)

// Conn wraps one accepted or dialed socket. It satisfies channel.Sender
// so a *Conn can be used directly as a channel member key.
type Conn struct {
	raw          net.Conn
	remoteAddr   string
	isServerPeer bool
}

func newConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, remoteAddr: raw.RemoteAddr().String()}
}

// Send best-effort writes a frame to the connection. A broken pipe is
// swallowed here; the peer is reaped the next time the server's poll
// loop sees the reset on recv.
func (c *Conn) Send(f wire.Frame) error {
	return transport.SendFrame(c.raw, f)
}

// Recv reads exactly one frame, classifying the outcome as a timeout,
// a clean close, or a hard error.
func (c *Conn) Recv(timeout time.Duration) (wire.Frame, error) {
	return transport.RecvFrame(c.raw, timeout)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote address string, for logging.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
