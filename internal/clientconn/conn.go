// Package clientconn manages one client-side connection to a chat
// server: a listener goroutine that decodes inbound frames onto a
// channel, and a sender goroutine that serializes outbound writes.
package clientconn

import (
	"log"
	"net"
	"strings"
	"sync"

	"dechat/internal/transport"
	"dechat/internal/wire"
)

// DefaultHistoryCapacity bounds how many frames a ServerLink keeps for
// scrollback when the active display switches away and back.
const DefaultHistoryCapacity = 200

// ServerLink is one live connection to a server, identified by the
// name the user gave it at connect time.
type ServerLink struct {
	Name     string
	Hostname string
	Port     int

	conn net.Conn

	Incoming chan wire.Frame // decoded frames, consumed by clientcore's router
	outbound chan wire.Frame

	history   []wire.Frame
	historyMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	remoteMu   sync.Mutex
	remoteName string
	pingingFor bool
}

// Dial connects to hostname:port and starts its listener/sender
// goroutines. name is the user-chosen label this link is addressed by
// (e.g. for /switch).
func Dial(name, hostname string, port int) (*ServerLink, error) {
	conn, err := transport.Dial(hostname, port)
	if err != nil {
		return nil, err
	}

	sl := &ServerLink{
		Name:     name,
		Hostname: hostname,
		Port:     port,
		conn:     conn,
		Incoming: make(chan wire.Frame, 64),
		outbound: make(chan wire.Frame, 64),
		done:     make(chan struct{}),
	}

	go sl.listenLoop()
	go sl.sendLoop()

	return sl, nil
}

// Send queues a frame for the sender goroutine. It never blocks the
// caller on network I/O.
func (sl *ServerLink) Send(f wire.Frame) {
	select {
	case sl.outbound <- f:
	case <-sl.done:
	}
}

// Close requests a clean disconnect: a zero-value close frame is sent,
// then both goroutines are told to stop. Frames still waiting in the
// outbound queue are not sent.
func (sl *ServerLink) Close() error {
	sl.closeOnce.Do(func() {
		_ = transport.SendFrame(sl.conn, wire.CloseFrame)
		close(sl.done)
	})
	return sl.conn.Close()
}

// Done is closed when Close is called, which tells this link's
// goroutines to exit; it stays open if the listener stops on its own
// after a receive error.
func (sl *ServerLink) Done() <-chan struct{} { return sl.done }

// PingForInfo silently sends /info and arms the listener to scrape the
// reply's "Server: " prefix into RemoteName instead of delivering it to
// Incoming — this is how a freshly dialed link learns its canonical
// remote name without the caller seeing a stray server-scope reply.
func (sl *ServerLink) PingForInfo() {
	sl.remoteMu.Lock()
	sl.pingingFor = true
	sl.remoteMu.Unlock()
	sl.Send(wire.Frame{Payload: "/info"})
}

// RemoteName returns the name this link's server reported via /info, or
// "" if the ping hasn't completed yet.
func (sl *ServerLink) RemoteName() string {
	sl.remoteMu.Lock()
	defer sl.remoteMu.Unlock()
	return sl.remoteName
}

const infoServerPrefix = "Server: "

// scrapeRemoteName reports whether f was consumed as the pending /info
// reply (and, if so, that it must not be stored or displayed).
func (sl *ServerLink) scrapeRemoteName(f wire.Frame) bool {
	sl.remoteMu.Lock()
	defer sl.remoteMu.Unlock()
	if !sl.pingingFor || f.ChannelID != wire.ServerChannelID {
		return false
	}
	idx := strings.Index(f.Payload, infoServerPrefix)
	if idx < 0 {
		return false
	}
	rest := f.Payload[idx+len(infoServerPrefix):]
	if end := strings.IndexAny(rest, " \t\n"); end >= 0 {
		rest = rest[:end]
	}
	sl.remoteName = rest
	sl.pingingFor = false
	return true
}

func (sl *ServerLink) listenLoop() {
	defer close(sl.Incoming)
	for {
		f, err := transport.RecvFrame(sl.conn, transport.DefaultRecvTimeout)
		switch err {
		case nil:
			if sl.scrapeRemoteName(f) {
				continue
			}
			sl.remember(f)
			select {
			case sl.Incoming <- f:
			case <-sl.done:
				return
			}
			if f.IsClose() {
				return
			}
		case transport.ErrTimeout:
			select {
			case <-sl.done:
				return
			default:
			}
		default:
			log.Printf("[clientconn] %s: recv error: %v", sl.Name, err)
			return
		}
	}
}

func (sl *ServerLink) sendLoop() {
	for {
		select {
		case f := <-sl.outbound:
			if err := transport.SendFrame(sl.conn, f); err != nil {
				log.Printf("[clientconn] %s: send error: %v", sl.Name, err)
			}
			if f.IsClose() {
				return
			}
		case <-sl.done:
			return
		}
	}
}

func (sl *ServerLink) remember(f wire.Frame) {
	sl.historyMu.Lock()
	defer sl.historyMu.Unlock()
	sl.history = append(sl.history, f)
	if len(sl.history) > DefaultHistoryCapacity {
		sl.history = sl.history[len(sl.history)-DefaultHistoryCapacity:]
	}
}

// History returns a snapshot of buffered scrollback, oldest first.
func (sl *ServerLink) History() []wire.Frame {
	sl.historyMu.Lock()
	defer sl.historyMu.Unlock()
	out := make([]wire.Frame, len(sl.history))
	copy(out, sl.history)
	return out
}
