// Package hub implements the server-side accept loop, per-connection
// demultiplexing, command dispatch, and link/unlink/migrate
// orchestration. A Server owns every channel and connection; channel
// content itself is delegated to internal/channel.
package hub

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"dechat/internal/alias"
	"dechat/internal/channel"
	"dechat/internal/metricsexp"
	"dechat/internal/transport"
	"dechat/internal/wire"
)

// DefaultTickRate is the server's default accept/poll loop frequency.
const DefaultTickRate = 32

// AuditFunc records one administrative event (channel create/destroy,
// link/unlink/migrate). Set via SetAuditHook; called outside the
// server's mutex so a slow persistence layer never blocks the tick loop.
type AuditFunc func(actorNick, action, target, details string)

// LinkEdgeFunc records a completed link handshake for CLI visibility.
// Called outside the server's mutex.
type LinkEdgeFunc func(channelName, peerHost string, peerPort int, remoteChannelID uint16, outgoing bool)

// Server holds all mutable server-side state: accepted connections, the
// channel registry, and the conn→channel membership map. All mutation
// happens either on the single tick goroutine (Run) or, for the
// outbound link/unlink handshake, on dedicated short-lived goroutines —
// both paths take mu so channel/connection registries stay consistent.
type Server struct {
	mu sync.Mutex

	hostname string
	port     int

	createdAt time.Time

	conns []*Conn

	// channels is keyed by the channel id's decimal string form (see
	// chanKey) with the channel name registered as an alias — Dict
	// only carries one key type, so the numeric id is canonicalized to
	// a string rather than giving channels two independent lookup
	// tables.
	channels      *alias.Dict[string, *channel.Channel]
	nextChannelID uint16

	connChannel map[channel.Sender]*channel.Channel
	nickConn    map[string]channel.Sender

	quitting bool

	tickRate      time.Duration
	acceptTimeout time.Duration
	recvTimeout   time.Duration

	onAudit    AuditFunc
	onLinkEdge LinkEdgeFunc

	motd, help, rules string
}

// New constructs a server bound to hostname:port (not yet listening;
// call Run to start the accept loop). configDir is searched for
// MOTD.txt/HELP.txt/RULES.txt; built-in defaults are used for whichever
// files are absent (configDir == "" skips the lookup entirely).
func New(hostname string, port int, configDir string) *Server {
	channel.BroadcastHook = func(delivered bool) {
		if delivered {
			metricsexp.Default().BroadcastDelivered()
		} else {
			metricsexp.Default().BroadcastDeduped()
		}
	}

	motd, help, rules := "Welcome to dechat.", defaultHelpText, "Be civil."
	if configDir != "" {
		if text, ok := loadConfigFile(configDir, "MOTD.txt"); ok {
			motd = text
		}
		if text, ok := loadConfigFile(configDir, "HELP.txt"); ok {
			help = text
		}
		if text, ok := loadConfigFile(configDir, "RULES.txt"); ok {
			rules = text
		}
	}

	return &Server{
		hostname:      hostname,
		port:          port,
		createdAt:     time.Now(),
		channels:      alias.New[string, *channel.Channel](),
		connChannel:   make(map[channel.Sender]*channel.Channel),
		nickConn:      make(map[string]channel.Sender),
		tickRate:      DefaultTickRate,
		acceptTimeout: transport.DefaultAcceptTimeout,
		recvTimeout:   transport.DefaultRecvTimeout,
		motd:          motd,
		help:          help,
		rules:         rules,
	}
}

// SetAuditHook registers a callback fired after every administrative
// event. Not safe to call concurrently with Run.
func (s *Server) SetAuditHook(fn AuditFunc) { s.onAudit = fn }

// SetLinkEdgeHook registers a callback fired after every completed link
// handshake. Not safe to call concurrently with Run.
func (s *Server) SetLinkEdgeHook(fn LinkEdgeFunc) { s.onLinkEdge = fn }

// SetMOTD, SetHelp and SetRules override the text served by /motd,
// /help and /rules respectively.
func (s *Server) SetMOTD(text string)  { s.motd = text }
func (s *Server) SetHelp(text string)  { s.help = text }
func (s *Server) SetRules(text string) { s.rules = text }

func (s *Server) audit(actorNick, action, target, details string) {
	if s.onAudit != nil {
		s.onAudit(actorNick, action, target, details)
	}
}

// Hostname returns the configured bind hostname.
func (s *Server) Hostname() string { return s.hostname }

// Port returns the configured bind port.
func (s *Server) Port() int { return s.port }

// Stats reports channel and (non-server-peer) connection counts, for
// /info and the REST introspection API.
func (s *Server) Stats() (channels int, users int, uptime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels = s.channels.Len()
	for _, c := range s.conns {
		if !c.isServerPeer {
			users++
		}
	}
	uptime = time.Since(s.createdAt)
	return
}

// ChannelNames returns the list of existing channel names, for /list
// and the REST API.
func (s *Server) ChannelNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.channels.Len())
	for _, c := range s.channels.Values() {
		out = append(out, c.Name())
	}
	return out
}

// Quit requests the accept/poll loop stop at the next tick boundary.
func (s *Server) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quitting = true
}

func chanKey(id uint16) string { return strconv.FormatUint(uint64(id), 10) }

// Run executes the accept/poll/sleep loop until ctx is canceled or Quit
// is called. It owns the listener for its entire lifetime.
func (s *Server) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.hostname, s.port)
	if err != nil {
		return err
	}
	defer ln.Close()

	slog.Info("server listening", "hostname", s.hostname, "port", s.port)

	period := time.Second / time.Duration(s.tickRate)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.mu.Lock()
		quitting := s.quitting
		s.mu.Unlock()
		if quitting {
			slog.Info("server quitting")
			return nil
		}

		tickStart := time.Now()
		s.acceptConn(ln)
		s.pollOnce()
		elapsed := time.Since(tickStart)
		metricsexp.Default().PollLoopDurationSeconds.Update(elapsed.Seconds())

		if elapsed < period {
			time.Sleep(period - elapsed)
		}
	}
}

// acceptConn wraps one accept attempt through transport.Accept; a
// timeout (nothing waiting) is the expected common case at 32 Hz.
func (s *Server) acceptConn(ln net.Listener) {
	raw, err := transport.Accept(ln, s.acceptTimeout)
	if err != nil {
		return
	}

	conn := newConn(raw)

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	slog.Info("connection accepted", "remote", conn.RemoteAddr())
	metricsexp.Default().ConnectionsAcceptedTotal.Inc()

	_ = conn.Send(replyFrame(s.motd))
}

func (s *Server) pollOnce() {
	s.mu.Lock()
	conns := make([]*Conn, len(s.conns))
	copy(conns, s.conns)
	s.mu.Unlock()

	var dead []*Conn

	for _, c := range conns {
		frame, err := c.Recv(s.recvTimeout)
		switch err {
		case nil:
			if frame.IsClose() {
				dead = append(dead, c)
				continue
			}
			s.dispatch(c, frame)
		case transport.ErrTimeout:
			// nothing this tick
		default:
			dead = append(dead, c)
		}
	}

	for _, c := range dead {
		s.removeConn(c)
		_ = c.Close()
	}
}

// removeConn drops c from every server-level registry. ch.RemoveMember
// is called without s.mu held — it fires onMemberRemoved, which itself
// takes s.mu, and sync.Mutex is not reentrant.
func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	ch := s.connChannel[c]
	s.mu.Unlock()

	if ch != nil {
		ch.RemoveMember(c)
	}

	s.mu.Lock()
	delete(s.connChannel, c)
	for nick, conn := range s.nickConn {
		if conn == c {
			delete(s.nickConn, nick)
		}
	}
	for i, existing := range s.conns {
		if existing == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	slog.Info("connection closed", "remote", c.RemoteAddr())
	metricsexp.Default().ConnectionsClosedTotal.Inc()
}

func (s *Server) dispatch(c *Conn, f wire.Frame) {
	switch f.Type {
	case wire.TypeChannelPost, wire.TypeServerScope:
		s.dispatchUserInput(c, f)
	case wire.TypeControl:
		c.isServerPeer = true
		s.dispatchControl(c, f)
	case wire.TypeRelay:
		c.isServerPeer = true
		s.dispatchRelay(c, f)
	}
}

func (s *Server) dispatchUserInput(c *Conn, f wire.Frame) {
	s.mu.Lock()
	if f.Nickname != "" {
		s.nickConn[f.Nickname] = c
	}
	ch, inChannel := s.connChannel[c]
	s.mu.Unlock()

	payload := f.Payload

	if inChannel {
		if len(payload) > 0 && payload[0] == '/' {
			if !ch.HandleCommand(c, payload[1:], now()) {
				_ = c.Send(replyFrame("Command not recognized"))
			}
			return
		}
		nick := f.Nickname
		if assigned, ok := ch.NicknameOf(c); ok {
			nick = assigned
		}
		ch.Broadcast(wire.Frame{Nickname: nick, Timestamp: f.Timestamp, Payload: f.Payload}, true, true)
		return
	}

	if len(payload) == 0 || payload[0] != '/' {
		_ = c.Send(replyFrame("Join a channel first (/join or /create)."))
		return
	}
	s.dispatchServerCommand(c, payload[1:], f.Nickname, f.Timestamp)
}

func replyFrame(text string) wire.Frame {
	return wire.Frame{ChannelID: wire.ServerChannelID, Type: wire.TypeServerScope, Timestamp: now(), Payload: text}
}

func now() uint32 { return uint32(time.Now().Unix()) }
