package hub

import (
	"fmt"
	"strconv"
	"strings"

	"dechat/internal/channel"
	"dechat/internal/metricsexp"
	"dechat/internal/transport"
	"dechat/internal/wire"
)

// Control-frame payloads are a SEP-delimited tag plus arguments, e.g.
// "--link\x1fchannel\x1fhost\x1fport" (the remote channel id rides in
// the frame's own ChannelID field, not the payload — see §4.4).
// buildControl/parseControl are the single place that (de)composes
// them so the wire format only has to be gotten right once.

func buildControl(tag string, args ...string) string {
	parts := append([]string{tag}, args...)
	return strings.Join(parts, wire.SEP)
}

func parseControl(payload string) (tag string, args []string) {
	parts := strings.Split(payload, wire.SEP)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// initiateLink dials the remote server, registers a pending outbound
// connection, and sends a --link control frame asking it to mirror the
// named channel back. The handshake completes asynchronously when the
// peer answers with --response; see dispatchControl.
func (s *Server) initiateLink(c *Conn, channelName, host string, port int) {
	s.mu.Lock()
	localCh, ok := s.channels.Get(channelName)
	s.mu.Unlock()
	if !ok {
		_ = c.Send(replyFrame("No such channel."))
		return
	}

	go func() {
		raw, err := transport.Dial(host, port)
		if err != nil {
			metricsexp.Default().LinkFailed()
			_ = c.Send(replyFrame(fmt.Sprintf("link to %s:%d failed: %v", host, port, err)))
			return
		}
		metricsexp.Default().LinkSucceeded()
		peer := newConn(raw)
		peer.isServerPeer = true

		s.mu.Lock()
		s.conns = append(s.conns, peer)
		s.mu.Unlock()

		_ = peer.Send(wire.Frame{
			ChannelID: localCh.ID(),
			Type:      wire.TypeControl,
			Payload:   buildControl(wire.TagLink, channelName, s.hostname, strconv.Itoa(s.port)),
		})
		_ = c.Send(replyFrame(fmt.Sprintf("Link request sent to %s:%d for %s.", host, port, channelName)))
		s.audit("", "link", fmt.Sprintf("%s -> %s:%d", channelName, host, port), "")
	}()
}

func (s *Server) initiateUnlink(c *Conn, channelName, host string, port int) {
	s.mu.Lock()
	ch, ok := s.channels.Get(channelName)
	s.mu.Unlock()
	if !ok {
		_ = c.Send(replyFrame("No such channel."))
		return
	}

	var target channel.LinkInfo
	var found bool
	for _, p := range ch.Peers() {
		if p.Key.Host == host && int(p.Key.Port) == port {
			target, found = p, true
			break
		}
	}
	if !found {
		_ = c.Send(replyFrame("No such link."))
		return
	}

	ch.Unlink(target.Key)
	_ = target.Peer.Send(wire.Frame{Type: wire.TypeControl, Payload: buildControl(wire.TagUnlink, channelName)})
	_ = c.Send(replyFrame("Unlinked."))
	s.audit("", "unlink", fmt.Sprintf("%s -> %s:%d", channelName, host, port), "")
}

// initiateMigrate requires that the target already be a recorded link;
// nothing is auto-created. On success: (a) the peer is told to drop its
// half of the link, (b) every local member is told to reconnect to the
// peer and re-join the same channel name there, and (c) the local
// channel is destroyed — a subsequent /join for this name on this
// server fails until (if ever) it is recreated.
func (s *Server) initiateMigrate(c *Conn, channelName, host string, port int, nick string, timestamp uint32) {
	s.mu.Lock()
	ch, ok := s.channels.Get(channelName)
	s.mu.Unlock()
	if !ok {
		_ = c.Send(replyFrame("No such channel."))
		return
	}

	key := channel.LinkKey{Name: channelName, Host: host, Port: uint16(port)}
	if !ch.HasLink(key) {
		_ = c.Send(replyFrame("Migrate target must already be linked."))
		return
	}

	for _, p := range ch.Peers() {
		if p.Key == key {
			_ = p.Peer.Send(wire.Frame{Type: wire.TypeControl, Payload: buildControl(wire.TagUnlink, channelName)})
			break
		}
	}
	ch.Unlink(key)

	directive := buildControl(wire.TagMigrate, channelName, host, strconv.Itoa(port))
	ch.Broadcast(wire.Frame{Nickname: channel.ChannelNick, Timestamp: timestamp, Type: wire.TypeControl, Payload: directive}, false, false)

	s.destroyChannelByName(channelName)
	s.audit(nick, "migrate", fmt.Sprintf("%s -> %s:%d", channelName, host, port), "")
}

// dispatchControl handles a 0b10 control frame arriving from a peer
// server connection: one of the four SEP-delimited tags.
func (s *Server) dispatchControl(c *Conn, f wire.Frame) {
	tag, args := parseControl(f.Payload)
	switch tag {
	case wire.TagLink:
		s.handleLinkRequest(c, f.ChannelID, args)
	case wire.TagUnlink:
		s.handleUnlinkNotice(args)
	case wire.TagResponse:
		s.handleLinkResponse(c, f.ChannelID, args)
	case wire.TagMigrate:
		// Migrate directives are broadcast within a channel as control
		// frames (see initiateMigrate) and consumed by clients; the
		// server core has nothing further to do when it merely relays
		// one from a linked peer.
	}
}

// handleLinkRequest answers a --link|<channel>|<host>|<port> directive
// whose frame.ChannelID carries the requester's own numeric id for this
// channel. Per spec §4.4 this never auto-creates: if the named channel
// doesn't exist locally the reply carries wire.ServerChannelID (0xFFFF)
// to signal failure, and no edge is recorded.
func (s *Server) handleLinkRequest(c *Conn, remoteChannelID uint16, args []string) {
	if len(args) < 3 {
		return
	}
	channelName, peerHost, peerPortStr := args[0], args[1], args[2]
	peerPort, err := strconv.Atoi(peerPortStr)
	if err != nil {
		return
	}

	s.mu.Lock()
	ch, ok := s.channels.Get(channelName)
	s.mu.Unlock()

	if !ok {
		_ = c.Send(wire.Frame{
			ChannelID: wire.ServerChannelID,
			Type:      wire.TypeControl,
			Payload:   buildControl(wire.TagResponse, channelName, s.hostname, strconv.Itoa(s.port)),
		})
		return
	}

	ch.Link(channel.LinkInfo{
		Key:             channel.LinkKey{Name: channelName, Host: peerHost, Port: uint16(peerPort)},
		RemoteChannelID: remoteChannelID,
		Peer:            c,
	})

	_ = c.Send(wire.Frame{
		ChannelID: ch.ID(),
		Type:      wire.TypeControl,
		Payload:   buildControl(wire.TagResponse, channelName, s.hostname, strconv.Itoa(s.port)),
	})

	if s.onLinkEdge != nil {
		s.onLinkEdge(channelName, peerHost, peerPort, remoteChannelID, false)
	}
}

// handleLinkResponse completes the handshake initiateLink started. A
// frame.ChannelID of wire.ServerChannelID means the peer rejected the
// link (its named channel doesn't exist); no edge is recorded then.
func (s *Server) handleLinkResponse(c *Conn, remoteChannelID uint16, args []string) {
	if len(args) < 3 || remoteChannelID == wire.ServerChannelID {
		return
	}
	channelName, peerHost, peerPortStr := args[0], args[1], args[2]
	peerPort, err := strconv.Atoi(peerPortStr)
	if err != nil {
		return
	}

	s.mu.Lock()
	ch, ok := s.channels.Get(channelName)
	s.mu.Unlock()
	if !ok {
		return
	}

	ch.Link(channel.LinkInfo{
		Key:             channel.LinkKey{Name: channelName, Host: peerHost, Port: uint16(peerPort)},
		RemoteChannelID: remoteChannelID,
		Peer:            c,
	})

	if s.onLinkEdge != nil {
		s.onLinkEdge(channelName, peerHost, peerPort, remoteChannelID, true)
	}
}

func (s *Server) handleUnlinkNotice(args []string) {
	if len(args) < 1 {
		return
	}
	channelName := args[0]
	s.mu.Lock()
	ch, ok := s.channels.Get(channelName)
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range ch.Peers() {
		ch.Unlink(p.Key)
	}
}

// dispatchRelay applies a 0b11 relay frame from a linked peer to the
// local channel it targets (f.ChannelID is the local channel's own
// id, per the addressing convention established at link time), saving
// and re-broadcasting it under Broadcast's own dedup/eviction rules so
// loops across three or more linked servers still converge.
func (s *Server) dispatchRelay(c *Conn, f wire.Frame) {
	s.mu.Lock()
	ch, ok := s.channels.Get(chanKey(f.ChannelID))
	s.mu.Unlock()
	if !ok {
		return
	}
	f.Type = wire.TypeChannelPost
	ch.Broadcast(f, true, true)
}
