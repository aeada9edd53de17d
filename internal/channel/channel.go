// Package channel implements the per-channel membership set, nickname
// map, message history ring, linked-peer set, loop-suppressing dedup
// cache, and broadcast/relay algorithm. A Channel is the unit of mutual
// exclusion: every exported method takes its own lock, so callers never
// need to coordinate separately.
package channel

import (
	"fmt"
	"sync"
	"time"

	"dechat/internal/wire"
)

// DefaultHistoryLimit is the number of most-recent messages a channel
// retains for replay to newly joined members.
const DefaultHistoryLimit = 50

// dedup window constants: a message already seen gets a short grace
// eviction so a brief echo doesn't linger; a never-mirrored message
// still falls out of the cache eventually.
const (
	repeatEvictionDelay = 10 * time.Second
	freshEvictionDelay  = 20 * time.Second
)

// BroadcastHook, if set, is called once per Broadcast with whether the
// message was newly delivered (true) or suppressed as a dedup repeat
// (false). It exists purely so the server core can feed process
// metrics without this package importing a metrics client directly.
var BroadcastHook func(delivered bool)

func reportBroadcast(delivered bool) {
	if BroadcastHook != nil {
		BroadcastHook(delivered)
	}
}

// ChannelNick is the nickname used for channel-originated announcements
// (joins, quits, emotes) and for command replies echoed back to one
// connection.
const ChannelNick = "*"

// Sender is the minimal capability a member connection must provide: the
// ability to receive one frame. Implementations are typically a pointer
// type, making them valid, comparable map keys.
type Sender interface {
	Send(wire.Frame) error
}

// LinkKey identifies one directed edge to a peer channel.
type LinkKey struct {
	Name string
	Host string
	Port uint16
}

// LinkInfo describes the remote side of a directed link edge.
type LinkInfo struct {
	Key             LinkKey
	RemoteChannelID uint16
	Peer            Sender
}

type seenEntry struct {
	timer       *time.Timer
	rescheduled bool
}

// Channel is one named chat room local to this server.
type Channel struct {
	mu sync.Mutex

	id      uint16
	name    string
	creator Sender

	password string

	members    map[Sender]struct{}
	nickByConn map[Sender]string
	connByNick map[string]Sender

	history      []wire.Frame // newest-first
	historyLimit int

	linkedPeers map[LinkKey]LinkInfo

	seen map[wire.Frame]*seenEntry

	// onMemberRemoved mirrors the reference implementation's
	// on_connection_remove callback: it lets the server core keep its
	// conn→channel map in sync without the channel knowing about it.
	onMemberRemoved func(Sender)

	destroyed bool
}

// New constructs a channel. onMemberRemoved may be nil.
func New(id uint16, name string, creator Sender, password string, onMemberRemoved func(Sender)) *Channel {
	return &Channel{
		id:              id,
		name:            name,
		creator:         creator,
		password:        password,
		members:         make(map[Sender]struct{}),
		nickByConn:      make(map[Sender]string),
		connByNick:      make(map[string]Sender),
		historyLimit:    DefaultHistoryLimit,
		linkedPeers:     make(map[LinkKey]LinkInfo),
		seen:            make(map[wire.Frame]*seenEntry),
		onMemberRemoved: onMemberRemoved,
	}
}

// ID returns the channel's server-local numeric id.
func (c *Channel) ID() uint16 { return c.id }

// Name returns the channel's name.
func (c *Channel) Name() string { return c.name }

// Creator returns the connection that created (and administers) the
// channel.
func (c *Channel) Creator() Sender { return c.creator }

// MemberCount returns the number of currently joined connections.
func (c *Channel) MemberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Nicknames returns a snapshot of every member's current nickname.
func (c *Channel) Nicknames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.nickByConn))
	for _, n := range c.nickByConn {
		out = append(out, n)
	}
	return out
}

// NicknameOf returns conn's current nickname in this channel.
func (c *Channel) NicknameOf(conn Sender) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nickByConn[conn]
	return n, ok
}

// assignNickLocked resolves nickname collisions by suffixing "(n)" and
// rewires both halves of the nickname bijection. c.mu must be held.
func (c *Channel) assignNickLocked(conn Sender, want string) string {
	if old, ok := c.nickByConn[conn]; ok {
		delete(c.connByNick, old)
		delete(c.nickByConn, conn)
	}

	nick := want
	if _, taken := c.connByNick[nick]; taken {
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s(%d)", want, i)
			if _, taken := c.connByNick[candidate]; !taken {
				nick = candidate
				break
			}
		}
	}

	c.nickByConn[conn] = nick
	c.connByNick[nick] = conn
	return nick
}

// SetNickname changes conn's nickname within the channel, suffixing on
// collision, and returns the nickname actually assigned.
func (c *Channel) SetNickname(conn Sender, want string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignNickLocked(conn, want)
}

// AddMember joins conn to the channel under nick. It fails only on a
// password mismatch; the channel's creator is exempt. On success it
// returns the (possibly suffixed) nickname actually assigned.
func (c *Channel) AddMember(conn Sender, nick, password string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.password != "" && c.password != password && conn != c.creator {
		return "", false
	}

	c.members[conn] = struct{}{}
	assigned := c.assignNickLocked(conn, nick)
	return assigned, true
}

// RemoveMember leaves the channel, performing the symmetric nickname-map
// cleanup and firing onMemberRemoved.
func (c *Channel) RemoveMember(conn Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeMemberLocked(conn)
}

func (c *Channel) removeMemberLocked(conn Sender) {
	if c.onMemberRemoved != nil {
		c.onMemberRemoved(conn)
	}
	delete(c.members, conn)
	if nick, ok := c.nickByConn[conn]; ok {
		delete(c.connByNick, nick)
		delete(c.nickByConn, conn)
	}
}

// SendHistory replays the channel's buffered history to conn, oldest
// first, skipping the `skip` most recent entries.
func (c *Channel) SendHistory(conn Sender, skip int) {
	c.mu.Lock()
	frames := make([]wire.Frame, len(c.history))
	copy(frames, c.history)
	c.mu.Unlock()

	for i := len(frames) - 1; i >= skip; i-- {
		_ = conn.Send(frames[i])
	}
}

func (c *Channel) pushHistoryLocked(msg wire.Frame) {
	c.history = append([]wire.Frame{msg}, c.history...)
	if len(c.history) > c.historyLimit {
		c.history = c.history[:c.historyLimit]
	}
}

// SetHistoryLimit changes how many messages are retained for replay and
// immediately trims the buffer if it now exceeds the new limit.
func (c *Channel) SetHistoryLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.historyLimit = n
	if n >= 0 && len(c.history) > n {
		c.history = c.history[:n]
	}
}

// SetPassword sets (or, given "", clears) the join password.
func (c *Channel) SetPassword(pw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = pw
}

// Broadcast is the central fan-out algorithm:
//
//  1. Stamp msg's channel id with this channel's own id — the canonical
//     form both the dedup cache and every member see. The caller is
//     responsible for msg's type: ordinary chat and a relay just
//     flipped back to channel-post both pass wire.TypeChannelPost, but
//     a migrate directive deliberately keeps wire.TypeControl so
//     members can tell it apart from ordinary content.
//  2. If the (now-stamped) frame has already been broadcast, this is a
//     relay loop catching up with itself: shorten its eviction to 10s
//     (once) and return without re-sending.
//  3. Otherwise remember it for 20s and continue.
//  4. Optionally save it to history.
//  5. Fan it out to every member.
//  6. Optionally relay a 0b11 copy to every linked peer, addressed with
//     that peer's remote channel id.
func (c *Channel) Broadcast(msg wire.Frame, save, relay bool) {
	c.mu.Lock()

	msg.ChannelID = c.id

	if entry, ok := c.seen[msg]; ok {
		if !entry.rescheduled {
			entry.rescheduled = true
			entry.timer.Reset(repeatEvictionDelay)
		}
		c.mu.Unlock()
		reportBroadcast(false)
		return
	}

	key := msg
	entry := &seenEntry{}
	c.seen[key] = entry
	entry.timer = time.AfterFunc(freshEvictionDelay, func() { c.evict(key) })

	if save {
		c.pushHistoryLocked(msg)
	}

	members := make([]Sender, 0, len(c.members))
	for m := range c.members {
		members = append(members, m)
	}

	var peers []LinkInfo
	if relay && len(c.linkedPeers) > 0 {
		peers = make([]LinkInfo, 0, len(c.linkedPeers))
		for _, p := range c.linkedPeers {
			peers = append(peers, p)
		}
	}

	c.mu.Unlock()

	for _, m := range members {
		_ = m.Send(msg)
	}

	for _, p := range peers {
		clone := msg
		clone.Type = wire.TypeRelay
		clone.ChannelID = p.RemoteChannelID
		_ = p.Peer.Send(clone)
	}

	reportBroadcast(true)
}

func (c *Channel) evict(key wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	delete(c.seen, key)
}

// Announce broadcasts a channel-nick ("*") system message, saved to
// history and relayed to linked peers like any other channel content.
func (c *Channel) Announce(text string, timestamp uint32) {
	c.Broadcast(wire.Frame{Nickname: ChannelNick, Timestamp: timestamp, Payload: text}, true, true)
}

// echoWithin sends a private, unsaved, unbroadcast reply to one member —
// the channel-scoped analogue of a command reply, rendered with the
// channel nickname "*".
func (c *Channel) echoWithin(conn Sender, text string, timestamp uint32) {
	_ = conn.Send(wire.Frame{ChannelID: c.id, Nickname: ChannelNick, Timestamp: timestamp, Type: wire.TypeChannelPost, Payload: text})
}

// Link adds one directed edge to a peer channel.
func (c *Channel) Link(info LinkInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linkedPeers[info.Key] = info
}

// Unlink removes one directed edge; it reports whether it existed.
func (c *Channel) Unlink(key LinkKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.linkedPeers[key]; !ok {
		return false
	}
	delete(c.linkedPeers, key)
	return true
}

// Peers returns a snapshot of every linked peer edge.
func (c *Channel) Peers() []LinkInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LinkInfo, 0, len(c.linkedPeers))
	for _, p := range c.linkedPeers {
		out = append(out, p)
	}
	return out
}

// HasLink reports whether key is among this channel's linked peers —
// used to validate a /migrate: it requires an existing link and never
// auto-creates one.
func (c *Channel) HasLink(key LinkKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.linkedPeers[key]
	return ok
}

// Close stops every pending eviction timer and clears membership. It
// does not touch any server-level registry (the channel-id/name alias
// table, the connection→channel map) — that orchestration belongs to
// the server core.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.seen {
		e.timer.Stop()
	}
	c.seen = nil
	c.destroyed = true

	for conn := range c.members {
		c.removeMemberLocked(conn)
	}
}
