// Package clientcore routes input across multiple simultaneous server
// connections, tracks which one is "active" (displayed in the
// foreground), and handles migration directives.
package clientcore

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"dechat/internal/clientconn"
	"dechat/internal/wire"
)

// MaxNicknameLength mirrors wire.MaxNicknameLength: the client enforces
// it locally so a too-long /nick never even reaches the wire.
const MaxNicknameLength = wire.MaxNicknameLength

// Display renders one incoming frame (and any client-generated notice)
// to the user. A terminal UI, a test recorder, or a GUI can all
// implement it.
type Display interface {
	ShowFrame(serverName string, f wire.Frame)
	ShowNotice(text string)
}

// Client owns every ServerLink the user has open and knows which one
// is currently active (i.e. where plain, non-slash input is routed).
type Client struct {
	mu            sync.Mutex
	links         map[string]*clientconn.ServerLink
	active        string
	display       Display
	nickname      string
	lastWhisperer map[string]string // link name -> last nick seen in "X -> me"
}

// New constructs a Client that renders to display.
func New(nickname string, display Display) *Client {
	return &Client{
		links:         make(map[string]*clientconn.ServerLink),
		display:       display,
		nickname:      nickname,
		lastWhisperer: make(map[string]string),
	}
}

// Nickname returns the default nickname new outbound frames are stamped
// with.
func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

// SetNickname changes the default nickname, rejecting anything longer
// than MaxNicknameLength (mirroring the server's own field limit).
func (c *Client) SetNickname(nick string) bool {
	if len(nick) > MaxNicknameLength {
		return false
	}
	c.mu.Lock()
	c.nickname = nick
	c.mu.Unlock()
	return true
}

// Connect dials hostname:port, registers the link under name, starts
// routing its incoming frames, and — if this is the first connection —
// makes it active.
func (c *Client) Connect(name, hostname string, port int) error {
	link, err := clientconn.Dial(name, hostname, port)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}

	c.mu.Lock()
	c.links[name] = link
	if c.active == "" {
		c.active = name
	}
	c.mu.Unlock()

	go c.routeIncoming(name, link)
	link.PingForInfo()
	return nil
}

// Disconnect closes and forgets the named link.
func (c *Client) Disconnect(name string) {
	c.mu.Lock()
	link, ok := c.links[name]
	if ok {
		delete(c.links, name)
		if c.active == name {
			c.active = c.firstRemainingLocked()
		}
	}
	c.mu.Unlock()

	if ok {
		_ = link.Close()
	}
}

func (c *Client) firstRemainingLocked() string {
	for name := range c.links {
		return name
	}
	return ""
}

// Switch makes name the active link for subsequent plain input, then
// replays its buffered scrollback onto the display (oldest first) so
// re-activating a display shows what was missed while it was hidden.
func (c *Client) Switch(name string) bool {
	c.mu.Lock()
	link, ok := c.links[name]
	if ok {
		c.active = name
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	for _, f := range link.History() {
		c.display.ShowFrame(name, f)
	}
	return true
}

// ListDisplays reports every open link, annotated with its remote name
// (once known via the post-connect /info ping) and whether it is the
// currently active display.
func (c *Client) ListDisplays() []DisplayInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DisplayInfo, 0, len(c.links))
	for name, link := range c.links {
		out = append(out, DisplayInfo{
			Name:       name,
			RemoteName: link.RemoteName(),
			Active:     name == c.active,
		})
	}
	return out
}

// DisplayInfo describes one open server connection for /list_displays.
type DisplayInfo struct {
	Name       string
	RemoteName string
	Active     bool
}

// Active returns the name of the currently active link, or "" if none.
func (c *Client) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LinkNames returns every connected server's name.
func (c *Client) LinkNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.links))
	for name := range c.links {
		out = append(out, name)
	}
	return out
}

// Input handles one line of local user input. A leading "/connect",
// "/disconnect", "/switch", "/display", "/list_displays" or "/nick" is
// handled here, client-side, and "/reply" is rewritten to "/msg <last
// whisperer> ..."; anything else is forwarded as a frame to the active
// link (itself possibly a "/"-prefixed channel or server command, which
// the remote side interprets).
func (c *Client) Input(line string) {
	fields := strings.Fields(line)
	if len(fields) > 0 {
		switch strings.ToLower(fields[0]) {
		case "/connect":
			c.handleConnectCommand(fields)
			return
		case "/disconnect":
			if len(fields) >= 2 {
				c.Disconnect(fields[1])
			}
			return
		case "/switch", "/display":
			if len(fields) >= 2 && !c.Switch(fields[1]) {
				c.display.ShowNotice(fmt.Sprintf("no such connection: %s", fields[1]))
			}
			return
		case "/list_displays":
			c.showDisplays()
			return
		case "/nick":
			if len(fields) < 2 || !c.SetNickname(fields[1]) {
				c.display.ShowNotice(fmt.Sprintf("nickname must be at most %d characters", MaxNicknameLength))
			}
			return
		case "/reply":
			if len(fields) < 2 {
				c.display.ShowNotice("nothing to reply to")
				return
			}
			c.mu.Lock()
			target := c.lastWhisperer[c.active]
			c.mu.Unlock()
			if target == "" {
				c.display.ShowNotice("no one has whispered to you yet")
				return
			}
			line = "/msg " + target + " " + strings.SplitN(line, " ", 2)[1]
		}
	}

	c.mu.Lock()
	name := c.active
	link := c.links[name]
	nick := c.nickname
	c.mu.Unlock()

	if link == nil {
		c.display.ShowNotice("not connected to any server")
		return
	}

	link.Send(wire.Frame{Nickname: nick, Payload: line})
}

func (c *Client) showDisplays() {
	displays := c.ListDisplays()
	if len(displays) == 0 {
		c.display.ShowNotice("no open connections")
		return
	}
	for _, d := range displays {
		marker := " "
		if d.Active {
			marker = "*"
		}
		remote := d.RemoteName
		if remote == "" {
			remote = "(resolving...)"
		}
		c.display.ShowNotice(fmt.Sprintf("%s %s -> %s", marker, d.Name, remote))
	}
}

func (c *Client) handleConnectCommand(fields []string) {
	if len(fields) < 4 {
		c.display.ShowNotice("Usage: /connect <name> <host> <port>")
		return
	}
	var port int
	if _, err := fmt.Sscanf(fields[3], "%d", &port); err != nil {
		c.display.ShowNotice("bad port")
		return
	}
	if err := c.Connect(fields[1], fields[2], port); err != nil {
		c.display.ShowNotice(err.Error())
	}
}

// routeIncoming drains one link's decoded frames to the display (only
// while it's the active link, for plain content — server-scope replies
// and migrate directives are always shown) until the link closes.
func (c *Client) routeIncoming(name string, link *clientconn.ServerLink) {
	for f := range link.Incoming {
		if f.IsClose() {
			continue
		}
		if f.Type == wire.TypeControl {
			c.handleControlDirective(name, f)
			continue
		}
		c.mu.Lock()
		isActive := c.active == name
		if whisperer, ok := c.whispererOfLocked(f); ok {
			c.lastWhisperer[name] = whisperer
		}
		c.mu.Unlock()
		if isActive || f.ChannelID == wire.ServerChannelID {
			c.display.ShowFrame(name, f)
		}
	}
	log.Printf("[clientcore] %s: connection closed", name)
}

// handleControlDirective reacts to a --migrate broadcast from the
// server by disconnecting from the current link, reconnecting to the
// named peer under the same local link name, and re-joining the same
// channel there — the new wrapper queues /join <chan> right after its
// post-connect /info ping.
func (c *Client) handleControlDirective(name string, f wire.Frame) {
	tag, args := splitControl(f.Payload)
	if tag != wire.TagMigrate || len(args) < 3 {
		return
	}
	channelName, host, portStr := args[0], args[1], args[2]
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return
	}

	wasActive := c.Active() == name

	c.display.ShowNotice(fmt.Sprintf("%s is migrating you to %s:%d", name, host, port))
	c.Disconnect(name)
	if err := c.Connect(name, host, port); err != nil {
		c.display.ShowNotice(fmt.Sprintf("migration failed: %v", err))
		return
	}
	if wasActive {
		c.Switch(name)
	}

	c.mu.Lock()
	link := c.links[name]
	c.mu.Unlock()
	if link != nil {
		link.Send(wire.Frame{Nickname: c.nickname, Payload: "/join " + channelName})
	}
}

// whispererOfLocked reports the sender's nickname if f looks like a
// whisper addressed to this client ("sender -> me"), enabling /reply.
// c.mu must be held.
func (c *Client) whispererOfLocked(f wire.Frame) (string, bool) {
	sender, target, ok := strings.Cut(f.Nickname, " -> ")
	if !ok || target != c.nickname {
		return "", false
	}
	return sender, true
}

func splitControl(payload string) (tag string, args []string) {
	parts := strings.Split(payload, wire.SEP)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
