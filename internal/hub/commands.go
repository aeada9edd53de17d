package hub

import (
	"fmt"
	"strconv"
	"strings"

	"dechat/internal/channel"
	"dechat/internal/metricsexp"
)

const defaultHelpText = "Commands: /motd /help /rules /info /list /create /join /invite /die /link /unlink /migrate"

// dispatchServerCommand handles every command available before a
// connection has joined a channel (and the handful, like /die and
// /link, that only ever make sense at server scope). line has already
// had its leading "/" stripped; nick and timestamp come from the frame
// that carried the command.
func (s *Server) dispatchServerCommand(c *Conn, line, nick string, timestamp uint32) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "motd":
		_ = c.Send(replyFrame(s.motd))

	case "help":
		_ = c.Send(replyFrame(s.help))

	case "rules":
		_ = c.Send(replyFrame(s.rules))

	case "info":
		channels, users, uptime := s.Stats()
		_ = c.Send(replyFrame(fmt.Sprintf(
			"Server: %s:%d\n%d channels\n%d connected users\nUptime: %s",
			s.hostname, s.port, channels, users, uptime.Truncate(1e9))))

	case "list":
		names := s.ChannelNames()
		if len(names) == 0 {
			_ = c.Send(replyFrame("No channels exist yet."))
			return
		}
		_ = c.Send(replyFrame(strings.Join(names, "\n")))

	case "create":
		if len(fields) < 2 {
			_ = c.Send(replyFrame("Usage: /create <name> [password]"))
			return
		}
		password := ""
		if len(fields) >= 3 {
			password = fields[2]
		}
		s.createAndJoin(c, fields[1], password, nick, timestamp)

	case "join":
		if len(fields) < 2 {
			_ = c.Send(replyFrame("Usage: /join <name> [password]"))
			return
		}
		password := ""
		if len(fields) >= 3 {
			password = fields[2]
		}
		s.joinByName(c, fields[1], password, nick, timestamp)

	case "invite":
		if len(fields) < 3 {
			_ = c.Send(replyFrame("Usage: /invite <nick> <channel>"))
			return
		}
		s.invite(c, fields[1], fields[2], nick)

	case "die":
		s.audit(nick, "server_die", "", "")
		_ = c.Send(replyFrame("Server shutting down."))
		s.Quit()

	case "link":
		if len(fields) < 4 {
			_ = c.Send(replyFrame("Usage: /link <channel> <host> <port>"))
			return
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil {
			_ = c.Send(replyFrame("bad port"))
			return
		}
		s.initiateLink(c, fields[1], fields[2], port)

	case "unlink":
		if len(fields) < 4 {
			_ = c.Send(replyFrame("Usage: /unlink <channel> <host> <port>"))
			return
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil {
			_ = c.Send(replyFrame("bad port"))
			return
		}
		s.initiateUnlink(c, fields[1], fields[2], port)

	case "migrate":
		if len(fields) < 4 {
			_ = c.Send(replyFrame("Usage: /migrate <channel> <host> <port>"))
			return
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil {
			_ = c.Send(replyFrame("bad port"))
			return
		}
		s.initiateMigrate(c, fields[1], fields[2], port, nick, timestamp)

	default:
		_ = c.Send(replyFrame("Command not recognized"))
	}
}

func (s *Server) createAndJoin(c *Conn, name, password, nick string, timestamp uint32) {
	s.mu.Lock()
	if s.channels.Contains(name) {
		s.mu.Unlock()
		_ = c.Send(replyFrame("A channel with that name already exists."))
		return
	}
	s.nextChannelID++
	id := s.nextChannelID
	ch := channel.New(id, name, c, password, s.onMemberRemoved)
	s.channels.Set(chanKey(id), ch)
	s.channels.AddAlias(chanKey(id), name)
	s.mu.Unlock()

	s.audit(nick, "create_channel", name, "")
	metricsexp.Default().ChannelsCreatedTotal.Inc()
	s.joinChannel(c, ch, password, nick, timestamp)
}

func (s *Server) joinByName(c *Conn, name, password, nick string, timestamp uint32) {
	s.mu.Lock()
	ch, ok := s.channels.Get(name)
	s.mu.Unlock()
	if !ok {
		_ = c.Send(replyFrame("No such channel."))
		return
	}
	s.joinChannel(c, ch, password, nick, timestamp)
}

func (s *Server) joinChannel(c *Conn, ch *channel.Channel, password, nick string, timestamp uint32) {
	assigned, ok := ch.AddMember(c, nick, password)
	if !ok {
		_ = c.Send(replyFrame("Wrong password."))
		return
	}

	s.mu.Lock()
	s.connChannel[c] = ch
	s.mu.Unlock()

	ch.SendHistory(c, 0)
	ch.Announce(assigned+" joined the channel!", timestamp)
}

// onMemberRemoved keeps the server's conn→channel map in sync whenever
// a channel removes one of its own members (via /quit, a dropped
// connection, or Close()).
func (s *Server) onMemberRemoved(conn channel.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connChannel, conn)
}

func (s *Server) invite(c *Conn, targetNick, channelName, fromNick string) {
	s.mu.Lock()
	target, ok := s.nickConn[targetNick]
	s.mu.Unlock()
	if !ok {
		_ = c.Send(replyFrame("No such user."))
		return
	}
	_ = target.Send(replyFrame(fmt.Sprintf("%s invites you to join %s", fromNick, channelName)))
	_ = c.Send(replyFrame("Invitation sent."))
}

// destroyChannelByName removes name from the channel registry and closes
// it. Used by /migrate once its members have been told to reconnect
// elsewhere. There is no creator check here: the caller has already
// verified the migrate target is a valid, pre-established link.
func (s *Server) destroyChannelByName(name string) {
	s.mu.Lock()
	ch, ok := s.channels.Get(name)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.channels.Delete(chanKey(ch.ID()))
	s.mu.Unlock()

	ch.Close()
	s.audit("", "destroy_channel", name, "")
	metricsexp.Default().ChannelsDestroyedTotal.Inc()
}
