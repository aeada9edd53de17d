package channel

import (
	"fmt"
	"strconv"
	"strings"

	"dechat/internal/wire"
)

// HandleCommand interprets one in-channel command typed by conn — the
// leading "/" has already been consumed by the caller. It reports
// whether the input was a recognized command; unrecognized input
// returns false so the caller (the server core) can reject it.
func (c *Channel) HandleCommand(conn Sender, line string, now uint32) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "nick":
		if len(fields) < 2 {
			return true
		}
		newNick := fields[1]
		if len(newNick) <= wire.MaxNicknameLength {
			c.SetNickname(conn, newNick)
		}
		return true

	case "list":
		c.echoWithin(conn, strings.Join(c.Nicknames(), "\n"), now)
		return true

	case "emote":
		if len(fields) < 2 {
			return true
		}
		msg := strings.SplitN(line, " ", 2)[1]
		nick, ok := c.NicknameOf(conn)
		if !ok {
			return true
		}
		c.Announce(fmt.Sprintf("%s %s", nick, msg), now)
		return true

	case "admin":
		if len(fields) < 2 {
			return true
		}
		target := fields[1]
		echo := target
		c.mu.Lock()
		targetConn, exists := c.connByNick[target]
		c.mu.Unlock()
		switch {
		case !exists:
			echo += " doesn't exist"
		case targetConn == c.creator:
			echo += " is an operator"
		default:
			echo += " is a regular"
		}
		c.echoWithin(conn, echo, now)
		return true

	case "message_limit":
		if len(fields) >= 2 && conn == c.creator {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				c.SetHistoryLimit(n)
			}
		}
		return true

	case "pass":
		if conn != c.creator {
			c.echoWithin(conn, "You are not the admin of the channel!", now)
			return true
		}
		pw := ""
		if len(fields) > 1 {
			pw = fields[1]
		}
		c.SetPassword(pw)
		return true

	case "msg":
		if len(fields) < 3 {
			return true
		}
		targetName := fields[1]
		c.mu.Lock()
		targetConn, ok := c.connByNick[targetName]
		senderNick := c.nickByConn[conn]
		c.mu.Unlock()
		if !ok {
			return true
		}
		text := strings.SplitN(line, " ", 3)[2]
		whisper := wire.Frame{
			ChannelID: c.id,
			Nickname:  fmt.Sprintf("%s -> %s", senderNick, targetName),
			Timestamp: now,
			Type:      wire.TypeChannelPost,
			Payload:   text,
		}
		_ = conn.Send(whisper)
		_ = targetConn.Send(whisper)
		return true

	case "quit":
		nick, ok := c.NicknameOf(conn)
		if !ok {
			return true
		}
		reason := ""
		if len(fields) >= 2 {
			reason = strings.SplitN(line, " ", 2)[1]
		}
		if reason != "" {
			c.Announce(fmt.Sprintf("%s has quit (%s)", nick, reason), now)
		} else {
			c.Announce(fmt.Sprintf("%s has quit", nick), now)
		}
		c.RemoveMember(conn)
		return true

	default:
		return false
	}
}
