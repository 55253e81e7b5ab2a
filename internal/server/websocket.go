package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"tetrecs/internal/lobby"
	"tetrecs/internal/protocol"
)

const writeTimeout = 5 * time.Second

// pieceReplyTimeout bounds how long a PIECE reply waits for buffer space.
var pieceReplyTimeout = time.Second

var (
	errInChannel  = errors.New("already in a channel")
	errUnknownTag = errors.New("unknown command")
	errNotText    = errors.New("text messages only")
	errBadHiScore = errors.New("invalid high score")
	errBadNumber  = errors.New("invalid number")
	errStorage    = errors.New("storage error")
)

// client is one websocket connection. Its fields are only touched by the
// connection's reader goroutine; out is shared with the channel it joins.
type client struct {
	id      string
	nick    string
	out     chan string
	channel *lobby.Channel
}

func (cl *client) reply(line string) {
	select {
	case cl.out <- line:
	default:
		// drop message if buffer full
	}
}

// replyWait queues line, waiting up to d for space. It reports whether the
// line was queued.
func (cl *client) replyWait(line string, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case cl.out <- line:
		return true
	case <-t.C:
		return false
	}
}

func (cl *client) fail(err error) {
	cl.reply(protocol.Format(protocol.Error, err.Error()))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		s.log.Warnw("websocket accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	cl := &client{
		id:   id,
		nick: "guest-" + id[:8],
		out:  make(chan string, lobby.SendBuffer),
	}
	log := s.log.With("player", id)
	log.Infow("player connected")

	// Writer goroutine: send lines from the queue to the websocket
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range cl.out {
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, []byte(line))
			wcancel()
			if err != nil {
				cancel()
				// keep draining so senders never block
				for range cl.out {
				}
				return
			}
		}
	}()

	// Reader loop: handle incoming lines
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			cl.fail(errNotText)
			continue
		}
		if !s.handleLine(cl, string(data)) {
			break
		}
	}

	s.part(cl)
	close(cl.out)
	<-done
	log.Infow("player disconnected")
}

// handleLine runs one command. It returns false when the client quits.
func (s *Server) handleLine(cl *client, line string) bool {
	msg, err := protocol.Parse(line)
	if err != nil {
		cl.fail(err)
		return true
	}
	switch msg.Tag {
	case protocol.List:
		cl.reply(protocol.Format(protocol.Channels, strings.Join(s.manager.Names(), "\n")))

	case protocol.Create:
		s.create(cl, strings.TrimSpace(msg.Body))

	case protocol.Join:
		if cl.channel != nil {
			cl.fail(errInChannel)
			return true
		}
		c, ok := s.manager.Get(strings.TrimSpace(msg.Body))
		if !ok {
			cl.fail(lobby.ErrChannelNotFound)
			return true
		}
		s.join(cl, c)

	case protocol.Part:
		if s.part(cl) {
			cl.reply(protocol.Parted)
		}

	case protocol.Nick:
		s.nick(cl, strings.TrimSpace(msg.Body))

	case protocol.Users:
		if c := s.member(cl); c != nil {
			cl.reply(usersLine(c))
		}

	case protocol.Start:
		if c := s.member(cl); c != nil {
			if err := s.manager.Start(c, cl.id); err != nil {
				cl.fail(err)
				return true
			}
			s.log.Infow("game started", "channel", c.Name)
			c.Broadcast(protocol.Start)
		}

	case protocol.Msg:
		if c := s.member(cl); c != nil {
			c.Broadcast(protocol.Format(protocol.Msg, cl.nick+":"+msg.Body))
		}

	case protocol.Piece:
		if c := s.member(cl); c != nil {
			n, err := c.NextPiece(cl.id)
			if err != nil {
				cl.fail(err)
				return true
			}
			if !cl.replyWait(protocol.FormatInt(protocol.Piece, n), pieceReplyTimeout) {
				c.ReturnPiece(cl.id)
				s.log.Warnw("piece reply dropped", "channel", c.Name, "player", cl.id)
			}
		}

	case protocol.Score, protocol.Lives:
		c := s.member(cl)
		if c == nil {
			return true
		}
		n, err := protocol.ParseInt(msg.Body)
		if err != nil || n < 0 {
			cl.fail(errBadNumber)
			return true
		}
		if msg.Tag == protocol.Score {
			err = c.SetScore(cl.id, n)
		} else {
			err = c.SetLives(cl.id, n)
		}
		if err != nil {
			cl.fail(err)
		}

	case protocol.Die:
		if c := s.member(cl); c != nil {
			finished, err := s.manager.Die(c, cl.id)
			if err != nil {
				cl.fail(err)
				return true
			}
			c.Broadcast(scoresLine(c))
			if finished {
				s.log.Infow("game finished", "channel", c.Name)
			}
		}

	case protocol.Scores:
		if c := s.member(cl); c != nil {
			cl.reply(scoresLine(c))
		}

	case protocol.HiScores:
		unique := strings.EqualFold(strings.TrimSpace(msg.Body), "UNIQUE")
		scores, err := s.hiScores(DefaultHiScoreLimit, unique)
		if err != nil {
			cl.fail(errStorage)
			return true
		}
		cl.reply(protocol.Format(protocol.HiScores, protocol.FormatHiScores(scores)))

	case protocol.HiScore:
		ns, err := protocol.ParseNameScore(msg.Body)
		if err != nil || !lobby.ValidName(ns.Name) || ns.Score < 0 {
			cl.fail(errBadHiScore)
			return true
		}
		if err := s.store.AddHiScore(ns.Name, ns.Score); err != nil {
			s.log.Errorw("add hiscore", "error", err)
			cl.fail(errStorage)
			return true
		}
		cl.reply(protocol.Format(protocol.NewScore, protocol.FormatHiScores([]protocol.NameScore{ns})))

	case protocol.Quit:
		return false

	default:
		cl.fail(errUnknownTag)
	}
	return true
}

// member returns the client's channel, replying with an error when it has
// none.
func (s *Server) member(cl *client) *lobby.Channel {
	if cl.channel == nil {
		cl.fail(lobby.ErrNotMember)
	}
	return cl.channel
}

func (s *Server) create(cl *client, name string) {
	if cl.channel != nil {
		cl.fail(errInChannel)
		return
	}
	c, err := s.manager.Create(name)
	if err != nil {
		cl.fail(err)
		return
	}
	if !s.join(cl, c) {
		s.manager.Remove(c.Name)
	}
}

func (s *Server) join(cl *client, c *lobby.Channel) bool {
	if _, err := c.AddPlayer(cl.id, cl.nick, cl.out); err != nil {
		cl.fail(err)
		return false
	}
	cl.channel = c
	cl.reply(protocol.Format(protocol.Join, c.Name))
	if c.IsHost(cl.id) {
		cl.reply(protocol.Host)
	}
	c.Broadcast(usersLine(c))
	return true
}

// part leaves the current channel, if any. It reports whether the client
// was in one.
func (s *Server) part(cl *client) bool {
	c := cl.channel
	if c == nil {
		return false
	}
	cl.channel = nil
	newHost := s.manager.Leave(c, cl.id)
	c.Broadcast(usersLine(c))
	if newHost != "" {
		c.Send(newHost, protocol.Host)
	}
	return true
}

func (s *Server) nick(cl *client, name string) {
	if name == "" {
		cl.reply(protocol.Format(protocol.Nick, cl.nick))
		return
	}
	if !lobby.ValidName(name) {
		cl.fail(lobby.ErrInvalidName)
		return
	}
	if cl.channel != nil {
		if err := cl.channel.Rename(cl.id, name); err != nil {
			cl.fail(err)
			return
		}
	}
	cl.nick = name
	cl.reply(protocol.Format(protocol.Nick, name))
	if cl.channel != nil {
		cl.channel.Broadcast(usersLine(cl.channel))
	}
}

func usersLine(c *lobby.Channel) string {
	return protocol.Format(protocol.Users, strings.Join(c.Users(), "\n"))
}

func scoresLine(c *lobby.Channel) string {
	return protocol.Format(protocol.Scores, protocol.FormatScores(c.Scores()))
}
