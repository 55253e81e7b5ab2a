package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tetrecs/internal/game"
	"tetrecs/internal/lobby"
	"tetrecs/internal/multiplayer"
	"tetrecs/internal/protocol"
)

// ErrDisconnected is returned when the relay closes the connection while
// the bot waits for a reply.
var ErrDisconnected = errors.New("disconnected from server")

// Conn is the relay connection the bot plays over.
type Conn interface {
	multiplayer.Sender
	Incoming() <-chan string
}

// Options configures a session.
type Options struct {
	Nick    string
	Channel string
	Think   time.Duration
	// StartDelay is how long a hosting bot waits for others before START.
	StartDelay time.Duration
	Match      multiplayer.Config
	Logger     *zap.SugaredLogger
}

// Result is the outcome of one game.
type Result struct {
	game.Stats
	Placed int
}

// Join sets the nickname and enters the channel, creating it when it does
// not exist yet. host reports whether the bot runs the channel.
func Join(ctx context.Context, conn Conn, nick, channel string) (host bool, err error) {
	if err := conn.Send(protocol.Format(protocol.Nick, nick)); err != nil {
		return false, err
	}
	if err := conn.Send(protocol.List); err != nil {
		return false, err
	}
	msg, err := await(ctx, conn, protocol.Channels)
	if err != nil {
		return false, err
	}
	cmd := protocol.Create
	for _, name := range protocol.ParseList(msg.Body) {
		if name == channel {
			cmd = protocol.Join
		}
	}
	if err := conn.Send(protocol.Format(cmd, channel)); err != nil {
		return false, err
	}

	joined := false
	for {
		msg, err := next(ctx, conn)
		if err != nil {
			return false, err
		}
		switch msg.Tag {
		case protocol.Join:
			joined = true
		case protocol.Host:
			host = true
		case protocol.Users:
			if joined {
				return host, nil
			}
		case protocol.Error:
			// lost a creation race; the channel exists now
			if cmd == protocol.Create && msg.Body == lobby.ErrChannelExists.Error() {
				cmd = protocol.Join
				if err := conn.Send(protocol.Format(cmd, channel)); err != nil {
					return false, err
				}
				continue
			}
			return false, fmt.Errorf("join %s: %s", channel, msg.Body)
		}
	}
}

// Play waits for the game to start, starting it when host, and plays until
// the game ends or ctx is done.
func Play(ctx context.Context, conn Conn, host bool, opts Options) (Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if host {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(opts.StartDelay):
		}
		if err := conn.Send(protocol.Start); err != nil {
			return Result{}, err
		}
	}
	if _, err := await(ctx, conn, protocol.Start); err != nil {
		return Result{}, err
	}
	log.Infow("game starting", "channel", opts.Channel)

	cfg := opts.Match
	cfg.Logger = log
	m, err := multiplayer.New(conn, cfg)
	if err != nil {
		return Result{}, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.Run(runCtx, conn.Incoming())
	defer m.End()

	if err := m.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{Stats: m.Game().Stats()}, nil
		}
		return Result{}, fmt.Errorf("start match: %w", err)
	}
	p := NewPlayer(m.Game(), opts.Think, log)
	if err := p.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
		return Result{}, err
	}
	m.End()
	res := Result{Stats: m.Game().Stats(), Placed: p.Placed()}
	log.Infow("game over", "score", res.Score, "level", res.Level, "placed", res.Placed)
	return res, nil
}

// await drops lines until one with tag arrives.
func await(ctx context.Context, conn Conn, tag string) (protocol.Message, error) {
	for {
		msg, err := next(ctx, conn)
		if err != nil {
			return protocol.Message{}, err
		}
		if msg.Tag == tag {
			return msg, nil
		}
	}
}

func next(ctx context.Context, conn Conn) (protocol.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		case line, ok := <-conn.Incoming():
			if !ok {
				return protocol.Message{}, ErrDisconnected
			}
			msg, err := protocol.Parse(line)
			if err != nil {
				continue
			}
			return msg, nil
		}
	}
}
