package bot

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tetrecs/internal/game"
)

// Player makes a move on a running game every think interval.
type Player struct {
	game   *game.Game
	think  time.Duration
	log    *zap.SugaredLogger
	placed atomic.Int64
}

func NewPlayer(g *game.Game, think time.Duration, log *zap.SugaredLogger) *Player {
	if think <= 0 {
		think = time.Millisecond
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Player{game: g, think: think, log: log}
}

// Placed returns the number of pieces played.
func (p *Player) Placed() int { return int(p.placed.Load()) }

// Step plays the best available move. It reports false when nothing fits,
// leaving the countdown to replace the piece.
func (p *Player) Step() (bool, error) {
	cells := p.game.Grid()
	m, swap, ok := Plan(cells, p.game.CurrentPiece(), p.game.FollowingPiece())
	if !ok {
		return false, nil
	}
	if swap {
		if err := p.game.SwapCurrentPiece(); err != nil {
			return false, err
		}
	}
	if m.Rotation != 0 {
		if err := p.game.RotateCurrentPiece(m.Rotation); err != nil {
			return false, err
		}
	}
	placed, err := p.game.BlockClicked(m.X, m.Y)
	if placed {
		p.placed.Add(1)
		p.log.Debugw("placed piece", "x", m.X, "y", m.Y, "rotation", m.Rotation, "lines", m.Lines)
	}
	return placed, err
}

// Run plays until the game ends or ctx is done.
func (p *Player) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.think)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		switch p.game.Stats().State {
		case game.StateEnded:
			return nil
		case game.StateIdle:
			continue
		}
		if _, err := p.Step(); err != nil {
			if errors.Is(err, game.ErrNotRunning) {
				continue
			}
			return err
		}
	}
}
