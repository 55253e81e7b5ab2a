package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle of a game.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	ErrNotIdle       = errors.New("game already started")
	ErrNotRunning    = errors.New("game is not running")
	// ErrAwaitingPiece is returned while a placed piece waits for its successor.
	ErrAwaitingPiece = errors.New("waiting for next piece")
)

const (
	DefaultCols  = 5
	DefaultRows  = 5
	DefaultLives = 3

	MaxDelay  = 12000 * time.Millisecond
	MinDelay  = 2500 * time.Millisecond
	DelayStep = 500 * time.Millisecond
)

// Delay is the countdown for a level: 12s, minus 0.5s per level, never below 2.5s.
func Delay(level int) time.Duration {
	d := MaxDelay - time.Duration(level)*DelayStep
	if d < MinDelay {
		d = MinDelay
	}
	return d
}

// Stats is a read-only view of the counters.
type Stats struct {
	Score      int   `json:"score"`
	Level      int   `json:"level"`
	Lives      int   `json:"lives"`
	Multiplier int   `json:"multiplier"`
	State      State `json:"state"`
}

// Config holds settings for a new game. Zero values select the defaults, so
// Lives 0 means DefaultLives.
type Config struct {
	Cols      int
	Rows      int
	Lives     int
	Source    PieceSource
	Logger    *zap.SugaredLogger
	Listeners []Listener
}

type stopper interface {
	Stop() bool
}

func timeAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Game is one player's game loop. All state changes are serialised on mu.
type Game struct {
	mu  sync.Mutex
	log *zap.SugaredLogger

	grid   *Grid
	source PieceSource

	state      State
	score      int
	level      int
	lives      int
	multiplier int
	current    Piece
	following  Piece
	// pending is set while a step waits on the source with mu released.
	pending bool

	delay     time.Duration
	timer     stopper
	timerGen  uint64
	afterFunc func(time.Duration, func()) stopper

	// ctx is cancelled on End so a blocked piece source returns.
	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func() bool

	listeners []Listener
	outbox    []event
	draining  bool
}

// New creates an idle game.
func New(cfg Config) (*Game, error) {
	if cfg.Cols == 0 {
		cfg.Cols = DefaultCols
	}
	if cfg.Rows == 0 {
		cfg.Rows = DefaultRows
	}
	if cfg.Lives == 0 {
		cfg.Lives = DefaultLives
	}
	if cfg.Cols < 0 || cfg.Rows < 0 || cfg.Lives < 0 {
		return nil, fmt.Errorf("invalid game size %dx%d with %d lives", cfg.Cols, cfg.Rows, cfg.Lives)
	}
	if cfg.Source == nil {
		cfg.Source = NewRandomSource(uint64(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Game{
		log:        cfg.Logger,
		grid:       NewGrid(cfg.Cols, cfg.Rows),
		source:     cfg.Source,
		state:      StateIdle,
		lives:      cfg.Lives,
		multiplier: 1,
		afterFunc:  timeAfterFunc,
		ctx:        ctx,
		cancel:     cancel,
		listeners:  append([]Listener(nil), cfg.Listeners...),
	}, nil
}

// AddListener registers l for all future events.
func (g *Game) AddListener(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// Start seeds the pieces and arms the countdown. Cancelling ctx ends the game.
func (g *Game) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateIdle {
		g.mu.Unlock()
		return ErrNotIdle
	}
	g.log.Infow("starting game", "cols", g.grid.Cols(), "rows", g.grid.Rows(), "lives", g.lives)
	g.state = StateRunning
	g.stopWatch = context.AfterFunc(ctx, g.End)

	following, ok, err := g.fetchLocked()
	if ok {
		g.following = following
		var next Piece
		if next, ok, err = g.fetchLocked(); ok {
			g.promoteLocked(next)
		}
	}
	if err != nil {
		err = g.endLocked(err)
		g.unlockAndFlush()
		return err
	}
	if ok {
		g.armLocked()
	}
	g.unlockAndFlush()
	return nil
}

// BlockClicked tries to play the current piece centred on (x, y). It reports
// whether the piece was placed.
func (g *Game) BlockClicked(x, y int) (bool, error) {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return false, ErrNotRunning
	}
	if g.pending {
		g.mu.Unlock()
		return false, nil
	}
	if !CanPlace(g.grid, g.current, x, y) {
		g.log.Debugw("piece does not fit", "piece", g.current, "x", x, "y", y)
		g.mu.Unlock()
		return false, nil
	}
	g.log.Debugw("placing piece", "piece", g.current, "x", x, "y", y)
	Place(g.grid, g.current, x, y)
	g.afterPieceLocked()

	next, ok, err := g.fetchLocked()
	if err != nil {
		err = g.endLocked(err)
		g.unlockAndFlush()
		return true, err
	}
	if ok {
		g.promoteLocked(next)
		g.armLocked()
	}
	g.unlockAndFlush()
	return true, nil
}

// RotateCurrentPiece turns the current piece clockwise times quarter turns.
func (g *Game) RotateCurrentPiece(times int) error {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return ErrNotRunning
	}
	if g.pending {
		g.mu.Unlock()
		return ErrAwaitingPiece
	}
	g.current = g.current.Rotate(times)
	g.emitPieceLocked()
	g.unlockAndFlush()
	return nil
}

// SwapCurrentPiece exchanges the current and following pieces.
func (g *Game) SwapCurrentPiece() error {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return ErrNotRunning
	}
	if g.pending {
		g.mu.Unlock()
		return ErrAwaitingPiece
	}
	g.current, g.following = g.following, g.current
	g.emitPieceLocked()
	g.unlockAndFlush()
	return nil
}

// End stops the game. The countdown is cancelled before End returns and
// listeners are detached after GameEnded. Calling End again is a no-op.
func (g *Game) End() {
	g.cancel()
	g.mu.Lock()
	if g.state == StateEnded {
		g.mu.Unlock()
		return
	}
	g.endLocked(nil)
	g.unlockAndFlush()
}

// Stats returns the current counters.
func (g *Game) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statsLocked()
}

func (g *Game) CurrentPiece() Piece {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *Game) FollowingPiece() Piece {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.following
}

// Grid returns a copy of the board indexed [x][y].
func (g *Game) Grid() [][]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grid.Cells()
}

// Delay returns the delay the countdown was last armed with.
func (g *Game) Delay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delay
}

func (g *Game) statsLocked() Stats {
	return Stats{
		Score:      g.score,
		Level:      g.level,
		Lives:      g.lives,
		Multiplier: g.multiplier,
		State:      g.state,
	}
}

func (g *Game) afterPieceLocked() {
	lines, cells := ClearLines(g.grid)
	prevLevel := g.level
	if lines > 0 {
		g.log.Infow("lines cleared", "lines", lines, "blocks", len(cells), "multiplier", g.multiplier)
		g.score += lines * len(cells) * 10 * g.multiplier
		g.multiplier++
		g.queue(func(l Listener) { l.LinesCleared(cells) })
	} else {
		g.multiplier = 1
	}
	g.level = g.score / 1000

	stats := g.statsLocked()
	g.queue(func(l Listener) { l.ScoreChanged(stats) })
	if g.level > prevLevel {
		level := g.level
		g.queue(func(l Listener) { l.LevelUp(level) })
	}
}

// fetchLocked stops the countdown and waits on the source with mu released,
// so the game stays readable meanwhile. It returns with mu held. ok is false
// when the game ended during the wait; End cancels g.ctx to release it.
func (g *Game) fetchLocked() (next Piece, ok bool, err error) {
	g.stopTimerLocked()
	gen := g.timerGen
	g.pending = true
	g.unlockAndFlush()

	next, err = g.source.Next(g.ctx)

	g.mu.Lock()
	g.pending = false
	if g.state != StateRunning || gen != g.timerGen {
		return Piece{}, false, nil
	}
	if err != nil {
		return Piece{}, false, fmt.Errorf("next piece: %w", err)
	}
	return next, true, nil
}

// promoteLocked makes the following piece current and queues next behind it.
func (g *Game) promoteLocked(next Piece) {
	g.current = g.following
	g.following = next
	g.log.Debugw("next piece", "current", g.current, "following", g.following)
	g.emitPieceLocked()
}

func (g *Game) emitPieceLocked() {
	current, following := g.current, g.following
	g.queue(func(l Listener) { l.PieceChanged(current, following) })
}

func (g *Game) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.timerGen++
}

func (g *Game) armLocked() {
	g.stopTimerLocked()
	gen := g.timerGen
	g.delay = Delay(g.level)
	g.timer = g.afterFunc(g.delay, func() { g.expire(gen) })

	delay := g.delay
	g.queue(func(l Listener) { l.CountdownReset(delay) })
}

// expire handles the countdown for generation gen running out.
func (g *Game) expire(gen uint64) {
	g.mu.Lock()
	if g.state != StateRunning || gen != g.timerGen {
		g.mu.Unlock()
		return
	}
	g.log.Infow("countdown expired", "lives", g.lives)
	if g.lives <= 0 {
		g.endLocked(nil)
		g.unlockAndFlush()
		return
	}
	g.lives--
	g.multiplier = 1
	lives := g.lives
	g.queue(func(l Listener) { l.LifeLost(lives) })
	stats := g.statsLocked()
	g.queue(func(l Listener) { l.ScoreChanged(stats) })

	next, ok, err := g.fetchLocked()
	if err != nil {
		g.endLocked(err)
		g.unlockAndFlush()
		return
	}
	if ok {
		g.promoteLocked(next)
		g.armLocked()
	}
	g.unlockAndFlush()
}

// endLocked moves to Ended. A cancellation caused by End is reported as a
// normal ending; the returned error is what GameEnded receives.
func (g *Game) endLocked(err error) error {
	if g.state == StateEnded {
		return err
	}
	if err != nil && g.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		g.log.Warnw("ending game", "error", err)
	} else {
		g.log.Infow("ending game", "score", g.score, "level", g.level)
	}
	g.state = StateEnded
	g.stopTimerLocked()
	g.cancel()
	if g.stopWatch != nil {
		g.stopWatch()
	}
	g.queue(func(l Listener) { l.GameEnded(err) })
	return err
}

func (g *Game) queue(ev event) {
	g.outbox = append(g.outbox, ev)
}

// unlockAndFlush releases mu and delivers queued events in order. Only one
// goroutine delivers at a time; others leave their events in the outbox for
// it, so listeners never run under mu and may call back into the game.
func (g *Game) unlockAndFlush() {
	if g.draining {
		g.mu.Unlock()
		return
	}
	g.draining = true
	for len(g.outbox) > 0 {
		batch := g.outbox
		g.outbox = nil
		listeners := g.listeners
		if g.state == StateEnded {
			g.listeners = nil
		}
		g.mu.Unlock()
		for _, ev := range batch {
			for _, l := range listeners {
				ev(l)
			}
		}
		g.mu.Lock()
	}
	g.draining = false
	g.mu.Unlock()
}
