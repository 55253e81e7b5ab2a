// Package multiplayer runs a game whose pieces come from a remote peer and
// reports score, lives and game over back to it.
package multiplayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tetrecs/internal/game"
	"tetrecs/internal/protocol"
)

const (
	DefaultPrefetch       = 5
	DefaultQueueSize      = 64
	DefaultPieceTimeout   = 5 * time.Second
	DefaultPieceAttempts  = 3
	DefaultScoresInterval = 2500 * time.Millisecond
	DefaultScoresDelay    = 500 * time.Millisecond
)

// Config holds settings for a match. Zero values select the defaults.
type Config struct {
	Cols  int
	Rows  int
	Lives int

	Prefetch       int
	QueueSize      int
	PieceTimeout   time.Duration
	PieceAttempts  int
	ScoresInterval time.Duration
	ScoresDelay    time.Duration

	Logger *zap.SugaredLogger
	// Listeners receive the wrapped game's events.
	Listeners []game.Listener
}

func (c *Config) setDefaults() {
	if c.Prefetch == 0 {
		c.Prefetch = DefaultPrefetch
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PieceTimeout == 0 {
		c.PieceTimeout = DefaultPieceTimeout
	}
	if c.PieceAttempts == 0 {
		c.PieceAttempts = DefaultPieceAttempts
	}
	if c.ScoresInterval == 0 {
		c.ScoresInterval = DefaultScoresInterval
	}
	if c.ScoresDelay == 0 {
		c.ScoresDelay = DefaultScoresDelay
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
}

// Listener receives match events that do not come from the local game.
type Listener interface {
	MessageReceived(from, text string)
	ScoresChanged(scores []protocol.PlayerScore)
}

// Match is a game sourcing its pieces from the peer.
type Match struct {
	cfg    Config
	log    *zap.SugaredLogger
	sender Sender
	queue  *PieceQueue
	source *RemoteSource
	game   *game.Game

	mu        sync.Mutex
	scores    []protocol.PlayerScore
	listeners []Listener
	lastScore int
	started   bool
	finished  bool
	stop      chan struct{}
}

// New creates a match and immediately asks the peer for cfg.Prefetch pieces.
func New(sender Sender, cfg Config) (*Match, error) {
	cfg.setDefaults()
	m := &Match{
		cfg:    cfg,
		log:    cfg.Logger,
		sender: sender,
		queue:  NewPieceQueue(cfg.QueueSize, cfg.Logger),
		stop:   make(chan struct{}),
	}
	m.source = NewRemoteSource(m.queue, sender, cfg.PieceTimeout, cfg.PieceAttempts, cfg.Logger)

	listeners := append([]game.Listener{&reporter{m: m}}, cfg.Listeners...)
	g, err := game.New(game.Config{
		Cols:      cfg.Cols,
		Rows:      cfg.Rows,
		Lives:     cfg.Lives,
		Source:    m.source,
		Logger:    cfg.Logger,
		Listeners: listeners,
	})
	if err != nil {
		return nil, err
	}
	m.game = g

	for i := 0; i < cfg.Prefetch; i++ {
		if err := m.source.Request(); err != nil {
			return nil, fmt.Errorf("prefetch: %w", err)
		}
	}
	return m, nil
}

// Game exposes the wrapped game for input commands and observation.
func (m *Match) Game() *game.Game { return m.game }

// AddListener registers l for chat and scoreboard events.
func (m *Match) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start begins polling the scoreboard and starts the game. It blocks until
// the first two pieces have arrived, so inbound messages must already be
// flowing through Receive or Run.
func (m *Match) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return game.ErrNotIdle
	}
	m.started = true
	m.mu.Unlock()

	go m.pollScores()
	return m.game.Start(ctx)
}

// End stops the scoreboard poll, tells the peer we are out and ends the game.
func (m *Match) End() {
	m.finish()
	m.game.End()
}

// SendMessage sends a chat line to the channel.
func (m *Match) SendMessage(text string) error {
	return m.sender.Send(protocol.Format(protocol.Msg, text))
}

// Scores returns the last scoreboard received.
func (m *Match) Scores() []protocol.PlayerScore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.PlayerScore(nil), m.scores...)
}

// QueuedPieces reports how many pieces are buffered.
func (m *Match) QueuedPieces() int { return m.queue.Len() }

// Run dispatches inbound lines until in is closed or ctx is done.
func (m *Match) Run(ctx context.Context, in <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-in:
			if !ok {
				return nil
			}
			m.Receive(line)
		}
	}
}

// Receive handles one inbound line. Malformed lines are logged and dropped.
func (m *Match) Receive(line string) {
	msg, err := protocol.Parse(line)
	if err != nil {
		m.log.Warnw("dropping message", "error", err)
		return
	}
	switch msg.Tag {
	case protocol.Piece:
		n, err := protocol.ParsePiece(msg.Body)
		if err != nil {
			m.log.Warnw("dropping piece", "error", err)
			return
		}
		p, err := game.NewPiece(n)
		if err != nil {
			m.log.Errorw("dropping piece", "error", err)
			return
		}
		m.log.Debugw("queueing piece", "piece", p)
		m.queue.Push(p)

	case protocol.Msg:
		from, text, err := protocol.ParseChat(msg.Body)
		if err != nil {
			m.log.Warnw("dropping chat", "error", err)
			return
		}
		for _, l := range m.listenerSnapshot() {
			l.MessageReceived(from, text)
		}

	case protocol.Scores:
		scores, err := protocol.ParseScores(msg.Body)
		if err != nil {
			m.log.Warnw("dropping scores", "error", err)
			return
		}
		m.mu.Lock()
		m.scores = scores
		m.mu.Unlock()
		for _, l := range m.listenerSnapshot() {
			l.ScoresChanged(append([]protocol.PlayerScore(nil), scores...))
		}

	default:
		m.log.Debugw("ignoring message", "tag", msg.Tag)
	}
}

func (m *Match) listenerSnapshot() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Listener(nil), m.listeners...)
}

func (m *Match) pollScores() {
	delay := time.NewTimer(m.cfg.ScoresDelay)
	defer delay.Stop()
	select {
	case <-m.stop:
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(m.cfg.ScoresInterval)
	defer ticker.Stop()
	for {
		m.requestScores()
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
	}
}

// requestScores holds mu while sending so no request can follow finish.
func (m *Match) requestScores() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return
	}
	if err := m.sender.Send(protocol.Scores); err != nil {
		m.log.Warnw("request scores", "error", err)
	}
}

// finish runs once, whether the game ended on its own or through End.
func (m *Match) finish() {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return
	}
	m.finished = true
	close(m.stop)
	m.mu.Unlock()

	m.log.Infow("leaving match")
	if err := m.sender.Send(protocol.Die); err != nil {
		m.log.Warnw("send die", "error", err)
	}
}

func (m *Match) reportScore(score int) {
	m.mu.Lock()
	changed := score != m.lastScore
	m.lastScore = score
	m.mu.Unlock()
	if !changed {
		return
	}
	if err := m.sender.Send(protocol.FormatInt(protocol.Score, score)); err != nil {
		m.log.Warnw("send score", "error", err)
	}
}

// reporter forwards game events to the peer.
type reporter struct {
	game.BaseListener
	m *Match
}

func (r *reporter) ScoreChanged(s game.Stats) {
	r.m.reportScore(s.Score)
}

func (r *reporter) LifeLost(lives int) {
	if err := r.m.sender.Send(protocol.FormatInt(protocol.Lives, lives)); err != nil {
		r.m.log.Warnw("send lives", "error", err)
	}
}

func (r *reporter) GameEnded(err error) {
	r.m.finish()
}
