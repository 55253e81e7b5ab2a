package multiplayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tetrecs/internal/game"
	"tetrecs/internal/protocol"
)

// ErrPieceTimeout is returned when the peer never answers a piece request.
var ErrPieceTimeout = errors.New("timed out waiting for piece")

var errWaitTimeout = errors.New("wait timed out")

// Sender delivers one protocol line to the remote peer.
type Sender interface {
	Send(line string) error
}

// PieceQueue buffers pieces that arrive from the peer until the game asks
// for them. Each queued piece is handed to exactly one waiter.
type PieceQueue struct {
	ch  chan game.Piece
	log *zap.SugaredLogger
}

// NewPieceQueue creates a queue holding at most capacity pieces.
func NewPieceQueue(capacity int, log *zap.SugaredLogger) *PieceQueue {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PieceQueue{ch: make(chan game.Piece, capacity), log: log}
}

// Push adds a piece without blocking. When the buffer is full the piece is
// dropped and false is returned.
func (q *PieceQueue) Push(p game.Piece) bool {
	select {
	case q.ch <- p:
		return true
	default:
		q.log.Warnw("piece queue full, dropping piece", "piece", p, "capacity", cap(q.ch))
		return false
	}
}

func (q *PieceQueue) Len() int { return len(q.ch) }

// Pop waits up to timeout for a piece.
func (q *PieceQueue) Pop(ctx context.Context, timeout time.Duration) (game.Piece, error) {
	select {
	case p := <-q.ch:
		return p, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-q.ch:
		return p, nil
	case <-timer.C:
		return game.Piece{}, errWaitTimeout
	case <-ctx.Done():
		return game.Piece{}, ctx.Err()
	}
}

// RemoteSource is a game.PieceSource fed by the peer. Every call requests one
// piece to keep the prefetched buffer topped up, then takes the oldest piece
// from the queue. A request that goes unanswered is repeated after timeout,
// up to attempts times.
type RemoteSource struct {
	queue    *PieceQueue
	sender   Sender
	timeout  time.Duration
	attempts int
	log      *zap.SugaredLogger
}

func NewRemoteSource(queue *PieceQueue, sender Sender, timeout time.Duration, attempts int, log *zap.SugaredLogger) *RemoteSource {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RemoteSource{queue: queue, sender: sender, timeout: timeout, attempts: attempts, log: log}
}

// Request asks the peer for one more piece.
func (s *RemoteSource) Request() error {
	if err := s.sender.Send(protocol.Piece); err != nil {
		return fmt.Errorf("request piece: %w", err)
	}
	return nil
}

func (s *RemoteSource) Next(ctx context.Context) (game.Piece, error) {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := s.Request(); err != nil {
			return game.Piece{}, err
		}
		p, err := s.queue.Pop(ctx, s.timeout)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, errWaitTimeout) {
			return game.Piece{}, err
		}
		s.log.Warnw("piece request unanswered", "attempt", attempt, "timeout", s.timeout)
	}
	return game.Piece{}, ErrPieceTimeout
}
