package game

import (
	"context"
	"math/rand/v2"
	"sync"
)

// PieceSource supplies the next piece for a game.
type PieceSource interface {
	Next(ctx context.Context) (Piece, error)
}

// RandomSource samples pieces locally.
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource creates a source seeded from seed. The same seed yields the
// same piece sequence.
func NewRandomSource(seed uint64) *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSource) Next(ctx context.Context) (Piece, error) {
	if err := ctx.Err(); err != nil {
		return Piece{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return RandomPiece(s.rng), nil
}

// SequenceSource replays a fixed list of ordinals, then repeats the last one.
// Useful for scripted games and tests.
type SequenceSource struct {
	mu       sync.Mutex
	ordinals []int
	pos      int
}

func NewSequenceSource(ordinals ...int) *SequenceSource {
	return &SequenceSource{ordinals: ordinals}
}

func (s *SequenceSource) Next(ctx context.Context) (Piece, error) {
	if err := ctx.Err(); err != nil {
		return Piece{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ordinals) == 0 {
		return NewPiece(0)
	}
	i := s.pos
	if i >= len(s.ordinals) {
		i = len(s.ordinals) - 1
	} else {
		s.pos++
	}
	return NewPiece(s.ordinals[i])
}
