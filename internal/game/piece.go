package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// PieceCount is the number of shapes in the catalog.
const PieceCount = 15

// ErrUnknownPiece is returned for an ordinal outside the catalog.
var ErrUnknownPiece = errors.New("unknown piece")

// Piece is an immutable 3×3 occupancy pattern, indexed [x][y].
type Piece struct {
	ordinal  int
	rotation int
	blocks   [3][3]int
}

type shape struct {
	name   string
	blocks [3][3]int
}

// Patterns are written row by row ([y][x]) for readability and transposed on creation.
var catalog = [PieceCount]shape{
	{"line", [3][3]int{{0, 0, 0}, {1, 1, 1}, {0, 0, 0}}},
	{"c", [3][3]int{{0, 0, 0}, {1, 1, 1}, {1, 0, 1}}},
	{"plus", [3][3]int{{0, 1, 0}, {1, 1, 1}, {0, 1, 0}}},
	{"dot", [3][3]int{{0, 0, 0}, {0, 1, 0}, {0, 0, 0}}},
	{"square", [3][3]int{{1, 1, 0}, {1, 1, 0}, {0, 0, 0}}},
	{"l", [3][3]int{{0, 0, 0}, {1, 1, 1}, {0, 0, 1}}},
	{"j", [3][3]int{{0, 0, 1}, {1, 1, 1}, {0, 0, 0}}},
	{"s", [3][3]int{{0, 0, 0}, {0, 1, 1}, {1, 1, 0}}},
	{"z", [3][3]int{{1, 1, 0}, {0, 1, 1}, {0, 0, 0}}},
	{"t", [3][3]int{{1, 0, 0}, {1, 1, 0}, {1, 0, 0}}},
	{"x", [3][3]int{{1, 0, 1}, {0, 1, 0}, {1, 0, 1}}},
	{"corner", [3][3]int{{0, 0, 0}, {1, 1, 0}, {1, 0, 0}}},
	{"inverse corner", [3][3]int{{1, 0, 0}, {1, 1, 0}, {0, 0, 0}}},
	{"diagonal", [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
	{"double", [3][3]int{{0, 1, 0}, {0, 1, 0}, {0, 0, 0}}},
}

// NewPiece returns the catalog piece for ordinal. Ordinals are never wrapped:
// an out-of-range value usually means a corrupted feed.
func NewPiece(ordinal int) (Piece, error) {
	if ordinal < 0 || ordinal >= PieceCount {
		return Piece{}, fmt.Errorf("%w: %d", ErrUnknownPiece, ordinal)
	}
	p := Piece{ordinal: ordinal}
	rows := catalog[ordinal].blocks
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			if rows[y][x] != 0 {
				p.blocks[x][y] = ordinal + 1
			}
		}
	}
	return p, nil
}

// MustPiece is NewPiece for ordinals known to be valid.
func MustPiece(ordinal int) Piece {
	p, err := NewPiece(ordinal)
	if err != nil {
		panic(err)
	}
	return p
}

// RandomPiece samples a piece uniformly from the catalog.
func RandomPiece(r *rand.Rand) Piece {
	return MustPiece(r.IntN(PieceCount))
}

func (p Piece) Ordinal() int { return p.ordinal }

// Value is the colour written into the grid for this piece.
func (p Piece) Value() int { return p.ordinal + 1 }

func (p Piece) Name() string { return catalog[p.ordinal].name }

// Rotation is the number of quarter turns applied, 0..3.
func (p Piece) Rotation() int { return p.rotation }

// Blocks returns the occupancy pattern, indexed [x][y].
func (p Piece) Blocks() [3][3]int { return p.blocks }

// Rotate returns p turned clockwise times quarter turns. Negative counts turn anticlockwise.
func (p Piece) Rotate(times int) Piece {
	times = ((times % 4) + 4) % 4
	for i := 0; i < times; i++ {
		var rotated [3][3]int
		for x := 0; x < 3; x++ {
			for y := 0; y < 3; y++ {
				rotated[2-y][x] = p.blocks[x][y]
			}
		}
		p.blocks = rotated
	}
	p.rotation = (p.rotation + times) % 4
	return p
}

func (p Piece) String() string {
	return catalog[p.ordinal].name
}
