package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tetrecs/internal/game"
)

const (
	line = 0
	plus = 2
	dot  = 3
)

func emptyCells(cols, rows int) [][]int {
	cells := make([][]int, cols)
	for x := range cells {
		cells[x] = make([]int, rows)
	}
	return cells
}

func fullCells(cols, rows int) [][]int {
	cells := emptyCells(cols, rows)
	for x := range cells {
		for y := range cells[x] {
			cells[x][y] = 1
		}
	}
	return cells
}

func TestBestMoveCompletesRow(t *testing.T) {
	cells := emptyCells(5, 5)
	cells[0][0] = 1
	cells[1][0] = 1

	m, ok := BestMove(cells, game.MustPiece(line))
	require.True(t, ok)
	assert.Equal(t, 1, m.Lines)
	assert.Equal(t, 5, m.Blocks)
	assert.Equal(t, Move{X: 3, Y: 0, Rotation: 0, Lines: 1, Blocks: 5, Contacts: m.Contacts}, m)
}

func TestBestMoveRotates(t *testing.T) {
	// column 4 has two blocks; a vertical line finishes it
	cells := emptyCells(5, 5)
	cells[4][0] = 1
	cells[4][1] = 1

	m, ok := BestMove(cells, game.MustPiece(line))
	require.True(t, ok)
	assert.Equal(t, 1, m.Lines)
	assert.Equal(t, 4, m.X)
	assert.Equal(t, 3, m.Y)
	assert.Equal(t, 1, m.Rotation%2, "vertical")
}

func TestBestMoveNothingFits(t *testing.T) {
	_, ok := BestMove(fullCells(5, 5), game.MustPiece(dot))
	assert.False(t, ok)
}

func TestBestMovePrefersContact(t *testing.T) {
	m, ok := BestMove(emptyCells(5, 5), game.MustPiece(dot))
	require.True(t, ok)
	assert.Zero(t, m.Lines)
	assert.Equal(t, 2, m.Contacts, "a corner touches two walls")
}

func TestPlanSwapsWhenOnlyFollowingFits(t *testing.T) {
	cells := fullCells(5, 5)
	cells[2][2] = 0

	m, swap, ok := Plan(cells, game.MustPiece(plus), game.MustPiece(dot))
	require.True(t, ok)
	assert.True(t, swap)
	assert.Equal(t, 2, m.X)
	assert.Equal(t, 2, m.Y)
	assert.Equal(t, 2, m.Lines, "fills a row and a column")

	_, swap, ok = Plan(cells, game.MustPiece(dot), game.MustPiece(plus))
	assert.True(t, ok)
	assert.False(t, swap)

	_, _, ok = Plan(cells, game.MustPiece(plus), game.MustPiece(plus))
	assert.False(t, ok)
}

func TestPlayerStepScores(t *testing.T) {
	g, err := game.New(game.Config{
		Source: game.NewSequenceSource(dot),
		Logger: zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(g.End)

	p := NewPlayer(g, 0, zaptest.NewLogger(t).Sugar())
	// 21 blocks cannot sit on a 5x5 board without a full row
	for i := 0; i < 21; i++ {
		placed, err := p.Step()
		require.NoError(t, err)
		require.True(t, placed, "step %d", i)
	}
	assert.Equal(t, 21, p.Placed())
	assert.Positive(t, g.Stats().Score)
}

func TestPlayerRunStopsWhenGameEnds(t *testing.T) {
	g, err := game.New(game.Config{Source: game.NewSequenceSource(dot)})
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))

	p := NewPlayer(g, 0, nil)
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	g.End()
	assert.NoError(t, <-done)
}
