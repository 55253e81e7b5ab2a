// Package bot plays TetrECS without a human: it picks placements greedily
// and drives a multiplayer match over the relay protocol.
package bot

import "tetrecs/internal/game"

// Move is a placement of the current piece.
type Move struct {
	X, Y     int
	Rotation int // quarter turns to apply before placing
	Lines    int
	Blocks   int // cells cleared
	Contacts int // filled neighbours and walls touched
}

func (m Move) better(o Move) bool {
	if m.Lines != o.Lines {
		return m.Lines > o.Lines
	}
	if m.Blocks != o.Blocks {
		return m.Blocks > o.Blocks
	}
	return m.Contacts > o.Contacts
}

// BestMove tries every rotation at every cell of the grid snapshot and
// returns the placement clearing the most lines. ok is false when the piece
// fits nowhere.
func BestMove(cells [][]int, p game.Piece) (best Move, ok bool) {
	base := gridFrom(cells)
	seen := map[[3][3]int]bool{}
	for r := 0; r < 4; r++ {
		rp := p.Rotate(r)
		// symmetric pieces repeat shapes
		if seen[rp.Blocks()] {
			continue
		}
		seen[rp.Blocks()] = true
		for x := 0; x < base.Cols(); x++ {
			for y := 0; y < base.Rows(); y++ {
				if !game.CanPlace(base, rp, x, y) {
					continue
				}
				m := evaluate(cells, rp, x, y)
				m.Rotation = r
				if !ok || m.better(best) {
					best, ok = m, true
				}
			}
		}
	}
	return best, ok
}

// Plan chooses between the current and the following piece. swap is true
// when playing the following piece is strictly better.
func Plan(cells [][]int, current, following game.Piece) (m Move, swap, ok bool) {
	m, ok = BestMove(cells, current)
	alt, altOK := BestMove(cells, following)
	if altOK && (!ok || alt.better(m)) {
		return alt, true, true
	}
	return m, false, ok
}

func evaluate(cells [][]int, p game.Piece, x, y int) Move {
	g := gridFrom(cells)
	game.Place(g, p, x, y)
	m := Move{X: x, Y: y, Contacts: contacts(cells, p, x, y)}
	var cleared []game.Coordinate
	m.Lines, cleared = game.ClearLines(g)
	m.Blocks = len(cleared)
	return m
}

// contacts counts the edges of the placed blocks that touch a filled cell
// or the border.
func contacts(cells [][]int, p game.Piece, x, y int) int {
	g := gridFrom(cells)
	blocks := p.Blocks()
	n := 0
	for px := 0; px < 3; px++ {
		for py := 0; py < 3; py++ {
			if blocks[px][py] == 0 {
				continue
			}
			cx, cy := x+px-1, y+py-1
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := cx+d[0], cy+d[1]
				// skip the piece's own cells
				if bx, by := nx-x+1, ny-y+1; bx >= 0 && bx < 3 && by >= 0 && by < 3 && blocks[bx][by] != 0 {
					continue
				}
				if g.Get(nx, ny) != 0 {
					n++
				}
			}
		}
	}
	return n
}

func gridFrom(cells [][]int) *game.Grid {
	cols := len(cells)
	rows := 0
	if cols > 0 {
		rows = len(cells[0])
	}
	g := game.NewGrid(cols, rows)
	for x := range cells {
		for y, v := range cells[x] {
			g.Set(x, y, v)
		}
	}
	return g
}
