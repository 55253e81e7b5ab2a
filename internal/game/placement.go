package game

import "sort"

// Coordinate addresses one cell of the grid.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CanPlace reports whether piece fits with its 3×3 window centred on (x, y).
// Out-of-bounds cells read as -1 and therefore fail the check.
func CanPlace(g *Grid, p Piece, x, y int) bool {
	blocks := p.Blocks()
	for px := 0; px < 3; px++ {
		for py := 0; py < 3; py++ {
			if blocks[px][py] == 0 {
				continue
			}
			if g.Get(x+px-1, y+py-1) != 0 {
				return false
			}
		}
	}
	return true
}

// Place writes the piece into the grid. It does not validate; call CanPlace first.
func Place(g *Grid, p Piece, x, y int) {
	blocks := p.Blocks()
	for px := 0; px < 3; px++ {
		for py := 0; py < 3; py++ {
			if blocks[px][py] == 0 {
				continue
			}
			g.Set(x+px-1, y+py-1, blocks[px][py])
		}
	}
}

// ClearLines empties every full row and column. It returns how many lines
// qualified and the distinct cells that were cleared.
func ClearLines(g *Grid) (int, []Coordinate) {
	cols, rows := g.Cols(), g.Rows()
	clear := make(map[Coordinate]struct{})
	lines := 0

	for y := 0; y < rows; y++ {
		full := true
		for x := 0; x < cols; x++ {
			if g.Get(x, y) <= 0 {
				full = false
				break
			}
		}
		if !full {
			continue
		}
		lines++
		for x := 0; x < cols; x++ {
			clear[Coordinate{X: x, Y: y}] = struct{}{}
		}
	}

	for x := 0; x < cols; x++ {
		full := true
		for y := 0; y < rows; y++ {
			if g.Get(x, y) <= 0 {
				full = false
				break
			}
		}
		if !full {
			continue
		}
		lines++
		for y := 0; y < rows; y++ {
			clear[Coordinate{X: x, Y: y}] = struct{}{}
		}
	}

	cells := make([]Coordinate, 0, len(clear))
	for c := range clear {
		g.Set(c.X, c.Y, 0)
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].X != cells[j].X {
			return cells[i].X < cells[j].X
		}
		return cells[i].Y < cells[j].Y
	})
	return lines, cells
}
