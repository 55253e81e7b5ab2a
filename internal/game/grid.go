package game

// Grid is a cols × rows board of cell values. 0 is empty, anything
// positive is the colour value of the piece that filled it.
type Grid struct {
	cols     int
	rows     int
	cells    []int
	onChange func(x, y, value int)
}

// NewGrid creates an empty grid.
func NewGrid(cols, rows int) *Grid {
	return &Grid{
		cols:  cols,
		rows:  rows,
		cells: make([]int, cols*rows),
	}
}

func (g *Grid) Cols() int { return g.cols }
func (g *Grid) Rows() int { return g.rows }

func (g *Grid) inBounds(x, y int) bool {
	return x >= 0 && x < g.cols && y >= 0 && y < g.rows
}

// Get returns the value at (x, y), or -1 when the coordinate is outside the grid.
func (g *Grid) Get(x, y int) int {
	if !g.inBounds(x, y) {
		return -1
	}
	return g.cells[y*g.cols+x]
}

// Set writes value at (x, y). Writes outside the grid are ignored.
func (g *Grid) Set(x, y, value int) {
	if !g.inBounds(x, y) {
		return
	}
	i := y*g.cols + x
	if g.cells[i] == value {
		return
	}
	g.cells[i] = value
	if g.onChange != nil {
		g.onChange(x, y, value)
	}
}

// OnChange registers a callback invoked whenever a cell value changes.
func (g *Grid) OnChange(fn func(x, y, value int)) {
	g.onChange = fn
}

// Reset empties every cell.
func (g *Grid) Reset() {
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			g.Set(x, y, 0)
		}
	}
}

// Cells returns a copy of the board indexed [x][y].
func (g *Grid) Cells() [][]int {
	out := make([][]int, g.cols)
	for x := range out {
		out[x] = make([]int, g.rows)
		for y := range out[x] {
			out[x][y] = g.cells[y*g.cols+x]
		}
	}
	return out
}
