package grid

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

const (
	// HotTemp is the fixed temperature of the heat source on row 0.
	HotTemp = 100.0
	// InitialTemp is the starting temperature of every other cell.
	InitialTemp = 20.0
	// MinSize is the smallest grid that still has an interior cell.
	MinSize = 3
)

// ErrGridTooSmall is returned when a grid has no interior rows.
var ErrGridTooSmall = errors.New("grid too small")

// ErrSizeMismatch is returned when two grids of different sizes are compared.
var ErrSizeMismatch = errors.New("grid size mismatch")

// Grid is an N×N temperature field stored row-major.
// Row 0 is the heat source; columns 0 and N-1 and row N-1 keep their
// initial value for the whole run.
type Grid struct {
	Cells []float64 // Row-major cell values, len N*N
	N     int       // Side length
}

// New creates a grid holding the initial condition: row 0 at HotTemp,
// every other cell at InitialTemp.
func New(n int) (*Grid, error) {
	if n < MinSize {
		return nil, fmt.Errorf("%w: n=%d, need at least %d", ErrGridTooSmall, n, MinSize)
	}
	g := &Grid{N: n, Cells: make([]float64, n*n)}
	for i := range g.Cells {
		g.Cells[i] = InitialTemp
	}
	g.PinHeatSource()
	return g, nil
}

// At returns the value of cell (i, j).
func (g *Grid) At(i, j int) float64 {
	return g.Cells[i*g.N+j]
}

// Set updates cell (i, j).
func (g *Grid) Set(i, j int, v float64) {
	g.Cells[i*g.N+j] = v
}

// Row returns row i as a view into the grid. Writes through the
// returned slice modify the grid.
func (g *Grid) Row(i int) []float64 {
	return g.Cells[i*g.N : (i+1)*g.N]
}

// PinHeatSource re-asserts the heat source temperature on row 0.
func (g *Grid) PinHeatSource() {
	row := g.Row(0)
	for j := range row {
		row[j] = HotTemp
	}
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	return &Grid{N: g.N, Cells: slices.Clone(g.Cells)}
}

// CopyFrom overwrites g with the contents of src. Both grids must share N.
func (g *Grid) CopyFrom(src *Grid) {
	copy(g.Cells, src.Cells)
}

// Rows returns a deep copy of rows [start, end) as a slice of rows.
// The copy is detached from the grid so it can be handed to another
// goroutine or serialized without aliasing.
func (g *Grid) Rows(start, end int) [][]float64 {
	out := make([][]float64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, slices.Clone(g.Row(i)))
	}
	return out
}

// SetInterior writes columns [1, N-1) of rows into the grid starting at
// row start. Columns 0 and N-1 are never touched.
func (g *Grid) SetInterior(start int, rows [][]float64) {
	for k, src := range rows {
		dst := g.Row(start + k)
		copy(dst[1:g.N-1], src[1:g.N-1])
	}
}

// MaxAbsDiff returns the largest absolute elementwise difference between
// two grids of the same size.
func MaxAbsDiff(a, b *Grid) (float64, error) {
	if a == nil || b == nil || a.N != b.N {
		return 0, ErrSizeMismatch
	}
	maxDiff := 0.0
	for i, v := range a.Cells {
		d := v - b.Cells[i]
		if d < 0 {
			d = -d
		}
		if d > maxDiff {
			maxDiff = d
		}
	}
	return maxDiff, nil
}
