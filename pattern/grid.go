package pattern

import (
	"math"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

// grid is a row-major raster over area. Cells are computed from the index so
// long rows do not accumulate floating point error.
type grid struct {
	area   worldpos.Area
	step   float64
	nx, ny int
	i      int
}

func newGrid(area worldpos.Area, step float64) *grid {
	return &grid{
		area: area,
		step: step,
		nx:   cellsAlong(area.Dx(), step),
		ny:   cellsAlong(area.Dy(), step),
	}
}

// cellsAlong counts the lattice points in [0, extent] at the given step,
// including both ends when extent is a multiple of step.
func cellsAlong(extent, step float64) int {
	return int(math.Floor(extent/step+1e-9)) + 1
}

func (g *grid) next() (Offset, bool) {
	if g.i >= g.nx*g.ny {
		return Offset{}, false
	}
	col, row := g.i%g.nx, g.i/g.nx
	g.i++
	return Offset{
		DX: g.area.MinX + float64(col)*g.step,
		DY: g.area.MinY + float64(row)*g.step,
	}, true
}

func (g *grid) reset() { g.i = 0 }
