package pattern

import "math"

// spiral walks concentric square rings. Ring r holds the 8r cells at
// Chebyshev distance r; it starts at the top-left corner (-r,-r) and goes
// right, down, left, then up. Screen y grows downward.
type spiral struct {
	step     float64
	maxRings int
	i        int
}

func newSpiral(step float64, maxRings int) *spiral {
	return &spiral{step: step, maxRings: maxRings}
}

func (s *spiral) next() (Offset, bool) {
	x, y, r := spiralCell(s.i)
	if s.maxRings > 0 && r > s.maxRings {
		return Offset{}, false
	}
	s.i++
	return Offset{DX: float64(x) * s.step, DY: float64(y) * s.step}, true
}

func (s *spiral) reset() { s.i = 0 }

// spiralCell maps a sequence index to its cell and ring. Ring r occupies
// indices [(2r-1)^2, (2r+1)^2).
func spiralCell(i int) (x, y, r int) {
	if i == 0 {
		return 0, 0, 0
	}
	root := int(math.Sqrt(float64(i)))
	for root*root > i {
		root--
	}
	for (root+1)*(root+1) <= i {
		root++
	}
	r = (root + 1) / 2

	k := i - (2*r-1)*(2*r-1)
	side := 2 * r
	switch {
	case k < side:
		return -r + k, -r, r
	case k < 2*side:
		return r, -r + (k - side), r
	case k < 3*side:
		return r - (k - 2*side), r, r
	default:
		return -r, r - (k - 3*side), r
	}
}

// RingsToCover returns the number of spiral rings needed so the ring at
// Chebyshev distance r*step reaches every point of the half extents.
func RingsToCover(halfX, halfY, step float64) int {
	if step <= 0 {
		return 0
	}
	return int(math.Ceil(math.Max(math.Abs(halfX), math.Abs(halfY))/step - 1e-9))
}
