package pattern

import (
	"fmt"
	"math"
)

type cellKey struct{ x, y int64 }

// dedup drops offsets within tol of one already yielded. Offsets are bucketed
// on a tol-sized lattice so a lookup only inspects the 3x3 neighbourhood.
type dedup struct {
	kind     Kind
	src      source
	tol      float64
	maxCount int

	cursor int
	seen   map[cellKey][]Offset
}

func newDedup(kind Kind, src source, tol float64, maxCount int) *dedup {
	return &dedup{
		kind:     kind,
		src:      src,
		tol:      tol,
		maxCount: maxCount,
		seen:     make(map[cellKey][]Offset),
	}
}

func (d *dedup) Kind() Kind  { return d.kind }
func (d *dedup) Cursor() int { return d.cursor }

func (d *dedup) Next() (Offset, bool) {
	if d.maxCount > 0 && d.cursor >= d.maxCount {
		return Offset{}, false
	}
	for {
		o, ok := d.src.next()
		if !ok {
			return Offset{}, false
		}
		if d.contains(o) {
			continue
		}
		d.add(o)
		d.cursor++
		return o, true
	}
}

func (d *dedup) Seek(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrCursorOutOfRange, n)
	}
	d.src.reset()
	d.seen = make(map[cellKey][]Offset)
	d.cursor = 0

	for d.cursor < n {
		if _, ok := d.Next(); !ok {
			return fmt.Errorf("%w: %d of %d", ErrCursorOutOfRange, n, d.cursor)
		}
	}
	return nil
}

func (d *dedup) key(o Offset) cellKey {
	return cellKey{int64(math.Floor(o.DX / d.tol)), int64(math.Floor(o.DY / d.tol))}
}

func (d *dedup) contains(o Offset) bool {
	k := d.key(o)
	for x := k.x - 1; x <= k.x+1; x++ {
		for y := k.y - 1; y <= k.y+1; y++ {
			for _, s := range d.seen[cellKey{x, y}] {
				if math.Abs(s.DX-o.DX) <= d.tol && math.Abs(s.DY-o.DY) <= d.tol {
					return true
				}
			}
		}
	}
	return false
}

func (d *dedup) add(o Offset) {
	k := d.key(o)
	d.seen[k] = append(d.seen[k], o)
}
