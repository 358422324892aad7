package pattern

import "github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"

type quadNode struct {
	area  worldpos.Area
	depth int
}

// quadtree yields the center of each node, then subdivides it into four
// quadrants. Pending nodes live in an explicit work list: used as a stack for
// depth-first and as a queue for breadth-first.
type quadtree struct {
	root        worldpos.Area
	maxDepth    int
	minCellSize float64
	traversal   Traversal

	work []quadNode
	head int
	// last is the depth of the most recently yielded node.
	last int
}

func newQuadtree(area worldpos.Area, maxDepth int, minCellSize float64, traversal Traversal) *quadtree {
	q := &quadtree{
		root:        area,
		maxDepth:    maxDepth,
		minCellSize: minCellSize,
		traversal:   traversal,
	}
	q.reset()
	return q
}

func (q *quadtree) reset() {
	q.work = append(q.work[:0], quadNode{area: q.root})
	q.head = 0
	q.last = 0
}

func (q *quadtree) next() (Offset, bool) {
	n, ok := q.pop()
	if !ok {
		return Offset{}, false
	}
	q.last = n.depth
	q.push(q.children(n))

	return Offset{
		DX: (n.area.MinX + n.area.MaxX) / 2,
		DY: (n.area.MinY + n.area.MaxY) / 2,
	}, true
}

func (q *quadtree) pop() (quadNode, bool) {
	if q.traversal == BreadthFirst {
		if q.head >= len(q.work) {
			return quadNode{}, false
		}
		n := q.work[q.head]
		q.head++
		// Drop the consumed prefix once it dominates the slice.
		if q.head > 1024 && q.head*2 > len(q.work) {
			q.work = append(q.work[:0], q.work[q.head:]...)
			q.head = 0
		}
		return n, true
	}

	if len(q.work) == 0 {
		return quadNode{}, false
	}
	n := q.work[len(q.work)-1]
	q.work = q.work[:len(q.work)-1]
	return n, true
}

func (q *quadtree) push(children []quadNode) {
	if q.traversal == BreadthFirst {
		q.work = append(q.work, children...)
		return
	}
	// Reverse so the first child is popped first.
	for i := len(children) - 1; i >= 0; i-- {
		q.work = append(q.work, children[i])
	}
}

// children returns the NW, NE, SW and SE quadrants of n, or nothing when n
// is at max depth or its quadrants would be smaller than the min cell size.
func (q *quadtree) children(n quadNode) []quadNode {
	if n.depth >= q.maxDepth {
		return nil
	}
	a := n.area
	w, h := a.Dx()/2, a.Dy()/2
	if w <= 0 && h <= 0 {
		return nil
	}
	if q.minCellSize > 0 && (w < q.minCellSize || h < q.minCellSize) {
		return nil
	}

	cx, cy := a.MinX+w, a.MinY+h
	d := n.depth + 1
	return []quadNode{
		{area: worldpos.Area{MinX: a.MinX, MinY: a.MinY, MaxX: cx, MaxY: cy}, depth: d},
		{area: worldpos.Area{MinX: cx, MinY: a.MinY, MaxX: a.MaxX, MaxY: cy}, depth: d},
		{area: worldpos.Area{MinX: a.MinX, MinY: cy, MaxX: cx, MaxY: a.MaxY}, depth: d},
		{area: worldpos.Area{MinX: cx, MinY: cy, MaxX: a.MaxX, MaxY: a.MaxY}, depth: d},
	}
}
