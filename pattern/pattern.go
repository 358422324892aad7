// Package pattern generates the offsets a search visits around its origin.
//
// Generators are lazy and deterministic: the same Params always produce the
// same sequence, so a paused traversal can be resumed by seeking to a saved
// cursor.
package pattern

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

var (
	ErrInvalidParams      = errors.New("invalid pattern parameters")
	ErrCursorOutOfRange   = errors.New("cursor beyond end of pattern")
	ErrUnknownPatternKind = errors.New("unknown pattern kind")
)

// Offset is a displacement in game units relative to the search origin.
type Offset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func (o Offset) String() string {
	return fmt.Sprintf("(%+.2f,%+.2f)", o.DX, o.DY)
}

type Kind string

const (
	KindGrid     Kind = "grid"
	KindSpiral   Kind = "spiral"
	KindCircles  Kind = "circles"
	KindQuadtree Kind = "quadtree"
)

// ParseKind accepts the kind names case-insensitively, plus a few aliases the
// pipeline configs use.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grid", "raster":
		return KindGrid, nil
	case "spiral":
		return KindSpiral, nil
	case "circles", "circle", "expanding_circles":
		return KindCircles, nil
	case "quadtree", "quad":
		return KindQuadtree, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPatternKind, s)
}

type Traversal string

const (
	DepthFirst   Traversal = "depth_first"
	BreadthFirst Traversal = "breadth_first"
)

const (
	DefaultTolerance = 1e-6
	// MaxQuadtreeDepth keeps a quadtree at a few million cells.
	MaxQuadtreeDepth = 10
)

// Params selects and configures a pattern. Fields not used by the selected
// kind are ignored.
type Params struct {
	Kind Kind `json:"kind"`

	// Area is the extent of grid and quadtree patterns, relative to the origin.
	Area worldpos.Area `json:"area"`
	// Step is the grid spacing and the spiral cell size.
	Step float64 `json:"step"`

	// MaxRings caps the spiral. 0 means unbounded.
	MaxRings int `json:"max_rings"`

	RadiusStep float64 `json:"radius_step"`
	// AngleStep and RingRotation are in degrees.
	AngleStep    float64 `json:"angle_step"`
	RingRotation float64 `json:"ring_rotation"`
	// MaxRadius caps the circles. 0 means unbounded.
	MaxRadius float64 `json:"max_radius"`

	MaxDepth    int       `json:"max_depth"`
	MinCellSize float64   `json:"min_cell_size"`
	Traversal   Traversal `json:"traversal"`

	// MaxCount caps the number of offsets yielded. 0 means no cap.
	MaxCount int `json:"max_count"`
	// Tolerance is the distance under which two offsets count as the same.
	Tolerance float64 `json:"tolerance"`
}

func (p Params) withDefaults() Params {
	if p.Tolerance <= 0 {
		p.Tolerance = DefaultTolerance
	}
	if p.Kind == KindQuadtree && p.Traversal == "" {
		p.Traversal = DepthFirst
	}
	p.Area = p.Area.Canon()
	return p
}

// Bounded reports whether the pattern terminates on its own.
func (p Params) Bounded() bool {
	if p.MaxCount > 0 {
		return true
	}
	switch p.Kind {
	case KindSpiral:
		return p.MaxRings > 0
	case KindCircles:
		return p.MaxRadius > 0
	}
	return true
}

func (p Params) Validate() error {
	p = p.withDefaults()

	if p.MaxCount < 0 {
		return fmt.Errorf("%w: max_count %d", ErrInvalidParams, p.MaxCount)
	}
	if !finite(p.Tolerance) {
		return fmt.Errorf("%w: tolerance %v", ErrInvalidParams, p.Tolerance)
	}

	switch p.Kind {
	case KindGrid:
		if !(p.Step > 0) || !finite(p.Step) {
			return fmt.Errorf("%w: grid step %v", ErrInvalidParams, p.Step)
		}
		if !finiteArea(p.Area) {
			return fmt.Errorf("%w: grid area %v", ErrInvalidParams, p.Area)
		}
	case KindSpiral:
		if !(p.Step > 0) || !finite(p.Step) {
			return fmt.Errorf("%w: spiral step %v", ErrInvalidParams, p.Step)
		}
		if p.MaxRings < 0 {
			return fmt.Errorf("%w: max_rings %d", ErrInvalidParams, p.MaxRings)
		}
	case KindCircles:
		if !(p.RadiusStep > 0) || !finite(p.RadiusStep) {
			return fmt.Errorf("%w: radius_step %v", ErrInvalidParams, p.RadiusStep)
		}
		if !(p.AngleStep > 0) || p.AngleStep > 360 {
			return fmt.Errorf("%w: angle_step %v", ErrInvalidParams, p.AngleStep)
		}
		if p.MaxRadius < 0 || !finite(p.MaxRadius) || !finite(p.RingRotation) {
			return fmt.Errorf("%w: max_radius %v ring_rotation %v", ErrInvalidParams, p.MaxRadius, p.RingRotation)
		}
	case KindQuadtree:
		if !finiteArea(p.Area) {
			return fmt.Errorf("%w: quadtree area %v", ErrInvalidParams, p.Area)
		}
		if p.MaxDepth < 0 || p.MaxDepth > MaxQuadtreeDepth {
			return fmt.Errorf("%w: max_depth %d not in [0,%d]", ErrInvalidParams, p.MaxDepth, MaxQuadtreeDepth)
		}
		if p.MinCellSize < 0 || !finite(p.MinCellSize) {
			return fmt.Errorf("%w: min_cell_size %v", ErrInvalidParams, p.MinCellSize)
		}
		if p.Traversal != DepthFirst && p.Traversal != BreadthFirst {
			return fmt.Errorf("%w: traversal %q", ErrInvalidParams, p.Traversal)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPatternKind, p.Kind)
	}
	return nil
}

// Generator yields offsets one at a time. It is not safe for concurrent use;
// the consumer stops pulling to cancel.
type Generator interface {
	// Next returns the next offset, or false once the pattern is exhausted.
	Next() (Offset, bool)
	// Cursor is the number of offsets yielded so far.
	Cursor() int
	// Seek restarts the traversal and skips the first n offsets.
	Seek(n int) error
	Kind() Kind
}

// source is a raw pattern sequence before deduplication.
type source interface {
	next() (Offset, bool)
	reset()
}

// New validates p and builds its generator.
func New(p Params) (Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	var src source
	switch p.Kind {
	case KindGrid:
		src = newGrid(p.Area, p.Step)
	case KindSpiral:
		src = newSpiral(p.Step, p.MaxRings)
	case KindCircles:
		src = newCircles(p.RadiusStep, p.AngleStep, p.RingRotation, p.MaxRadius)
	case KindQuadtree:
		src = newQuadtree(p.Area, p.MaxDepth, p.MinCellSize, p.Traversal)
	}
	return newDedup(p.Kind, src, p.Tolerance, p.MaxCount), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteArea(a worldpos.Area) bool {
	return finite(a.MinX) && finite(a.MinY) && finite(a.MaxX) && finite(a.MaxY)
}
