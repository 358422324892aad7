// Package worldpos holds the value types shared by calibration, transform and
// search: a point in game-world space and a point on screen.
package worldpos

import (
	"errors"
	"fmt"
	"image"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnreadable is returned by Parse when the text carries no coordinate readout.
var ErrUnreadable = errors.New("coordinate readout unreadable")

// Position is an absolute point in game space. Shard is the top-level
// partition (kingdom) the point belongs to.
type Position struct {
	Shard int     `json:"shard"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// At is a convenience constructor for Position.
func At(shard int, x, y float64) Position {
	return Position{Shard: shard, X: x, Y: y}
}

// Add returns the position offset by (dx, dy) on the same shard.
func (p Position) Add(dx, dy float64) Position {
	return Position{Shard: p.Shard, X: p.X + dx, Y: p.Y + dy}
}

// Delta returns other - p on both axes. The shard is ignored.
func (p Position) Delta(other Position) (dx, dy float64) {
	return other.X - p.X, other.Y - p.Y
}

// ApproxEqual reports whether both positions are on the same shard and
// within tol of each other on each axis.
func (p Position) ApproxEqual(other Position, tol float64) bool {
	return p.Shard == other.Shard &&
		math.Abs(p.X-other.X) <= tol &&
		math.Abs(p.Y-other.Y) <= tol
}

func (p Position) String() string {
	return fmt.Sprintf("K:%d X:%s Y:%s", p.Shard, formatCoord(p.X), formatCoord(p.Y))
}

func formatCoord(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Point is a screen-space point in pixels. Y grows downward.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is a convenience constructor for Point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

func (p Point) Add(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Sub returns p - q.
func (p Point) Sub(q Point) (dx, dy float64) {
	return p.X - q.X, p.Y - q.Y
}

// In reports whether p lies inside r. Like image.Point.In, the maximum edges
// are exclusive.
func (p Point) In(r image.Rectangle) bool {
	return p.X >= float64(r.Min.X) && p.X < float64(r.Max.X) &&
		p.Y >= float64(r.Min.Y) && p.Y < float64(r.Max.Y)
}

// ImagePoint rounds p to the nearest pixel.
func (p Point) ImagePoint() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f,%.1f)", p.X, p.Y)
}

// Center returns the center of r.
func Center(r image.Rectangle) Point {
	return Point{
		X: float64(r.Min.X+r.Max.X) / 2,
		Y: float64(r.Min.Y+r.Max.Y) / 2,
	}
}

// readoutRe matches "K:1 X:1000 Y:1000" style readouts. OCR frequently drops
// separators or produces full-width colons, so both are optional.
var readoutRe = regexp.MustCompile(`(?i)K\s*[:：]?\s*(\d+)\D*?X\s*[:：]?\s*(-?\d+(?:\.\d+)?)\D*?Y\s*[:：]?\s*(-?\d+(?:\.\d+)?)`)

// Parse extracts a Position from an OCR coordinate readout.
func Parse(text string) (Position, error) {
	m := readoutRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Position{}, fmt.Errorf("%w: %q", ErrUnreadable, text)
	}

	shard, err := strconv.Atoi(m[1])
	if err != nil {
		return Position{}, fmt.Errorf("%w: shard %q", ErrUnreadable, m[1])
	}
	x, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Position{}, fmt.Errorf("%w: x %q", ErrUnreadable, m[2])
	}
	y, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Position{}, fmt.Errorf("%w: y %q", ErrUnreadable, m[3])
	}

	return Position{Shard: shard, X: x, Y: y}, nil
}

// Area is an axis-aligned rectangle in game space. Both edges are inclusive.
type Area struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Canon returns a with its corners swapped as needed so Min <= Max.
func (a Area) Canon() Area {
	if a.MinX > a.MaxX {
		a.MinX, a.MaxX = a.MaxX, a.MinX
	}
	if a.MinY > a.MaxY {
		a.MinY, a.MaxY = a.MaxY, a.MinY
	}
	return a
}

// IsZero reports whether a is the zero Area, used as "no bounds".
func (a Area) IsZero() bool {
	return a == Area{}
}

func (a Area) Contains(x, y float64) bool {
	return x >= a.MinX && x <= a.MaxX && y >= a.MinY && y <= a.MaxY
}

func (a Area) Dx() float64 { return a.MaxX - a.MinX }
func (a Area) Dy() float64 { return a.MaxY - a.MinY }

func (a Area) String() string {
	return fmt.Sprintf("[%s,%s]x[%s,%s]", formatCoord(a.MinX), formatCoord(a.MaxX), formatCoord(a.MinY), formatCoord(a.MaxY))
}
