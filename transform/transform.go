// Package transform converts between screen pixels and game-world
// coordinates using the active calibration ratios.
package transform

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/LinkesAuge/Bot-worldscan-sub000/calibration"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

var (
	ErrCalibrationRequired = errors.New("calibration required")
	ErrShardMismatch       = errors.New("positions are on different shards")
)

// RatioSource provides the active calibration. *calibration.Calibrator
// satisfies it.
type RatioSource interface {
	Ratio() (calibration.Ratio, bool)
}

// Reference pairs a known game position with the screen point it was read at,
// typically the coordinate readout at the drag anchor.
type Reference struct {
	Position worldpos.Position
	Screen   worldpos.Point
}

// Drag is a screen-space displacement in pixels.
type Drag struct {
	DX, DY float64
	// ExceedsMax is set when the drag is longer than the configured maximum
	// single drag. The vector itself is never clamped.
	ExceedsMax bool
}

func (d Drag) Length() float64 {
	return math.Hypot(d.DX, d.DY)
}

// Transformer is safe for concurrent use; every call snapshots the ratios
// once so a calibration finishing mid-call cannot mix old and new values.
type Transformer struct {
	src     RatioSource
	maxDrag float64
}

// New binds a transformer to src. maxDrag <= 0 disables the single drag limit.
func New(src RatioSource, maxDrag float64) *Transformer {
	return &Transformer{src: src, maxDrag: maxDrag}
}

func (t *Transformer) MaxDrag() float64 {
	return t.maxDrag
}

// Calibrated reports whether a completed calibration is available.
func (t *Transformer) Calibrated() bool {
	_, ok := t.ratio()
	return ok
}

func (t *Transformer) ratio() (calibration.Ratio, bool) {
	if t.src == nil {
		return calibration.Ratio{}, false
	}
	r, ok := t.src.Ratio()
	if !ok || r.X == 0 || r.Y == 0 {
		return calibration.Ratio{}, false
	}
	return r, true
}

// ScreenToGame maps a screen point to a game position on the reference shard.
func (t *Transformer) ScreenToGame(p worldpos.Point, ref Reference) (worldpos.Position, error) {
	r, ok := t.ratio()
	if !ok {
		return worldpos.Position{}, ErrCalibrationRequired
	}
	dx, dy := p.Sub(ref.Screen)
	return ref.Position.Add(dx/r.X, dy/r.Y), nil
}

// GameToScreen is the inverse of ScreenToGame.
func (t *Transformer) GameToScreen(target worldpos.Position, ref Reference) (worldpos.Point, error) {
	r, ok := t.ratio()
	if !ok {
		return worldpos.Point{}, ErrCalibrationRequired
	}
	if target.Shard != ref.Position.Shard {
		return worldpos.Point{}, fmt.Errorf("%w: target %d, reference %d", ErrShardMismatch, target.Shard, ref.Position.Shard)
	}
	gdx, gdy := ref.Position.Delta(target)
	return ref.Screen.Add(gdx*r.X, gdy*r.Y), nil
}

// DragVector returns the pixel drag that pans the view from current to target.
func (t *Transformer) DragVector(current, target worldpos.Position) (Drag, error) {
	r, ok := t.ratio()
	if !ok {
		return Drag{}, ErrCalibrationRequired
	}
	if current.Shard != target.Shard {
		return Drag{}, fmt.Errorf("%w: current %d, target %d", ErrShardMismatch, current.Shard, target.Shard)
	}
	gdx, gdy := current.Delta(target)
	d := Drag{DX: gdx * r.X, DY: gdy * r.Y}
	d.ExceedsMax = t.maxDrag > 0 && d.Length() > t.maxDrag
	return d, nil
}

// IsOnScreen reports whether pos maps inside viewport. A position on another
// shard is never on screen.
func (t *Transformer) IsOnScreen(pos worldpos.Position, ref Reference, viewport image.Rectangle) (bool, error) {
	p, err := t.GameToScreen(pos, ref)
	if errors.Is(err, ErrShardMismatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.In(viewport), nil
}

// VisibleArea maps viewport to the game-space rectangle it shows. The area
// belongs to the reference shard.
func (t *Transformer) VisibleArea(ref Reference, viewport image.Rectangle) (worldpos.Area, error) {
	a, err := t.ScreenToGame(worldpos.Pt(float64(viewport.Min.X), float64(viewport.Min.Y)), ref)
	if err != nil {
		return worldpos.Area{}, err
	}
	b, err := t.ScreenToGame(worldpos.Pt(float64(viewport.Max.X), float64(viewport.Max.Y)), ref)
	if err != nil {
		return worldpos.Area{}, err
	}
	return worldpos.Area{MinX: a.X, MinY: a.Y, MaxX: b.X, MaxY: b.Y}.Canon(), nil
}
