// Package tracevis renders the targets a search visited to a PNG so a run can
// be inspected after the fact.
package tracevis

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

// Trace is what one search run saw.
type Trace struct {
	Pattern string
	State   string
	Origin  worldpos.Position
	// Bounds is drawn when set.
	Bounds  worldpos.Area
	Visited []worldpos.Position
	// Found is the matched position, if any.
	Found *worldpos.Position
}

const (
	DefaultSize = 640
	margin      = 24
	header      = 18
)

var (
	colBackground = color.RGBA{24, 24, 28, 255}
	colBounds     = color.RGBA{90, 90, 110, 255}
	colPath       = color.RGBA{70, 110, 160, 255}
	colOrigin     = color.RGBA{255, 255, 255, 255}
	colFound      = color.RGBA{255, 60, 60, 255}
	colText       = color.RGBA{220, 220, 220, 255}
)

// Render draws t into a size x size image. Visited targets fade from blue
// to yellow in visiting order.
func Render(t Trace, size int) *image.RGBA {
	if size <= 2*margin+header {
		size = DefaultSize
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{colBackground}, image.Point{}, draw.Src)

	v := newViewport(t, size)

	if !t.Bounds.IsZero() {
		b := t.Bounds.Canon()
		p0 := v.project(b.MinX, b.MinY)
		p1 := v.project(b.MaxX, b.MaxY)
		outline(img, image.Rectangle{Min: p0, Max: p1}.Canon(), colBounds)
	}

	for i := 1; i < len(t.Visited); i++ {
		a, b := t.Visited[i-1], t.Visited[i]
		line(img, v.project(a.X, a.Y), v.project(b.X, b.Y), colPath)
	}
	for i, p := range t.Visited {
		dot(img, v.project(p.X, p.Y), 2, gradient(i, len(t.Visited)))
	}

	o := v.project(t.Origin.X, t.Origin.Y)
	line(img, o.Add(image.Pt(-5, 0)), o.Add(image.Pt(5, 0)), colOrigin)
	line(img, o.Add(image.Pt(0, -5)), o.Add(image.Pt(0, 5)), colOrigin)

	if t.Found != nil {
		f := v.project(t.Found.X, t.Found.Y)
		outline(img, image.Rect(f.X-6, f.Y-6, f.X+7, f.Y+7), colFound)
	}

	label(img, 6, 14, fmt.Sprintf("%s %s  visited=%d  origin=%s", t.Pattern, t.State, len(t.Visited), t.Origin))
	return img
}

// Save renders t and writes it to dir as trace_<pattern>_<millis>.png.
func Save(dir string, t Trace) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create trace dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("trace_%s_%d.png", t.Pattern, time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create trace image: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, Render(t, DefaultSize)); err != nil {
		return "", fmt.Errorf("failed to encode trace image: %w", err)
	}
	log.Debug().Str("path", path).Int("visited", len(t.Visited)).Msg("[Trace] saved")
	return path, nil
}

// viewport maps game coordinates onto the image, keeping the aspect ratio.
type viewport struct {
	minX, minY float64
	scale      float64
	offX, offY int
}

func newViewport(t Trace, size int) viewport {
	minX, minY := t.Origin.X, t.Origin.Y
	maxX, maxY := minX, minY
	grow := func(x, y float64) {
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	for _, p := range t.Visited {
		grow(p.X, p.Y)
	}
	if !t.Bounds.IsZero() {
		b := t.Bounds.Canon()
		grow(b.MinX, b.MinY)
		grow(b.MaxX, b.MaxY)
	}

	span := math.Max(maxX-minX, maxY-minY)
	if span <= 0 {
		span = 1
	}
	avail := float64(size - 2*margin - header)
	return viewport{
		minX:  minX,
		minY:  minY,
		scale: avail / span,
		offX:  margin,
		offY:  margin + header,
	}
}

func (v viewport) project(x, y float64) image.Point {
	return image.Pt(
		v.offX+int(math.Round((x-v.minX)*v.scale)),
		v.offY+int(math.Round((y-v.minY)*v.scale)),
	)
}

func gradient(i, n int) color.RGBA {
	if n <= 1 {
		return color.RGBA{255, 220, 0, 255}
	}
	t := float64(i) / float64(n-1)
	return color.RGBA{
		R: uint8(60 + t*195),
		G: uint8(140 + t*80),
		B: uint8(255 - t*255),
		A: 255,
	}
}

func dot(img *image.RGBA, p image.Point, r int, c color.RGBA) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				set(img, p.X+x, p.Y+y, c)
			}
		}
	}
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	line(img, r.Min, image.Pt(r.Max.X, r.Min.Y), c)
	line(img, image.Pt(r.Max.X, r.Min.Y), r.Max, c)
	line(img, r.Max, image.Pt(r.Min.X, r.Max.Y), c)
	line(img, image.Pt(r.Min.X, r.Max.Y), r.Min, c)
}

// line draws a 1px Bresenham line.
func line(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	for {
		set(img, a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func set(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Rect) {
		img.SetRGBA(x, y, c)
	}
}

func label(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colText),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
