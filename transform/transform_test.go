package transform

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/LinkesAuge/Bot-worldscan-sub000/calibration"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

type fixedRatio struct {
	r  calibration.Ratio
	ok bool
}

func (f fixedRatio) Ratio() (calibration.Ratio, bool) { return f.r, f.ok }

func calibrated(x, y float64) fixedRatio {
	return fixedRatio{r: calibration.Ratio{X: x, Y: y}, ok: true}
}

var exampleRef = Reference{
	Position: worldpos.At(1, 900, 1000),
	Screen:   worldpos.Pt(300, 500),
}

func TestScreenToGameExample(t *testing.T) {
	tr := New(calibrated(2, 2), 0)

	got, err := tr.ScreenToGame(worldpos.Pt(340, 500), exampleRef)
	if err != nil {
		t.Fatalf("ScreenToGame failed: %v", err)
	}
	if got != worldpos.At(1, 920, 1000) {
		t.Errorf("expected K:1 X:920 Y:1000, got %v", got)
	}

	back, err := tr.GameToScreen(got, exampleRef)
	if err != nil {
		t.Fatalf("GameToScreen failed: %v", err)
	}
	if back != worldpos.Pt(340, 500) {
		t.Errorf("expected (340,500), got %v", back)
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		rx := (rng.Float64()*4 + 0.1) * float64(1-2*rng.Intn(2))
		ry := (rng.Float64()*4 + 0.1) * float64(1-2*rng.Intn(2))
		tr := New(calibrated(rx, ry), 0)
		ref := Reference{
			Position: worldpos.At(rng.Intn(50)+1, rng.Float64()*1000, rng.Float64()*1000),
			Screen:   worldpos.Pt(rng.Float64()*1920, rng.Float64()*1080),
		}
		p := worldpos.Pt(rng.Float64()*1920, rng.Float64()*1080)

		g, err := tr.ScreenToGame(p, ref)
		if err != nil {
			t.Fatalf("ScreenToGame failed: %v", err)
		}
		q, err := tr.GameToScreen(g, ref)
		if err != nil {
			t.Fatalf("GameToScreen failed: %v", err)
		}
		if math.Abs(q.X-p.X) > 1e-6 || math.Abs(q.Y-p.Y) > 1e-6 {
			t.Fatalf("round trip drifted: %v -> %v -> %v (ratio %v,%v)", p, g, q, rx, ry)
		}
	}
}

func TestCalibrationRequired(t *testing.T) {
	for name, src := range map[string]RatioSource{
		"nil":       nil,
		"not set":   fixedRatio{},
		"zero axis": calibrated(2, 0),
	} {
		tr := New(src, 100)
		if tr.Calibrated() {
			t.Errorf("%s: expected uncalibrated", name)
		}
		if _, err := tr.ScreenToGame(worldpos.Pt(0, 0), exampleRef); !errors.Is(err, ErrCalibrationRequired) {
			t.Errorf("%s: ScreenToGame expected ErrCalibrationRequired, got %v", name, err)
		}
		if _, err := tr.GameToScreen(worldpos.At(1, 0, 0), exampleRef); !errors.Is(err, ErrCalibrationRequired) {
			t.Errorf("%s: GameToScreen expected ErrCalibrationRequired, got %v", name, err)
		}
		if _, err := tr.DragVector(worldpos.At(1, 0, 0), worldpos.At(1, 1, 1)); !errors.Is(err, ErrCalibrationRequired) {
			t.Errorf("%s: DragVector expected ErrCalibrationRequired, got %v", name, err)
		}
		if _, err := tr.IsOnScreen(worldpos.At(1, 0, 0), exampleRef, image.Rect(0, 0, 10, 10)); !errors.Is(err, ErrCalibrationRequired) {
			t.Errorf("%s: IsOnScreen expected ErrCalibrationRequired, got %v", name, err)
		}
	}
}

func TestDragVector(t *testing.T) {
	tr := New(calibrated(2, -1.5), 300)

	d, err := tr.DragVector(worldpos.At(1, 900, 1000), worldpos.At(1, 920, 980))
	if err != nil {
		t.Fatalf("DragVector failed: %v", err)
	}
	if d.DX != 40 || d.DY != 30 || d.ExceedsMax {
		t.Errorf("unexpected drag %+v", d)
	}

	d, err = tr.DragVector(worldpos.At(1, 0, 0), worldpos.At(1, 300, 0))
	if err != nil {
		t.Fatalf("DragVector failed: %v", err)
	}
	// Full vector is returned; splitting is up to the caller.
	if d.DX != 600 || !d.ExceedsMax {
		t.Errorf("expected unclamped 600px drag flagged as exceeding, got %+v", d)
	}

	if _, err := tr.DragVector(worldpos.At(1, 0, 0), worldpos.At(2, 0, 0)); !errors.Is(err, ErrShardMismatch) {
		t.Errorf("expected ErrShardMismatch, got %v", err)
	}

	unlimited := New(calibrated(2, 2), 0)
	d, _ = unlimited.DragVector(worldpos.At(1, 0, 0), worldpos.At(1, 1e6, 0))
	if d.ExceedsMax {
		t.Errorf("no max drag configured, ExceedsMax must be false")
	}
}

func TestIsOnScreen(t *testing.T) {
	tr := New(calibrated(2, 2), 0)
	viewport := image.Rect(0, 0, 1280, 720)

	cases := []struct {
		pos  worldpos.Position
		want bool
	}{
		{worldpos.At(1, 900, 1000), true},
		{worldpos.At(1, 920, 1000), true},
		{worldpos.At(1, 750, 750), true},   // screen (0,0)
		{worldpos.At(1, 1390, 1000), false}, // screen (1280,500), max edge
		{worldpos.At(1, 749, 1000), false},
		{worldpos.At(2, 900, 1000), false},
	}
	for _, c := range cases {
		got, err := tr.IsOnScreen(c.pos, exampleRef, viewport)
		if err != nil {
			t.Fatalf("IsOnScreen(%v) failed: %v", c.pos, err)
		}
		if got != c.want {
			t.Errorf("IsOnScreen(%v) = %v, want %v", c.pos, got, c.want)
		}
	}
}

func TestVisibleArea(t *testing.T) {
	tr := New(calibrated(2, -2), 0)

	a, err := tr.VisibleArea(exampleRef, image.Rect(0, 0, 1280, 720))
	if err != nil {
		t.Fatalf("VisibleArea failed: %v", err)
	}
	want := worldpos.Area{MinX: 750, MinY: 890, MaxX: 1390, MaxY: 1250}
	if a != want {
		t.Errorf("expected %v, got %v", want, a)
	}
}
