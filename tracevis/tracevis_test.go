package tracevis

import (
	"image"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

func sampleTrace() Trace {
	found := worldpos.At(1, 140, 100)
	return Trace{
		Pattern: "grid",
		State:   "Found",
		Origin:  worldpos.At(1, 100, 100),
		Bounds:  worldpos.Area{MinX: 100, MinY: 100, MaxX: 200, MaxY: 200},
		Visited: []worldpos.Position{
			worldpos.At(1, 100, 100),
			worldpos.At(1, 120, 100),
			worldpos.At(1, 140, 100),
		},
		Found: &found,
	}
}

func TestRenderMarksFound(t *testing.T) {
	img := Render(sampleTrace(), 200)
	if img.Bounds() != image.Rect(0, 0, 200, 200) {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}

	v := newViewport(sampleTrace(), 200)
	p := v.project(140, 100)
	// The found box is drawn 6px around the match.
	if c := img.RGBAAt(p.X-6, p.Y); c != colFound {
		t.Errorf("expected found outline at %v, got %v", image.Pt(p.X-6, p.Y), c)
	}
	if c := img.RGBAAt(1, 199); c != colBackground {
		t.Errorf("expected background in the corner, got %v", c)
	}
}

func TestRenderEmptyTrace(t *testing.T) {
	img := Render(Trace{Origin: worldpos.At(1, 5, 5)}, 0)
	if img.Bounds().Dx() != DefaultSize {
		t.Errorf("expected default size, got %v", img.Bounds())
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path, err := Save(dir, sampleTrace())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasPrefix(path, dir) || !strings.HasSuffix(path, ".png") {
		t.Errorf("unexpected path %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("saved file is not a png: %v", err)
	}
}
