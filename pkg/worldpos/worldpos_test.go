package worldpos

import (
	"errors"
	"image"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		text string
		want Position
	}{
		{"K:1 X:1000 Y:1000", At(1, 1000, 1000)},
		{"K：12 X：-40 Y：7", At(12, -40, 7)},
		{"k 3 x 512.5 y 88", At(3, 512.5, 88)},
		{"  K:1X:900Y:1000 ", At(1, 900, 1000)},
	}

	for _, c := range cases {
		got, err := Parse(c.text)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", c.text, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestParseUnreadable(t *testing.T) {
	for _, text := range []string{"", "X:10 Y:20", "K:1 X:abc Y:2", "hello"} {
		if _, err := Parse(text); !errors.Is(err, ErrUnreadable) {
			t.Errorf("Parse(%q) expected ErrUnreadable, got %v", text, err)
		}
	}
}

func TestPositionArithmetic(t *testing.T) {
	p := At(1, 900, 1000)
	q := p.Add(20, -5)
	if q != At(1, 920, 995) {
		t.Fatalf("unexpected Add result %v", q)
	}

	dx, dy := p.Delta(q)
	if dx != 20 || dy != -5 {
		t.Errorf("expected delta (20,-5), got (%v,%v)", dx, dy)
	}

	if !q.ApproxEqual(At(1, 920.0000001, 995), 1e-6) {
		t.Errorf("expected approx equal")
	}
	if q.ApproxEqual(At(2, 920, 995), 1e-6) {
		t.Errorf("positions on different shards must not be equal")
	}

	if s := At(1, 900, 1000.5).String(); s != "K:1 X:900 Y:1000.50" {
		t.Errorf("unexpected String %q", s)
	}
}

func TestPointIn(t *testing.T) {
	r := image.Rect(0, 0, 100, 50)
	if !Pt(0, 0).In(r) || !Pt(99.9, 49.9).In(r) {
		t.Errorf("expected points inside")
	}
	if Pt(100, 10).In(r) || Pt(10, -0.1).In(r) {
		t.Errorf("expected points outside")
	}

	c := Center(image.Rect(10, 20, 30, 60))
	if c != Pt(20, 40) {
		t.Errorf("unexpected center %v", c)
	}
	if Pt(1.6, 2.4).ImagePoint() != image.Pt(2, 2) {
		t.Errorf("unexpected rounding")
	}
}

func TestAreaCanon(t *testing.T) {
	a := Area{MinX: 100, MinY: 50, MaxX: 0, MaxY: -50}.Canon()
	if a != (Area{MinX: 0, MinY: -50, MaxX: 100, MaxY: 50}) {
		t.Fatalf("unexpected canon area %v", a)
	}
	if !a.Contains(100, 50) || !a.Contains(0, -50) || a.Contains(100.1, 0) {
		t.Errorf("edges must be inclusive")
	}
	if a.Dx() != 100 || a.Dy() != 100 {
		t.Errorf("unexpected size %vx%v", a.Dx(), a.Dy())
	}
	if !(Area{}).IsZero() || a.IsZero() {
		t.Errorf("unexpected IsZero")
	}
}
