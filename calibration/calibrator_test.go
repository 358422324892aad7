package calibration

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

var errNoReading = errors.New("no reading")

// queueReader returns the queued readings in order, then fails.
type queueReader struct {
	mu       sync.Mutex
	readings []worldpos.Position
	calls    int
}

func (r *queueReader) ReadCurrentPosition(ctx context.Context) (worldpos.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.readings) == 0 {
		return worldpos.Position{}, errNoReading
	}
	p := r.readings[0]
	r.readings = r.readings[1:]
	return p, nil
}

func newTestCalibrator(store Store, readings ...worldpos.Position) (*Calibrator, *queueReader) {
	r := &queueReader{readings: readings}
	return New(r, store, Options{}), r
}

func TestCalibrationExampleRatio(t *testing.T) {
	store := NewMemoryStore()
	c, _ := newTestCalibrator(store, worldpos.At(1, 1000, 1000), worldpos.At(1, 900, 1000))

	if err := c.Start(context.Background(), worldpos.Pt(500, 500)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := c.Status(); st.State != StateAwaitingEnd {
		t.Fatalf("expected AwaitingEnd, got %s", st.State)
	}

	r, err := c.Complete(context.Background(), worldpos.Pt(300, 500))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if r.X != 2.0 {
		t.Errorf("expected ratio_x 2.0, got %v", r.X)
	}
	// y did not move; uniform scale borrows the x ratio.
	if r.Y != 2.0 {
		t.Errorf("expected ratio_y 2.0, got %v", r.Y)
	}

	st := c.Status()
	if st.State != StateCompleted || st.Ratio == nil || *st.Ratio != r {
		t.Errorf("unexpected status %+v", st)
	}

	saved, ok, _ := store.Load(DefaultKey)
	if !ok || saved != r {
		t.Errorf("expected ratio persisted, got %+v ok=%v", saved, ok)
	}
}

func TestCalibrationBothAxes(t *testing.T) {
	c, _ := newTestCalibrator(nil, worldpos.At(1, 100, 100), worldpos.At(1, 110, 80))

	c.Start(context.Background(), worldpos.Pt(400, 400))
	r, err := c.Complete(context.Background(), worldpos.Pt(430, 440))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if r.X != 3 || r.Y != -2 {
		t.Errorf("expected ratio (3,-2), got %+v", r)
	}
}

func TestCalibrationRatioSignFollowsDrag(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		sdx := float64(rng.Intn(800) - 400)
		sdy := float64(rng.Intn(800) - 400)
		gdx := float64(rng.Intn(200) - 100)
		gdy := float64(rng.Intn(200) - 100)
		if sdx == 0 || sdy == 0 || gdx == 0 || gdy == 0 {
			continue
		}

		c, _ := newTestCalibrator(nil, worldpos.At(1, 0, 0), worldpos.At(1, gdx, gdy))
		c.Start(context.Background(), worldpos.Pt(0, 0))
		r, err := c.Complete(context.Background(), worldpos.Pt(sdx, sdy))
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}

		// Applying the ratio to the game delta reproduces the drag direction.
		if math.Signbit(r.X*gdx) != math.Signbit(sdx) || math.Signbit(r.Y*gdy) != math.Signbit(sdy) {
			t.Fatalf("ratio %+v does not reproduce drag (%v,%v) for game delta (%v,%v)", r, sdx, sdy, gdx, gdy)
		}
	}
}

func TestAxisRatioRejectsNonFinite(t *testing.T) {
	cases := []struct {
		name           string
		screenD, gameD float64
	}{
		{"overflow", math.MaxFloat64, 0.5},
		{"nan screen delta", math.NaN(), 10},
		{"inf game delta", 100, math.Inf(1)},
	}
	for _, tc := range cases {
		if _, _, err := axisRatio("x", tc.screenD, tc.gameD, 1e-6); !errors.Is(err, ErrInconsistentRatio) {
			t.Errorf("%s: expected ErrInconsistentRatio, got %v", tc.name, err)
		}
	}

	r, ok, err := axisRatio("y", -200, 100, 1e-6)
	if err != nil || !ok || r != -2 {
		t.Errorf("expected -2, got %v ok=%v err=%v", r, ok, err)
	}
}

func TestCalibrationInsufficientDistance(t *testing.T) {
	c, _ := newTestCalibrator(nil, worldpos.At(1, 500, 500), worldpos.At(1, 500, 500))

	c.Start(context.Background(), worldpos.Pt(10, 10))
	_, err := c.Complete(context.Background(), worldpos.Pt(200, 10))
	if !errors.Is(err, ErrInsufficientDistance) {
		t.Fatalf("expected ErrInsufficientDistance, got %v", err)
	}
	if st := c.Status(); st.State != StateFailed {
		t.Errorf("expected Failed, got %s", st.State)
	}
	if _, ok := c.Ratio(); ok {
		t.Errorf("no ratio should be active after a failed calibration")
	}

	// Must restart: completing again is an invalid transition.
	if _, err := c.Complete(context.Background(), worldpos.Pt(0, 0)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCalibrationUniformScaleDisabled(t *testing.T) {
	uniform := false
	r := &queueReader{readings: []worldpos.Position{worldpos.At(1, 0, 0), worldpos.At(1, 50, 0)}}
	c := New(r, nil, Options{UniformScale: &uniform})

	c.Start(context.Background(), worldpos.Pt(0, 0))
	if _, err := c.Complete(context.Background(), worldpos.Pt(100, 0)); !errors.Is(err, ErrInsufficientDistance) {
		t.Fatalf("expected ErrInsufficientDistance, got %v", err)
	}
}

func TestCalibrationBorrowsPreviousAxis(t *testing.T) {
	store := NewMemoryStore()
	store.Save(DefaultKey, Ratio{X: 1.5, Y: -1.25})

	c, _ := newTestCalibrator(store, worldpos.At(1, 0, 0), worldpos.At(1, 50, 0))
	if ok, err := c.Restore(); err != nil || !ok {
		t.Fatalf("Restore failed: ok=%v err=%v", ok, err)
	}

	c.Start(context.Background(), worldpos.Pt(0, 0))
	r, err := c.Complete(context.Background(), worldpos.Pt(100, 0))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if r.X != 2 || r.Y != -1.25 {
		t.Errorf("expected (2,-1.25), got %+v", r)
	}
}

func TestCalibrationShardChanged(t *testing.T) {
	c, _ := newTestCalibrator(nil, worldpos.At(1, 0, 0), worldpos.At(2, 50, 50))

	c.Start(context.Background(), worldpos.Pt(0, 0))
	if _, err := c.Complete(context.Background(), worldpos.Pt(100, 100)); !errors.Is(err, ErrShardChanged) {
		t.Fatalf("expected ErrShardChanged, got %v", err)
	}
}

func TestCalibrationPositionUnavailable(t *testing.T) {
	c, _ := newTestCalibrator(nil)

	err := c.Start(context.Background(), worldpos.Pt(0, 0))
	if !errors.Is(err, ErrPositionUnavailable) {
		t.Fatalf("expected ErrPositionUnavailable, got %v", err)
	}
	if !errors.Is(err, errNoReading) {
		t.Errorf("expected reader error to be wrapped, got %v", err)
	}
	if st := c.Status(); st.State != StateIdle {
		t.Errorf("expected Idle, got %s", st.State)
	}
}

func TestCalibrationCompleteReadFailureKeepsSession(t *testing.T) {
	c, _ := newTestCalibrator(nil, worldpos.At(1, 0, 0))

	c.Start(context.Background(), worldpos.Pt(0, 0))
	if _, err := c.Complete(context.Background(), worldpos.Pt(10, 10)); !errors.Is(err, ErrPositionUnavailable) {
		t.Fatalf("expected ErrPositionUnavailable, got %v", err)
	}
	if st := c.Status(); st.State != StateAwaitingEnd {
		t.Errorf("expected session to stay AwaitingEnd, got %s", st.State)
	}
}

func TestCalibrationInProgress(t *testing.T) {
	c, _ := newTestCalibrator(nil, worldpos.At(1, 0, 0), worldpos.At(1, 5, 5))

	if err := c.Start(context.Background(), worldpos.Pt(0, 0)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(context.Background(), worldpos.Pt(1, 1)); !errors.Is(err, ErrCalibrationInProgress) {
		t.Fatalf("expected ErrCalibrationInProgress, got %v", err)
	}
	// The original start point is untouched.
	if st := c.Status(); st.StartPos == nil || *st.StartPos != worldpos.At(1, 0, 0) {
		t.Errorf("start position overwritten: %+v", st.StartPos)
	}
}

func TestCalibrationCancel(t *testing.T) {
	store := NewMemoryStore()
	store.Save(DefaultKey, Ratio{X: 2, Y: 2})
	c, _ := newTestCalibrator(store, worldpos.At(1, 0, 0))
	c.Restore()

	if err := c.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling from Idle, got %v", err)
	}

	c.Start(context.Background(), worldpos.Pt(0, 0))
	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	st := c.Status()
	if st.State != StateCancelled {
		t.Errorf("expected Cancelled, got %s", st.State)
	}
	if st.Active == nil || *st.Active != (Ratio{X: 2, Y: 2}) {
		t.Errorf("cancel must not affect the active calibration, got %+v", st.Active)
	}

	// A new session may start after cancelling.
	c.reader.(*queueReader).readings = []worldpos.Position{worldpos.At(1, 1, 1)}
	if err := c.Start(context.Background(), worldpos.Pt(0, 0)); err != nil {
		t.Errorf("Start after cancel failed: %v", err)
	}
}

func TestCalibrationRestoreFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")

	c, _ := newTestCalibrator(NewFileStore(path), worldpos.At(1, 1000, 1000), worldpos.At(1, 900, 950))
	c.Start(context.Background(), worldpos.Pt(500, 500))
	want, err := c.Complete(context.Background(), worldpos.Pt(300, 400))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// A fresh process reloads the ratios without recalibrating.
	c2, _ := newTestCalibrator(NewFileStore(path))
	ok, err := c2.Restore()
	if err != nil || !ok {
		t.Fatalf("Restore failed: ok=%v err=%v", ok, err)
	}
	got, ok := c2.Ratio()
	if !ok || got != want {
		t.Errorf("expected restored %+v, got %+v", want, got)
	}
	if st := c2.Status(); st.State != StateIdle || st.Active == nil {
		t.Errorf("unexpected status after restore %+v", st)
	}
}

func TestConcurrentRatioReads(t *testing.T) {
	c, r := newTestCalibrator(nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if ratio, ok := c.Ratio(); ok && ratio.X != ratio.Y*2 {
				t.Errorf("observed partial ratio %+v", ratio)
				return
			}
		}
	}()

	for i := 1; i <= 50; i++ {
		g := float64(i)
		r.mu.Lock()
		r.readings = []worldpos.Position{worldpos.At(1, 0, 0), worldpos.At(1, g, g)}
		r.mu.Unlock()
		c.Start(context.Background(), worldpos.Pt(0, 0))
		if _, err := c.Complete(context.Background(), worldpos.Pt(2*g*g, g*g)); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestCalibrationLogsFollowGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	store := NewMemoryStore()
	store.Save(DefaultKey, Ratio{X: 2, Y: 2})
	c, _ := newTestCalibrator(store)
	if ok, err := c.Restore(); err != nil || !ok {
		t.Fatalf("Restore failed: ok=%v err=%v", ok, err)
	}

	got := buf.String()
	if !strings.Contains(got, `"module":"calibration"`) || !strings.Contains(got, "restored calibration") {
		t.Errorf("calibration logs did not reach the installed logger: %q", got)
	}
}
