// Package search drives navigation and template detection over a search
// pattern until a match is found, the pattern runs out, or the run is
// cancelled.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pattern"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
	"github.com/LinkesAuge/Bot-worldscan-sub000/tracevis"
	"github.com/LinkesAuge/Bot-worldscan-sub000/transform"
)

// searchLog is derived from log.Logger on every call so it follows the writer
// installed by the entry point.
func searchLog() *zerolog.Logger {
	l := log.With().Str("module", "search").Logger()
	return &l
}

// arrivedPx is the drag length under which the view counts as arrived.
const arrivedPx = 0.5

// Engine runs one search at a time. Statistics, State, LastKnownPosition and
// Cancel are safe to call from other goroutines while a search runs.
type Engine struct {
	reader   PositionReader
	detector Detector
	input    Input
	tf       *transform.Transformer
	cfg      Config

	run       sync.Mutex
	cancelled atomic.Bool

	mu       sync.RWMutex
	state    State
	stats    Statistics
	started  time.Time
	last     *worldpos.Position
	lastDrag time.Time

	now func() time.Time
}

func NewEngine(reader PositionReader, detector Detector, input Input, tf *transform.Transformer, cfg Config) *Engine {
	return &Engine{
		reader:   reader,
		detector: detector,
		input:    input,
		tf:       tf,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Statistics returns the statistics of the running or most recent search.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.stats
	if e.state == StateSearching {
		st.Elapsed = e.now().Sub(e.started)
	}
	return st
}

// LastKnownPosition is the most recent position read, or estimated when a
// read failed.
func (e *Engine) LastKnownPosition() (worldpos.Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return worldpos.Position{}, false
	}
	return *e.last, true
}

// Cancel asks the running search to stop. The flag is checked between
// iterations and between sub-drags; a drag in progress always completes.
// Called while no search runs, it stops the next one before its first
// iteration.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
	searchLog().Info().Msg("[Search] cancel requested")
}

// Search runs req to a terminal state. Found and Exhausted return a nil
// error; Cancelled returns ErrCancelled; Error returns the cause.
func (e *Engine) Search(ctx context.Context, req Request) (Outcome, error) {
	if !e.run.TryLock() {
		return Outcome{State: StateSearching, Stats: e.Statistics()}, ErrSearchInProgress
	}
	defer e.run.Unlock()
	// A cancel requested before the run starts still applies to it; the flag
	// is only cleared once the run is over.
	defer e.cancelled.Store(false)

	if err := validateRequest(req); err != nil {
		return e.fail(Outcome{Cursor: req.Cursor}, err)
	}
	// No transformer call may happen before a calibration exists.
	if !e.tf.Calibrated() {
		return e.fail(Outcome{Cursor: req.Cursor}, transform.ErrCalibrationRequired)
	}

	params := applyBounds(req.Pattern, req.Origin, req.Bounds)
	gen, err := pattern.New(params)
	if err != nil {
		return e.fail(Outcome{Cursor: req.Cursor}, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	if req.Cursor > 0 {
		if err := gen.Seek(req.Cursor); err != nil {
			return e.fail(Outcome{Cursor: req.Cursor}, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
		}
	}

	e.mu.Lock()
	e.state = StateSearching
	e.stats = Statistics{Pattern: params.Kind}
	e.started = e.now()
	e.mu.Unlock()

	searchLog().Info().
		Str("pattern", string(params.Kind)).
		Strs("templates", req.Templates).
		Str("origin", req.Origin.String()).
		Int("max_iterations", req.MaxIterations).
		Int("cursor", req.Cursor).
		Msg("[Search] started")

	r := &run{
		e:      e,
		req:    req,
		gen:    gen,
		bounds: req.Bounds.Canon(),
		resume: req.Cursor,
	}
	out, err := r.loop(ctx)
	return e.finish(req, out, err)
}

// run is the per-search state that only the searching goroutine touches.
type run struct {
	e      *Engine
	req    Request
	gen    pattern.Generator
	bounds worldpos.Area
	// resume is the pattern cursor of the last target fully handled.
	resume int
	trace  []worldpos.Position
}

func (r *run) loop(ctx context.Context) (Outcome, error) {
	e := r.e
	for {
		if r.stopped(ctx) {
			return r.outcome(StateCancelled, nil), ErrCancelled
		}
		st := e.Statistics()
		if r.req.MaxIterations > 0 && st.PositionsVisited >= r.req.MaxIterations {
			searchLog().Info().Int("visited", st.PositionsVisited).Msg("[Search] max iterations reached")
			return r.outcome(StateExhausted, nil), nil
		}
		if r.req.Budget > 0 && st.Elapsed >= r.req.Budget {
			searchLog().Info().Dur("elapsed", st.Elapsed).Msg("[Search] time budget exceeded")
			return r.outcome(StateExhausted, nil), nil
		}

		off, ok := r.gen.Next()
		if !ok {
			searchLog().Info().Int("cursor", r.gen.Cursor()).Msg("[Search] pattern exhausted")
			r.resume = r.gen.Cursor()
			return r.outcome(StateExhausted, nil), nil
		}
		target := r.req.Origin.Add(off.DX, off.DY)

		if !r.bounds.IsZero() && !r.bounds.Contains(target.X, target.Y) {
			e.update(func(s *Statistics) { s.Skipped++ })
			r.resume = r.gen.Cursor()
			continue
		}

		current, err := r.resync(ctx, nil)
		if err != nil {
			return r.abort(ctx, err)
		}

		ref := transform.Reference{Position: current, Screen: e.cfg.Anchor}
		onScreen, err := e.tf.IsOnScreen(target, ref, e.cfg.Viewport)
		if err != nil {
			return r.abort(ctx, err)
		}
		if !onScreen {
			current, err = r.navigate(ctx, current, target)
			if errors.Is(err, errTargetSkipped) {
				e.update(func(s *Statistics) { s.Skipped++ })
				r.resume = r.gen.Cursor()
				continue
			}
			if err != nil {
				return r.abort(ctx, err)
			}
		}

		visit := r.visit(target)

		result, err := r.detect(ctx, current, visit)
		if err != nil {
			return r.abort(ctx, err)
		}
		r.resume = r.gen.Cursor()
		if result != nil {
			return r.outcome(StateFound, result), nil
		}
	}
}

// visit records target as visited and returns its zero-based index.
func (r *run) visit(target worldpos.Position) int {
	r.trace = append(r.trace, target)
	var index int
	r.e.update(func(s *Statistics) {
		index = s.PositionsVisited
		s.PositionsVisited++
	})
	return index
}

var errTargetSkipped = errors.New("target skipped")

// navigate drags the view from current towards target, splitting drags longer
// than the transformer's max drag and re-reading the position between legs.
func (r *run) navigate(ctx context.Context, current, target worldpos.Position) (worldpos.Position, error) {
	e := r.e

	first, err := e.tf.DragVector(current, target)
	if errors.Is(err, transform.ErrShardMismatch) {
		return current, fmt.Errorf("%w: %w", ErrNavigationFailed, err)
	}
	if err != nil {
		return current, err
	}
	legs := 1
	if limit := e.tf.MaxDrag(); limit > 0 {
		legs = int(math.Ceil(first.Length()/limit)) * 2
	}
	legs += 2

	for leg := 0; leg < legs; leg++ {
		if leg > 0 && r.stopped(ctx) {
			return current, ErrCancelled
		}

		d, err := e.tf.DragVector(current, target)
		if err != nil {
			return current, fmt.Errorf("%w: %w", ErrNavigationFailed, err)
		}
		if d.Length() < arrivedPx {
			return current, nil
		}
		final := !d.ExceedsMax
		if !final {
			k := e.tf.MaxDrag() / d.Length()
			d.DX, d.DY = d.DX*k, d.DY*k
		}

		// Where the view should be if the drag lands exactly.
		expected, err := e.tf.ScreenToGame(e.cfg.Anchor.Add(d.DX, d.DY), transform.Reference{Position: current, Screen: e.cfg.Anchor})
		if err != nil {
			return current, err
		}

		if err := r.drag(ctx, d); err != nil {
			if r.stopped(ctx) {
				return current, ErrCancelled
			}
			return current, r.navigationFailure(err)
		}
		if err := r.settle(ctx); err != nil {
			if r.stopped(ctx) {
				return current, ErrCancelled
			}
			return current, r.navigationFailure(err)
		}

		current, err = r.resync(ctx, &expected)
		if err != nil {
			return current, err
		}
		if final {
			return current, nil
		}
	}

	return current, r.navigationFailure(fmt.Errorf("target %s not reached after %d drags", target, legs))
}

// navigationFailure counts a failed drag or settle. Within the allowed
// failures the target is skipped; beyond it the run aborts.
func (r *run) navigationFailure(cause error) error {
	failures := r.e.countFailure()
	searchLog().Warn().Err(cause).Int("failures", failures).Msg("[Search] navigation failed")
	if failures > r.req.MaxNavigationFailures {
		return fmt.Errorf("%w: %w", ErrNavigationFailed, cause)
	}
	return errTargetSkipped
}

// resync reads the current position. A failed read is counted and replaced
// by the fallback estimate, or the last known position when fallback is nil.
func (r *run) resync(ctx context.Context, fallback *worldpos.Position) (worldpos.Position, error) {
	e := r.e

	pos, err := e.read(ctx)
	if err == nil {
		e.setLast(pos)
		return pos, nil
	}
	if r.stopped(ctx) {
		return worldpos.Position{}, ErrCancelled
	}

	failures := e.countFailure()
	if failures > r.req.MaxNavigationFailures {
		return worldpos.Position{}, fmt.Errorf("%w after %d failures: %w", ErrPositionTrackingLost, failures, err)
	}

	if fallback == nil {
		last, ok := e.LastKnownPosition()
		if !ok {
			return worldpos.Position{}, fmt.Errorf("%w: no last known position: %w", ErrPositionTrackingLost, err)
		}
		fallback = &last
	}
	searchLog().Warn().
		Err(err).
		Int("failures", failures).
		Str("fallback", fallback.String()).
		Msg("[Search] position read failed, using fallback")
	e.setLast(*fallback)
	return *fallback, nil
}

// drag issues one drag, keeping at least MinDragInterval between drags.
func (r *run) drag(ctx context.Context, d transform.Drag) error {
	e := r.e

	e.mu.RLock()
	wait := e.cfg.MinDragInterval - e.now().Sub(e.lastDrag)
	e.mu.RUnlock()
	if e.cfg.MinDragInterval > 0 && wait > 0 {
		if err := e.input.Wait(ctx, wait); err != nil {
			return err
		}
	}

	searchLog().Debug().Float64("dx", d.DX).Float64("dy", d.DY).Msg("[Search] drag")
	err := e.input.Drag(ctx, d.DX, d.DY)

	e.mu.Lock()
	e.lastDrag = e.now()
	e.stats.Drags++
	e.mu.Unlock()
	return err
}

func (r *run) settle(ctx context.Context) error {
	e := r.e
	if e.cfg.SettleDelay <= 0 {
		return nil
	}
	sctx, cancel := withTimeout(ctx, e.cfg.SettleTimeout)
	defer cancel()

	err := e.input.Wait(sctx, e.cfg.SettleDelay)
	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: settle: %w", ErrTimeout, err)
	}
	return err
}

// detect runs the detector on the viewport. Detector errors count as no
// match; only cancellation ends the run here.
func (r *run) detect(ctx context.Context, current worldpos.Position, visit int) (*Result, error) {
	e := r.e

	dctx, cancel := withTimeout(ctx, e.cfg.DetectTimeout)
	defer cancel()

	matches, err := e.detector.Detect(dctx, e.cfg.Viewport, r.req.Templates)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		searchLog().Warn().Err(err).Int("visit", visit).Msg("[Search] detection failed")
		return nil, nil
	}

	var best *Match
	hits := 0
	for i := range matches {
		m := &matches[i]
		if m.Confidence < r.req.Threshold {
			continue
		}
		hits++
		if best == nil || m.Confidence > best.Confidence {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	e.update(func(s *Statistics) { s.MatchesFound += hits })

	ref := transform.Reference{Position: current, Screen: e.cfg.Anchor}
	pos, err := e.tf.ScreenToGame(worldpos.Center(best.Bounds), ref)
	if err != nil {
		return nil, err
	}
	return &Result{
		Position:     pos,
		Template:     best.Template,
		Confidence:   best.Confidence,
		ScreenBounds: best.Bounds,
		VisitedIndex: visit,
	}, nil
}

func (r *run) stopped(ctx context.Context) bool {
	return r.e.cancelled.Load() || ctx.Err() != nil
}

// abort turns an error from inside the loop into an outcome.
func (r *run) abort(ctx context.Context, err error) (Outcome, error) {
	if errors.Is(err, ErrCancelled) || r.stopped(ctx) {
		return r.outcome(StateCancelled, nil), ErrCancelled
	}
	return r.outcome(StateError, nil), err
}

func (r *run) outcome(state State, result *Result) Outcome {
	return Outcome{
		State:  state,
		Result: result,
		Cursor: r.resume,
		Trace:  r.trace,
	}
}

func (e *Engine) finish(req Request, out Outcome, err error) (Outcome, error) {
	e.mu.Lock()
	e.state = out.State
	e.stats.Elapsed = e.now().Sub(e.started)
	out.Stats = e.stats
	e.mu.Unlock()

	level := zerolog.InfoLevel
	if out.State == StateError {
		level = zerolog.ErrorLevel
	}
	searchLog().WithLevel(level).
		Err(err).
		Str("state", out.State.String()).
		Int("visited", out.Stats.PositionsVisited).
		Int("navigation_failures", out.Stats.NavigationFailures).
		Int("skipped", out.Stats.Skipped).
		Dur("elapsed", out.Stats.Elapsed).
		Int("cursor", out.Cursor).
		Msg("[Search] finished")

	if e.cfg.TraceDir != "" {
		t := tracevis.Trace{
			Pattern: string(out.Stats.Pattern),
			State:   out.State.String(),
			Origin:  req.Origin,
			Bounds:  req.Bounds,
			Visited: out.Trace,
		}
		if out.Result != nil {
			t.Found = &out.Result.Position
		}
		if _, terr := tracevis.Save(e.cfg.TraceDir, t); terr != nil {
			searchLog().Warn().Err(terr).Msg("[Search] failed to save trace")
		}
	}
	return out, err
}

// fail ends a search that never started iterating.
func (e *Engine) fail(out Outcome, err error) (Outcome, error) {
	e.mu.Lock()
	e.state = StateError
	e.stats = Statistics{}
	out.State = StateError
	e.mu.Unlock()

	searchLog().Error().Err(err).Msg("[Search] rejected")
	return out, err
}

func (e *Engine) read(ctx context.Context) (worldpos.Position, error) {
	rctx, cancel := withTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()

	pos, err := e.reader.ReadCurrentPosition(rctx)
	if err != nil && errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return pos, fmt.Errorf("%w: position read: %w", ErrTimeout, err)
	}
	return pos, err
}

func (e *Engine) update(fn func(s *Statistics)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

func (e *Engine) countFailure() int {
	var n int
	e.update(func(s *Statistics) {
		s.NavigationFailures++
		n = s.NavigationFailures
	})
	return n
}

func (e *Engine) setLast(p worldpos.Position) {
	e.mu.Lock()
	e.last = &p
	e.mu.Unlock()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func validateRequest(req Request) error {
	if len(req.Templates) == 0 {
		return fmt.Errorf("%w: no templates", ErrInvalidRequest)
	}
	if req.MaxIterations < 0 || req.MaxNavigationFailures < 0 || req.Cursor < 0 || req.Budget < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidRequest)
	}
	if req.Threshold < 0 || req.Threshold > 1 || math.IsNaN(req.Threshold) {
		return fmt.Errorf("%w: threshold %v", ErrInvalidRequest, req.Threshold)
	}
	if req.MaxIterations == 0 && req.Budget == 0 && req.Bounds.IsZero() && !req.Pattern.Bounded() {
		return fmt.Errorf("%w: unbounded %s pattern needs max_iterations, budget or bounds", ErrInvalidRequest, req.Pattern.Kind)
	}
	return nil
}

// applyBounds fills in the pattern extent from bounds, which are absolute,
// when the pattern does not set its own.
func applyBounds(p pattern.Params, origin worldpos.Position, bounds worldpos.Area) pattern.Params {
	if bounds.IsZero() {
		return p
	}
	b := bounds.Canon()
	rel := worldpos.Area{
		MinX: b.MinX - origin.X,
		MinY: b.MinY - origin.Y,
		MaxX: b.MaxX - origin.X,
		MaxY: b.MaxY - origin.Y,
	}
	halfX := math.Max(math.Abs(rel.MinX), math.Abs(rel.MaxX))
	halfY := math.Max(math.Abs(rel.MinY), math.Abs(rel.MaxY))

	switch p.Kind {
	case pattern.KindGrid, pattern.KindQuadtree:
		if p.Area.IsZero() {
			p.Area = rel
		}
	case pattern.KindSpiral:
		if p.MaxRings == 0 {
			p.MaxRings = pattern.RingsToCover(halfX, halfY, p.Step)
			if p.MaxRings == 0 && p.MaxCount == 0 {
				p.MaxCount = 1
			}
		}
	case pattern.KindCircles:
		if p.MaxRadius == 0 {
			p.MaxRadius = pattern.RadiusToCover(halfX, halfY)
			if p.MaxRadius == 0 && p.MaxCount == 0 {
				p.MaxCount = 1
			}
		}
	}
	return p
}
