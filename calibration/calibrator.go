package calibration

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

// calLog is derived from log.Logger on every call so it follows the writer
// installed by the entry point.
func calLog() *zerolog.Logger {
	l := log.With().Str("module", "calibration").Logger()
	return &l
}

// PositionReader reads the current game position, usually from the on-screen
// coordinate readout.
type PositionReader interface {
	ReadCurrentPosition(ctx context.Context) (worldpos.Position, error)
}

// Store persists calibration ratios under an application chosen key.
type Store interface {
	Save(key string, r Ratio) error
	// Load returns ok=false when nothing is stored under key.
	Load(key string) (r Ratio, ok bool, err error)
}

const (
	DefaultEpsilon     = 1e-6
	DefaultKey         = "default"
	DefaultReadTimeout = 3 * time.Second
)

// Options configures a Calibrator. Zero values fall back to the defaults.
type Options struct {
	// Key is the store key the ratios are saved under.
	Key string
	// Epsilon is the smallest delta (game units and pixels) an axis must move
	// to be measured.
	Epsilon float64
	// ReadTimeout bounds each position read.
	ReadTimeout time.Duration
	// UniformScale lets an unmeasured axis borrow the measured axis' ratio
	// when no earlier ratio exists for it.
	UniformScale *bool
}

func (o Options) withDefaults() Options {
	if o.Key == "" {
		o.Key = DefaultKey
	}
	if o.Epsilon <= 0 {
		o.Epsilon = DefaultEpsilon
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.UniformScale == nil {
		uniform := true
		o.UniformScale = &uniform
	}
	return o
}

// Calibrator derives the pixel-per-game-unit ratio from a two point drag and
// holds the active calibration.
type Calibrator struct {
	// opMu serialises Start/Complete/Cancel, including their position reads.
	opMu sync.Mutex
	// mu guards session and active; readers never see a partial update.
	mu sync.RWMutex

	reader PositionReader
	store  Store
	opts   Options

	session Session
	active  *Ratio
}

// New creates a Calibrator. store may be nil, in which case ratios are kept
// in memory only.
func New(reader PositionReader, store Store, opts Options) *Calibrator {
	return &Calibrator{
		reader:  reader,
		store:   store,
		opts:    opts.withDefaults(),
		session: Session{State: StateIdle},
	}
}

// Restore loads previously persisted ratios. It reports whether a usable
// calibration was found.
func (c *Calibrator) Restore() (bool, error) {
	if c.store == nil {
		return false, nil
	}

	r, ok, err := c.store.Load(c.opts.Key)
	if err != nil {
		return false, fmt.Errorf("failed to load calibration %q: %w", c.opts.Key, err)
	}
	if !ok {
		return false, nil
	}
	if !validRatio(r.X) || !validRatio(r.Y) {
		calLog().Warn().
			Str("key", c.opts.Key).
			Float64("ratio_x", r.X).
			Float64("ratio_y", r.Y).
			Msg("ignoring invalid persisted calibration")
		return false, nil
	}

	c.mu.Lock()
	c.active = &r
	c.mu.Unlock()

	calLog().Info().
		Str("key", c.opts.Key).
		Float64("ratio_x", r.X).
		Float64("ratio_y", r.Y).
		Msg("restored calibration")
	return true, nil
}

// Start records the first calibration point.
func (c *Calibrator) Start(ctx context.Context, screen worldpos.Point) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.session.State == StateAwaitingEnd {
		c.mu.Unlock()
		return ErrCalibrationInProgress
	}
	c.session = Session{State: StateIdle}
	c.mu.Unlock()

	pos, err := c.read(ctx)
	if err != nil {
		calLog().Warn().Err(err).Msg("start: position unavailable")
		return err
	}

	c.mu.Lock()
	c.session = Session{
		State:       StateAwaitingEnd,
		StartScreen: screen,
		StartPos:    pos,
		StartedAt:   time.Now(),
	}
	c.mu.Unlock()

	calLog().Info().
		Str("screen", screen.String()).
		Str("position", pos.String()).
		Msg("calibration started")
	return nil
}

// Complete records the second calibration point, derives the ratios and
// persists them.
func (c *Calibrator) Complete(ctx context.Context, screen worldpos.Point) (Ratio, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	session := c.session
	var previous *Ratio
	if c.active != nil {
		r := *c.active
		previous = &r
	}
	c.mu.RUnlock()

	if session.State != StateAwaitingEnd {
		return Ratio{}, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, session.State)
	}

	// A failed read keeps the session open so the caller can retry.
	pos, err := c.read(ctx)
	if err != nil {
		calLog().Warn().Err(err).Msg("complete: position unavailable")
		return Ratio{}, err
	}

	session.EndScreen = &screen
	session.EndPos = &pos

	r, err := c.derive(session, previous)
	if err != nil {
		session.State = StateFailed
		c.mu.Lock()
		c.session = session
		c.mu.Unlock()

		calLog().Warn().
			Err(err).
			Str("start", session.StartPos.String()).
			Str("end", pos.String()).
			Msg("calibration failed")
		return Ratio{}, err
	}

	session.State = StateCompleted
	session.Ratio = &r
	c.mu.Lock()
	c.session = session
	active := r
	c.active = &active
	c.mu.Unlock()

	calLog().Info().
		Float64("ratio_x", r.X).
		Float64("ratio_y", r.Y).
		Msg("calibration completed")

	if c.store != nil {
		// The ratio stays active even if persisting fails; the next process
		// start just has to recalibrate.
		if err := c.store.Save(c.opts.Key, r); err != nil {
			calLog().Error().Err(err).Str("key", c.opts.Key).Msg("failed to persist calibration")
		}
	}

	return r, nil
}

// Cancel abandons a session awaiting its end point. The active calibration is
// not affected.
func (c *Calibrator) Cancel() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateAwaitingEnd {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, c.session.State)
	}
	c.session = Session{State: StateCancelled}
	calLog().Info().Msg("calibration cancelled")
	return nil
}

// Status returns the session state and ratios.
func (c *Calibrator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		State:     c.session.State,
		StartedAt: c.session.StartedAt,
	}
	if c.session.State == StateCompleted && c.session.Ratio != nil {
		r := *c.session.Ratio
		st.Ratio = &r
	}
	if c.session.State == StateAwaitingEnd {
		p := c.session.StartPos
		st.StartPos = &p
	}
	if c.active != nil {
		r := *c.active
		st.Active = &r
	}
	return st
}

// Ratio returns the active calibration, if any.
func (c *Calibrator) Ratio() (Ratio, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.active == nil {
		return Ratio{}, false
	}
	return *c.active, true
}

func (c *Calibrator) read(ctx context.Context) (worldpos.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	defer cancel()

	pos, err := c.reader.ReadCurrentPosition(ctx)
	if err != nil {
		return worldpos.Position{}, fmt.Errorf("%w: %w", ErrPositionUnavailable, err)
	}
	return pos, nil
}

// derive computes the per-axis ratios of a session that has both end points.
func (c *Calibrator) derive(s Session, previous *Ratio) (Ratio, error) {
	start, end := s.StartPos, *s.EndPos
	if start.Shard != end.Shard {
		return Ratio{}, fmt.Errorf("%w: %d -> %d", ErrShardChanged, start.Shard, end.Shard)
	}

	screenDX, screenDY := s.EndScreen.Sub(s.StartScreen)
	gameDX, gameDY := start.Delta(end)

	rx, okX, err := axisRatio("x", screenDX, gameDX, c.opts.Epsilon)
	if err != nil {
		return Ratio{}, err
	}
	ry, okY, err := axisRatio("y", screenDY, gameDY, c.opts.Epsilon)
	if err != nil {
		return Ratio{}, err
	}

	switch {
	case okX && okY:
	case !okX && !okY:
		return Ratio{}, fmt.Errorf("%w: screen (%.1f,%.1f) game (%.2f,%.2f)",
			ErrInsufficientDistance, screenDX, screenDY, gameDX, gameDY)
	case !okX:
		rx, err = c.borrowAxis("x", ry, previous)
	case !okY:
		ry, err = c.borrowAxis("y", rx, previous)
	}
	if err != nil {
		return Ratio{}, err
	}

	return Ratio{X: rx, Y: ry}, nil
}

// borrowAxis fills an axis the drag did not move along.
func (c *Calibrator) borrowAxis(axis string, measured float64, previous *Ratio) (float64, error) {
	if previous != nil {
		if axis == "x" {
			return previous.X, nil
		}
		return previous.Y, nil
	}
	if *c.opts.UniformScale {
		calLog().Debug().Str("axis", axis).Float64("ratio", measured).Msg("unmeasured axis uses uniform scale")
		return measured, nil
	}
	return 0, fmt.Errorf("%w: axis %s not measured", ErrInsufficientDistance, axis)
}

// axisRatio returns ok=false when the axis did not move enough to be
// measured. The ratio's sign is the product of the delta signs, so an
// inverted reading shows up as an inverted ratio rather than an error. A game delta without a screen delta (or vice versa) is treated
// the same way: rounding in the readout makes tiny moves meaningless.
func axisRatio(axis string, screenD, gameD, eps float64) (float64, bool, error) {
	if math.Abs(gameD) < eps || math.Abs(screenD) < eps {
		return 0, false, nil
	}

	r := screenD / gameD
	if !validRatio(r) {
		return 0, false, fmt.Errorf("%w: axis %s ratio %v", ErrInconsistentRatio, axis, r)
	}
	return r, true, nil
}

func validRatio(r float64) bool {
	return r != 0 && !math.IsNaN(r) && !math.IsInf(r, 0)
}
