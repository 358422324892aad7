package search

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pattern"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

var (
	ErrPositionTrackingLost = errors.New("position tracking lost")
	ErrNavigationFailed     = errors.New("navigation failed")
	ErrTimeout              = errors.New("timed out")
	ErrCancelled            = errors.New("search cancelled")
	ErrSearchInProgress     = errors.New("search already in progress")
	ErrInvalidRequest       = errors.New("invalid search request")
)

type State int

const (
	StateIdle State = iota
	StateSearching
	StateFound
	StateExhausted
	StateCancelled
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSearching:
		return "Searching"
	case StateFound:
		return "Found"
	case StateExhausted:
		return "Exhausted"
	case StateCancelled:
		return "Cancelled"
	case StateError:
		return "Error"
	}
	return "Unknown"
}

func (s State) Terminal() bool {
	return s >= StateFound
}

// PositionReader reads the game position currently under the drag anchor.
type PositionReader interface {
	ReadCurrentPosition(ctx context.Context) (worldpos.Position, error)
}

// Match is one template hit reported by a Detector.
type Match struct {
	Template   string          `json:"template"`
	Confidence float64         `json:"confidence"`
	Bounds     image.Rectangle `json:"bounds"`
}

// Detector looks for any of templates inside region of the current screen.
type Detector interface {
	Detect(ctx context.Context, region image.Rectangle, templates []string) ([]Match, error)
}

// Input pans the view. Drag must finish the gesture it started even if ctx
// is cancelled midway.
type Input interface {
	Drag(ctx context.Context, dx, dy float64) error
	Wait(ctx context.Context, d time.Duration) error
}

// Result is the first match of a run.
type Result struct {
	Position     worldpos.Position `json:"position"`
	Template     string            `json:"template"`
	Confidence   float64           `json:"confidence"`
	ScreenBounds image.Rectangle   `json:"screen_bounds"`
	// VisitedIndex is the zero-based index of the visit that matched.
	VisitedIndex int `json:"visited_index"`
}

type Statistics struct {
	PositionsVisited   int           `json:"positions_visited"`
	MatchesFound       int           `json:"matches_found"`
	Elapsed            time.Duration `json:"elapsed"`
	Pattern            pattern.Kind  `json:"pattern"`
	NavigationFailures int           `json:"navigation_failures"`
	// Skipped counts targets outside the bounds or not reached.
	Skipped int `json:"skipped"`
	Drags   int `json:"drags"`
}

// Request describes one search run.
type Request struct {
	Pattern   pattern.Params    `json:"pattern"`
	Templates []string          `json:"templates"`
	Origin    worldpos.Position `json:"origin"`
	// Bounds limits the search to an absolute game area. Zero means none.
	Bounds                worldpos.Area `json:"bounds"`
	MaxIterations         int           `json:"max_iterations"`
	MaxNavigationFailures int           `json:"max_navigation_failures"`
	// Threshold is the minimum confidence for a match to count.
	Threshold float64 `json:"threshold"`
	// Budget is an optional wall-clock limit.
	Budget time.Duration `json:"budget"`
	// Cursor skips that many pattern offsets, resuming an earlier run.
	Cursor int `json:"cursor"`
}

// Outcome is what Search returns for every terminal state.
type Outcome struct {
	State  State      `json:"state"`
	Result *Result    `json:"result,omitempty"`
	Stats  Statistics `json:"stats"`
	// Cursor is where a later run should resume the pattern.
	Cursor int                 `json:"cursor"`
	Trace  []worldpos.Position `json:"trace"`
}

// Config holds the engine settings that do not change between runs.
type Config struct {
	// Viewport is the screen area targets must fall in to be detected.
	Viewport image.Rectangle
	// Anchor is the screen point the position readout refers to.
	Anchor worldpos.Point

	SettleDelay     time.Duration
	MinDragInterval time.Duration

	ReadTimeout   time.Duration
	SettleTimeout time.Duration
	DetectTimeout time.Duration

	// TraceDir, when set, receives a PNG of every finished run.
	TraceDir string
}
