package calibration

import (
	"time"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

// State is the phase of a calibration session.
type State int

const (
	StateIdle        State = iota // 没有进行中的校准
	StateAwaitingEnd              // 已记录起点，等待拖拽结束
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingEnd:
		return "AwaitingEnd"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Ratio is the pixel-per-game-unit scale on each axis. The sign carries the
// direction relationship between screen and game axes.
type Ratio struct {
	X float64 `json:"ratio_x"`
	Y float64 `json:"ratio_y"`
}

// Session is the data of the current (or last) calibration attempt.
type Session struct {
	State       State
	StartScreen worldpos.Point
	StartPos    worldpos.Position
	EndScreen   *worldpos.Point
	EndPos      *worldpos.Position
	Ratio       *Ratio
	StartedAt   time.Time
}

// Status is a snapshot returned to the host.
type Status struct {
	State State
	// Ratio is the ratio measured by the session, set only when Completed.
	Ratio *Ratio
	// Active is the calibration consumed by the transformer, which may have
	// been restored from the store rather than measured in this process.
	Active    *Ratio
	StartPos  *worldpos.Position
	StartedAt time.Time
}
