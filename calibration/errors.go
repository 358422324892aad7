package calibration

import "errors"

var (
	// ErrPositionUnavailable means the position reader produced no position.
	ErrPositionUnavailable = errors.New("game position unavailable")
	// ErrInsufficientDistance means the drag moved too little on every axis
	// to derive a ratio.
	ErrInsufficientDistance = errors.New("insufficient calibration distance")
	// ErrCalibrationInProgress is returned when starting while a session is
	// awaiting its end point.
	ErrCalibrationInProgress = errors.New("calibration already in progress")
	// ErrInvalidTransition is returned for operations not valid in the
	// current session state.
	ErrInvalidTransition = errors.New("invalid calibration state transition")
	// ErrInconsistentRatio means the derived ratio is not finite or its sign
	// disagrees with the observed drag, which points at a misread position.
	ErrInconsistentRatio = errors.New("inconsistent calibration ratio")
	// ErrShardChanged means start and end readings are on different shards.
	ErrShardChanged = errors.New("shard changed during calibration")
)
