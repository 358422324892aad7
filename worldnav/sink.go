package worldnav

import (
	"sync/atomic"

	"github.com/MaaXYZ/maa-framework-go/v4"
)

var _ maa.TaskerEventSink = (*CalibrationReminder)(nil)

// CalibrationReminder warns once per session when a task starts while no
// calibration is available, since every search would then fail straight away.
type CalibrationReminder struct {
	warned atomic.Bool
	agent  func() (*Agent, error)
}

func (c *CalibrationReminder) OnTaskerTask(tasker *maa.Tasker, event maa.EventStatus, detail maa.TaskerTaskDetail) {
	if event != maa.EventStatusStarting || c.warned.Load() {
		return
	}
	a, err := c.agent()
	if err != nil {
		return
	}
	if _, ok := a.calibrator.Ratio(); ok {
		return
	}
	if c.warned.CompareAndSwap(false, true) {
		navLog().Warn().
			Uint64("task_id", detail.TaskID).
			Str("entry", detail.Entry).
			Msg("[Agent] no calibration yet, run WorldScanCalibrateStart/Complete before searching")
	}
}
