package worldnav

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MaaXYZ/maa-framework-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LinkesAuge/Bot-worldscan-sub000/calibration"
	"github.com/LinkesAuge/Bot-worldscan-sub000/config"
	"github.com/LinkesAuge/Bot-worldscan-sub000/search"
	"github.com/LinkesAuge/Bot-worldscan-sub000/transform"
)

// navLog is derived from log.Logger on every call so it follows the writer
// installed by the entry point.
func navLog() *zerolog.Logger {
	l := log.With().Str("module", "worldnav").Logger()
	return &l
}

// Agent wires the calibrator, transformer and search engine to one maa
// controller.
type Agent struct {
	cfg  config.Config
	slot contextSlot

	reader   *OCRPositionReader
	detector *TemplateDetector
	input    *TouchInput

	calibrator *calibration.Calibrator
	tf         *transform.Transformer
	engine     *search.Engine

	mu      sync.Mutex
	request *search.Request
	outcome *search.Outcome
}

// NewAgent builds an Agent over store and restores any saved calibration.
func NewAgent(cfg config.Config, store calibration.Store) *Agent {
	a := &Agent{cfg: cfg}
	a.reader = &OCRPositionReader{slot: &a.slot, node: cfg.OCRNode, roi: cfg.OCRRoi}
	a.detector = &TemplateDetector{slot: &a.slot, node: cfg.TemplateNode}
	a.input = &TouchInput{
		slot:     &a.slot,
		anchor:   cfg.Anchor,
		viewport: cfg.Viewport.Image(),
		steps:    cfg.DragSteps,
		delay:    time.Duration(cfg.DragStepDelayMs) * time.Millisecond,
		hold:     time.Duration(cfg.DragHoldMs) * time.Millisecond,
	}

	uniform := cfg.UniformScale
	a.calibrator = calibration.New(a.reader, store, calibration.Options{
		Key:          cfg.CalibrationKey,
		Epsilon:      cfg.Epsilon,
		ReadTimeout:  cfg.ReadTimeout(),
		UniformScale: &uniform,
	})
	if ok, err := a.calibrator.Restore(); err != nil {
		navLog().Warn().Err(err).Msg("[Agent] failed to restore calibration")
	} else if ok {
		navLog().Info().Msg("[Agent] calibration restored")
	}

	a.tf = transform.New(a.calibrator, cfg.MaxDrag)
	a.engine = search.NewEngine(a.reader, a.detector, a.input, a.tf, cfg.Engine())
	return a
}

var (
	agentMu sync.Mutex
	agent     *Agent
	// configPath overrides the config location; empty resolves it.
	configPath string
)

// SetConfigPath selects the config file used when the agent is first built.
func SetConfigPath(path string) {
	agentMu.Lock()
	defer agentMu.Unlock()
	configPath = path
}

// defaultAgent lazily loads the config and builds the shared Agent. A failed
// load is retried on the next call.
func defaultAgent() (*Agent, error) {
	agentMu.Lock()
	defer agentMu.Unlock()
	if agent != nil {
		return agent, nil
	}

	path := configPath
	if path == "" {
		path = config.ResolvePath(config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	store := calibration.NewFileStore(config.ResolvePath(cfg.CalibrationFile))
	agent = NewAgent(cfg, store)
	navLog().Info().Str("config", path).Str("calibration", store.Path()).Msg("[Agent] ready")
	return agent, nil
}

// watchStopping cancels the engine once the tasker is asked to stop. The
// returned func ends the watch.
func (a *Agent) watchStopping(ctx *maa.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if stopping(ctx) {
					navLog().Info().Msg("[Agent] tasker stopping, cancelling")
					a.engine.Cancel()
					cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// run binds ctx for the adapters and returns a context cancelled when the
// tasker stops.
func (a *Agent) run(ctx *maa.Context) (context.Context, func()) {
	unbind := a.slot.bind(ctx)
	gctx, cancel := context.WithCancel(context.Background())
	stopWatch := a.watchStopping(ctx, cancel)
	return gctx, func() {
		stopWatch()
		cancel()
		unbind()
	}
}

func (a *Agent) Calibrator() *calibration.Calibrator { return a.calibrator }

// StatusReport is what WorldScanStatus shows.
type StatusReport struct {
	Calibration string             `json:"calibration"`
	Ratio       *calibration.Ratio `json:"ratio,omitempty"`
	Search      string             `json:"search"`
	Stats       search.Statistics  `json:"stats"`
	Position    string             `json:"position,omitempty"`
	Resume      string             `json:"resume,omitempty"`
}

func (a *Agent) Status() StatusReport {
	cs := a.calibrator.Status()
	rep := StatusReport{
		Calibration: cs.State.String(),
		Ratio:       cs.Active,
		Search:      a.engine.State().String(),
		Stats:       a.engine.Statistics(),
	}
	if pos, ok := a.engine.LastKnownPosition(); ok {
		rep.Position = pos.String()
	}
	if token, err := a.ResumeToken(); err == nil {
		rep.Resume = token
	}
	return rep
}

func (a *Agent) remember(req search.Request, out search.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.request = &req
	a.outcome = &out
}

// ResumeToken encodes where the last search stopped. Only searches that did
// not finish with a match or run out can be resumed.
func (a *Agent) ResumeToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.request == nil || a.outcome == nil {
		return "", fmt.Errorf("no search to resume")
	}
	switch a.outcome.State {
	case search.StateCancelled, search.StateError:
	default:
		return "", fmt.Errorf("last search ended %s", a.outcome.State)
	}
	return search.EncodeResume(search.ResumeFrom(*a.request, *a.outcome))
}

func withReadTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func stopping(ctx *maa.Context) bool {
	if ctx == nil {
		return true
	}
	t := ctx.GetTasker()
	if t == nil {
		return true
	}
	return t.Stopping() || !t.Running()
}
