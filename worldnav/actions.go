package worldnav

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/MaaXYZ/maa-framework-go/v4"
	"github.com/bytedance/sonic"

	"github.com/LinkesAuge/Bot-worldscan-sub000/config"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pattern"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/maafocus"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
	"github.com/LinkesAuge/Bot-worldscan-sub000/search"
)

var (
	_ maa.CustomActionRunner = (*CalibrateStartAction)(nil)
	_ maa.CustomActionRunner = (*CalibrateCompleteAction)(nil)
	_ maa.CustomActionRunner = (*CalibrateCancelAction)(nil)
	_ maa.CustomActionRunner = (*SearchAction)(nil)
	_ maa.CustomActionRunner = (*SearchCancelAction)(nil)
	_ maa.CustomActionRunner = (*StatusAction)(nil)
)

// Register is called from main.go to register the world scan actions.
func Register() {
	maa.AgentServerRegisterCustomAction("WorldScanCalibrateStart", &CalibrateStartAction{})
	maa.AgentServerRegisterCustomAction("WorldScanCalibrateComplete", &CalibrateCompleteAction{})
	maa.AgentServerRegisterCustomAction("WorldScanCalibrateCancel", &CalibrateCancelAction{})
	maa.AgentServerRegisterCustomAction("WorldScanSearch", &SearchAction{})
	maa.AgentServerRegisterCustomAction("WorldScanSearchCancel", &SearchCancelAction{})
	maa.AgentServerRegisterCustomAction("WorldScanStatus", &StatusAction{})
	maa.AgentServerAddTaskerSink(&CalibrationReminder{agent: defaultAgent})
	navLog().Info().Msg("registered custom actions")
}

// decodeParam parses custom_action_param into v. An empty param leaves v
// untouched.
func decodeParam(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if err := sonic.UnmarshalString(raw, v); err != nil {
		return fmt.Errorf("failed to parse custom_action_param: %w", err)
	}
	return nil
}

// screenParam is the screen point used for a calibration step.
type screenParam struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (p screenParam) point(def worldpos.Point) worldpos.Point {
	pt := def
	if p.X != nil {
		pt.X = *p.X
	}
	if p.Y != nil {
		pt.Y = *p.Y
	}
	return pt
}

func agentFor(name string) (*Agent, bool) {
	a, err := defaultAgent()
	if err != nil {
		navLog().Error().Err(err).Msgf("[%s] agent unavailable", name)
		return nil, false
	}
	return a, true
}

// CalibrateStartAction records the first calibration point.
// custom_action_param: {"x": 640, "y": 360}, defaults to the drag anchor.
type CalibrateStartAction struct{}

func (a *CalibrateStartAction) Run(ctx *maa.Context, arg *maa.CustomActionArg) bool {
	const tag = "WorldScanCalibrateStart"
	ag, ok := agentFor(tag)
	if !ok {
		return false
	}
	var p screenParam
	if err := decodeParam(arg.CustomActionParam, &p); err != nil {
		navLog().Error().Err(err).Str("raw_param", arg.CustomActionParam).Msgf("[%s] bad param", tag)
		return false
	}

	gctx, done := ag.run(ctx)
	defer done()

	screen := p.point(ag.cfg.Anchor)
	if err := ag.calibrator.Start(gctx, screen); err != nil {
		navLog().Error().Err(err).Msgf("[%s] failed", tag)
		maafocus.Showf(ctx, "校准开始失败: %v", err)
		return false
	}
	st := ag.calibrator.Status()
	if st.StartPos != nil {
		maafocus.Showf(ctx, "校准起点 %s，请拖动地图后完成校准", st.StartPos)
	}
	return true
}

// CalibrateCompleteAction records the second point and derives the ratio.
type CalibrateCompleteAction struct{}

func (a *CalibrateCompleteAction) Run(ctx *maa.Context, arg *maa.CustomActionArg) bool {
	const tag = "WorldScanCalibrateComplete"
	ag, ok := agentFor(tag)
	if !ok {
		return false
	}
	var p screenParam
	if err := decodeParam(arg.CustomActionParam, &p); err != nil {
		navLog().Error().Err(err).Str("raw_param", arg.CustomActionParam).Msgf("[%s] bad param", tag)
		return false
	}

	gctx, done := ag.run(ctx)
	defer done()

	ratio, err := ag.calibrator.Complete(gctx, p.point(ag.cfg.Anchor))
	if err != nil {
		navLog().Error().Err(err).Msgf("[%s] failed", tag)
		maafocus.Showf(ctx, "校准失败: %v", err)
		return false
	}
	maafocus.Showf(ctx, "校准完成 X=%.4f Y=%.4f", ratio.X, ratio.Y)
	return true
}

type CalibrateCancelAction struct{}

func (a *CalibrateCancelAction) Run(ctx *maa.Context, arg *maa.CustomActionArg) bool {
	const tag = "WorldScanCalibrateCancel"
	ag, ok := agentFor(tag)
	if !ok {
		return false
	}
	if err := ag.calibrator.Cancel(); err != nil {
		navLog().Warn().Err(err).Msgf("[%s] nothing to cancel", tag)
		return false
	}
	return true
}

// searchParam is the custom_action_param of WorldScanSearch. Unset limits
// fall back to the config.
type searchParam struct {
	Pattern               *pattern.Params    `json:"pattern"`
	Templates             []string           `json:"templates"`
	Origin                *worldpos.Position `json:"origin"`
	Bounds                worldpos.Area      `json:"bounds"`
	MaxIterations         *int               `json:"max_iterations"`
	MaxNavigationFailures *int               `json:"max_navigation_failures"`
	Threshold             *float64           `json:"threshold"`
	BudgetMs              int                `json:"budget_ms"`
	// Resume continues a cancelled search from its token. Limits in this
	// param still apply.
	Resume string `json:"resume"`
	// OnFound names a node run after a match, with its roi moved onto the
	// matched box.
	OnFound string `json:"on_found"`
}

var errNoTemplates = errors.New("templates are required")

// request builds the search request. origin is used when the param names none.
func (p searchParam) request(a *Agent, origin func() (worldpos.Position, error)) (search.Request, error) {
	cfg := a.cfg
	req := search.Request{
		Pattern:               cfg.Pattern,
		Templates:             p.Templates,
		Bounds:                p.Bounds,
		MaxIterations:         cfg.MaxIterations,
		MaxNavigationFailures: cfg.MaxNavigationFailures,
		Threshold:             cfg.Threshold,
		Budget:                time.Duration(p.BudgetMs) * time.Millisecond,
	}
	if p.Pattern != nil {
		req.Pattern = *p.Pattern
	}
	if p.MaxIterations != nil {
		req.MaxIterations = *p.MaxIterations
	}
	if p.MaxNavigationFailures != nil {
		req.MaxNavigationFailures = *p.MaxNavigationFailures
	}
	if p.Threshold != nil {
		req.Threshold = *p.Threshold
	}

	if p.Resume != "" {
		r, err := search.DecodeResume(p.Resume)
		if err != nil {
			return req, fmt.Errorf("%w: %w", search.ErrInvalidRequest, err)
		}
		return r.Apply(req), nil
	}

	if len(req.Templates) == 0 {
		return req, fmt.Errorf("%w: %w", search.ErrInvalidRequest, errNoTemplates)
	}
	if p.Origin != nil {
		req.Origin = *p.Origin
		return req, nil
	}
	pos, err := origin()
	if err != nil {
		return req, fmt.Errorf("failed to read search origin: %w", err)
	}
	req.Origin = pos
	return req, nil
}

// SearchAction runs a search pattern until a template is found. The action
// succeeds only when something is found.
type SearchAction struct{}

func (a *SearchAction) Run(ctx *maa.Context, arg *maa.CustomActionArg) bool {
	const tag = "WorldScanSearch"
	ag, ok := agentFor(tag)
	if !ok {
		return false
	}
	var p searchParam
	if err := decodeParam(arg.CustomActionParam, &p); err != nil {
		navLog().Error().Err(err).Str("raw_param", arg.CustomActionParam).Msgf("[%s] bad param", tag)
		return false
	}

	gctx, done := ag.run(ctx)
	defer done()

	req, err := p.request(ag, func() (worldpos.Position, error) {
		rctx, cancel := withReadTimeout(gctx, ag.cfg.ReadTimeout())
		defer cancel()
		return ag.reader.ReadCurrentPosition(rctx)
	})
	if err != nil {
		navLog().Error().Err(err).Msgf("[%s] invalid request", tag)
		maafocus.Showf(ctx, "搜索参数错误: %v", err)
		return false
	}

	maafocus.Showf(ctx, "开始搜索 %s，起点 %s", req.Pattern.Kind, req.Origin)
	out, err := ag.engine.Search(gctx, req)
	if !errors.Is(err, search.ErrSearchInProgress) {
		ag.remember(req, out)
	}

	switch out.State {
	case search.StateFound:
		maafocus.Showf(ctx, "找到 %s @ %s (%.2f)", out.Result.Template, out.Result.Position, out.Result.Confidence)
		return runOnFound(ctx, strings.TrimSpace(p.OnFound), out.Result.ScreenBounds)
	case search.StateExhausted:
		maafocus.Showf(ctx, "搜索结束，共访问 %d 个位置，未找到目标", out.Stats.PositionsVisited)
	case search.StateCancelled:
		maafocus.Showf(ctx, "搜索已取消，已访问 %d 个位置", out.Stats.PositionsVisited)
	default:
		navLog().Error().Err(err).Str("state", out.State.String()).Msgf("[%s] failed", tag)
		maafocus.Showf(ctx, "搜索失败: %v", err)
	}
	return false
}

// SearchCancelAction stops a running search.
type SearchCancelAction struct{}

func (a *SearchCancelAction) Run(ctx *maa.Context, arg *maa.CustomActionArg) bool {
	ag, ok := agentFor("WorldScanSearchCancel")
	if !ok {
		return false
	}
	ag.engine.Cancel()
	return true
}

// StatusAction logs and shows the calibration and search status.
type StatusAction struct{}

func (a *StatusAction) Run(ctx *maa.Context, arg *maa.CustomActionArg) bool {
	const tag = "WorldScanStatus"
	ag, ok := agentFor(tag)
	if !ok {
		return false
	}
	rep := ag.Status()
	data, err := sonic.MarshalString(rep)
	if err != nil {
		navLog().Error().Err(err).Msgf("[%s] failed to encode status", tag)
		return false
	}
	navLog().Info().RawJSON("status", []byte(data)).Msgf("[%s]", tag)
	maafocus.Showf(ctx, "校准: %s | 搜索: %s | 已访问 %d", rep.Calibration, rep.Search, rep.Stats.PositionsVisited)
	return true
}

// foundMargin pads the matched box when it becomes the on_found roi.
const foundMargin = 10

func foundOverride(node string, box image.Rectangle) map[string]any {
	r := box.Inset(-foundMargin).Intersect(image.Rect(0, 0, math.MaxInt32, math.MaxInt32))
	return roiOverride(node, config.Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}, nil)
}

func runOnFound(ctx *maa.Context, node string, box image.Rectangle) bool {
	if node == "" {
		return true
	}
	if _, err := ctx.RunTask(node, foundOverride(node, box)); err != nil {
		navLog().Error().Err(err).Str("node_name", node).Msg("[WorldScanSearch] failed to run on_found node")
		return false
	}
	navLog().Info().Str("node_name", node).Msg("[WorldScanSearch] on_found node executed")
	return true
}
