package worldnav

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MaaXYZ/maa-framework-go/v4"
	"github.com/bytedance/sonic"

	"github.com/LinkesAuge/Bot-worldscan-sub000/config"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
	"github.com/LinkesAuge/Bot-worldscan-sub000/search"
)

var (
	// ErrNoContext is returned when an adapter is used outside a custom action.
	ErrNoContext     = errors.New("no maa context bound")
	ErrScreencap     = errors.New("screencap failed")
	ErrNoRecognition = errors.New("recognition returned nothing")
)

// contextSlot holds the maa context of the custom action currently running.
// A maa.Context is only valid for the duration of its Run call.
type contextSlot struct {
	mu  sync.RWMutex
	ctx *maa.Context

	// call is held for the whole of every controller call, including calls
	// whose caller gave up waiting.
	call sync.Mutex
}

func (s *contextSlot) bind(ctx *maa.Context) func() {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.ctx == ctx {
			s.ctx = nil
		}
		s.mu.Unlock()
	}
}

func (s *contextSlot) get() (*maa.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil {
		return nil, ErrNoContext
	}
	return s.ctx, nil
}

func (s *contextSlot) controller() (*maa.Context, *maa.Controller, error) {
	ctx, err := s.get()
	if err != nil {
		return nil, nil, err
	}
	t := ctx.GetTasker()
	if t == nil {
		return nil, nil, fmt.Errorf("%w: tasker is nil", ErrNoContext)
	}
	ctrl := t.GetController()
	if ctrl == nil {
		return nil, nil, fmt.Errorf("%w: controller is nil", ErrNoContext)
	}
	return ctx, ctrl, nil
}

// screencap grabs a fresh frame.
func (s *contextSlot) screencap() (*maa.Context, image.Image, error) {
	ctx, ctrl, err := s.controller()
	if err != nil {
		return nil, nil, err
	}
	ctrl.PostScreencap().Wait()
	img, err := ctrl.CacheImage()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrScreencap, err)
	}
	if img == nil {
		return nil, nil, ErrScreencap
	}
	return ctx, img, nil
}

// blocking runs fn on its own goroutine so ctx can abandon it. maa calls
// cannot be interrupted; an abandoned call finishes in the background while
// still holding gate, so the next call on the controller waits for it. A call
// whose ctx ends while it waits for gate never runs.
func blocking[T any](ctx context.Context, gate *sync.Mutex, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		gate.Lock()
		defer gate.Unlock()
		if err := ctx.Err(); err != nil {
			ch <- result{err: err}
			return
		}
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// recoItem is one entry of a recognition detail. OCR entries carry text,
// template entries a score.
type recoItem struct {
	Box   [4]int  `json:"box"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

type recoDetail struct {
	All      []recoItem `json:"all"`
	Best     *recoItem  `json:"best"`
	Filtered []recoItem `json:"filtered"`
}

func parseDetail(detailJSON string) (recoDetail, error) {
	var d recoDetail
	if strings.TrimSpace(detailJSON) == "" {
		return d, ErrNoRecognition
	}
	if err := sonic.UnmarshalString(detailJSON, &d); err != nil {
		return d, fmt.Errorf("failed to parse recognition detail: %w", err)
	}
	return d, nil
}

// readoutText joins the OCR pieces left to right. The readout is often split
// into one box per field.
func readoutText(d recoDetail) []string {
	var candidates []string
	if d.Best != nil && d.Best.Text != "" {
		candidates = append(candidates, d.Best.Text)
	}
	for _, items := range [][]recoItem{d.Filtered, d.All} {
		if len(items) == 0 {
			continue
		}
		sorted := append([]recoItem(nil), items...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Box[0] < sorted[j].Box[0] })
		parts := make([]string, 0, len(sorted))
		for _, it := range sorted {
			if it.Text != "" {
				parts = append(parts, it.Text)
			}
		}
		if len(parts) > 0 {
			candidates = append(candidates, strings.Join(parts, " "))
		}
	}
	return candidates
}

// parseReadout returns the first candidate that parses as a position.
func parseReadout(candidates []string) (worldpos.Position, error) {
	if len(candidates) == 0 {
		return worldpos.Position{}, fmt.Errorf("%w: empty readout", worldpos.ErrUnreadable)
	}
	var firstErr error
	for _, text := range candidates {
		pos, err := worldpos.Parse(text)
		if err == nil {
			return pos, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return worldpos.Position{}, firstErr
}

func roiOverride(node string, roi config.Rect, extra map[string]any) map[string]any {
	param := map[string]any{}
	for k, v := range extra {
		param[k] = v
	}
	if roi.W > 0 && roi.H > 0 {
		param["roi"] = []int{roi.X, roi.Y, roi.W, roi.H}
	}
	if len(param) == 0 {
		return nil
	}
	return map[string]any{
		node: map[string]any{
			"recognition": map[string]any{
				"param": param,
			},
		},
	}
}

// OCRPositionReader reads the coordinate readout through an OCR pipeline node.
type OCRPositionReader struct {
	slot *contextSlot
	node string
	roi  config.Rect
}

var _ search.PositionReader = (*OCRPositionReader)(nil)

func (r *OCRPositionReader) ReadCurrentPosition(ctx context.Context) (worldpos.Position, error) {
	return blocking(ctx, &r.slot.call, func() (worldpos.Position, error) {
		mctx, img, err := r.slot.screencap()
		if err != nil {
			return worldpos.Position{}, err
		}
		var detail *maa.RecognitionDetail
		if override := roiOverride(r.node, r.roi, nil); override != nil {
			detail, err = mctx.RunRecognition(r.node, img, override)
		} else {
			detail, err = mctx.RunRecognition(r.node, img, nil)
		}
		if err != nil {
			return worldpos.Position{}, fmt.Errorf("[OCR] %s: %w", r.node, err)
		}
		if detail == nil || !detail.Hit {
			return worldpos.Position{}, fmt.Errorf("%w: %s", ErrNoRecognition, r.node)
		}

		var candidates []string
		if d, err := parseDetail(detail.DetailJson); err == nil {
			candidates = readoutText(d)
		}
		pos, err := parseReadout(candidates)
		if err != nil {
			navLog().Debug().Strs("texts", candidates).Err(err).Msg("[OCR] readout unreadable")
			return worldpos.Position{}, err
		}
		return pos, nil
	})
}

// TemplateDetector runs a template matching node once per template name.
type TemplateDetector struct {
	slot *contextSlot
	node string
}

var _ search.Detector = (*TemplateDetector)(nil)

func (d *TemplateDetector) Detect(ctx context.Context, region image.Rectangle, templates []string) ([]search.Match, error) {
	return blocking(ctx, &d.slot.call, func() ([]search.Match, error) {
		mctx, img, err := d.slot.screencap()
		if err != nil {
			return nil, err
		}
		roi := config.Rect{X: region.Min.X, Y: region.Min.Y, W: region.Dx(), H: region.Dy()}

		var matches []search.Match
		for _, tpl := range templates {
			if ctx.Err() != nil {
				return matches, ctx.Err()
			}
			override := roiOverride(d.node, roi, map[string]any{"template": []string{tpl}})
			detail, err := mctx.RunRecognition(d.node, img, override)
			if err != nil {
				navLog().Warn().Err(err).Str("template", tpl).Msg("[Template] recognition failed")
				continue
			}
			if detail == nil || !detail.Hit {
				continue
			}
			parsed, err := parseDetail(detail.DetailJson)
			if err != nil {
				navLog().Warn().Err(err).Str("template", tpl).Msg("[Template] bad detail")
				continue
			}
			matches = append(matches, templateMatches(tpl, parsed)...)
		}
		return matches, nil
	})
}

func templateMatches(tpl string, d recoDetail) []search.Match {
	items := d.Filtered
	if len(items) == 0 && d.Best != nil {
		items = []recoItem{*d.Best}
	}
	out := make([]search.Match, 0, len(items))
	for _, it := range items {
		if it.Box[2] <= 0 || it.Box[3] <= 0 {
			continue
		}
		out = append(out, search.Match{
			Template:   tpl,
			Confidence: it.Score,
			Bounds:     image.Rect(it.Box[0], it.Box[1], it.Box[0]+it.Box[2], it.Box[1]+it.Box[3]),
		})
	}
	return out
}

// TouchInput pans the map with a touch gesture centred on the anchor.
type TouchInput struct {
	slot     *contextSlot
	anchor   worldpos.Point
	viewport image.Rectangle
	steps    int
	delay    time.Duration
	hold     time.Duration
}

var _ search.Input = (*TouchInput)(nil)

// Drag brings the content at anchor+(dx,dy) to the anchor. Once the finger is
// down the gesture always runs to the touch up, even if ctx ends first.
func (in *TouchInput) Drag(ctx context.Context, dx, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := blocking(ctx, &in.slot.call, func() (struct{}, error) {
		return struct{}{}, in.gesture(dx, dy)
	})
	return err
}

func (in *TouchInput) gesture(dx, dy float64) error {
	_, ctrl, err := in.slot.controller()
	if err != nil {
		return err
	}

	path := dragPath(in.anchor, dx, dy, in.steps, in.viewport)
	start := path[0]
	if !ctrl.PostTouchDown(0, start.X, start.Y, 1).Wait().Done() {
		return fmt.Errorf("touch down at %v failed", start)
	}
	defer func() {
		ctrl.PostTouchUp(0).Wait()
	}()

	for _, p := range path[1:] {
		ctrl.PostTouchMove(0, p.X, p.Y, 1).Wait()
		if in.delay > 0 {
			time.Sleep(in.delay)
		}
	}
	// 松手前停顿，避免惯性滑动
	if in.hold > 0 {
		time.Sleep(in.hold)
	}
	return nil
}

func (in *TouchInput) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type touchPoint struct {
	X, Y int32
}

// dragPath interpolates the finger path from anchor+d/2 to anchor-d/2,
// clamped to the viewport. It always has steps+1 points.
func dragPath(anchor worldpos.Point, dx, dy float64, steps int, viewport image.Rectangle) []touchPoint {
	if steps < 1 {
		steps = 1
	}
	sx, sy := anchor.X+dx/2, anchor.Y+dy/2
	ex, ey := anchor.X-dx/2, anchor.Y-dy/2

	path := make([]touchPoint, 0, steps+1)
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		x := sx + (ex-sx)*f
		y := sy + (ey-sy)*f
		path = append(path, touchPoint{
			X: clampAxis(x, viewport.Min.X, viewport.Max.X),
			Y: clampAxis(y, viewport.Min.Y, viewport.Max.Y),
		})
	}
	return path
}

func clampAxis(v float64, lo, hi int) int32 {
	if hi <= lo {
		return int32(math.Round(v))
	}
	v = math.Max(float64(lo), math.Min(float64(hi-1), v))
	return int32(math.Round(v))
}
