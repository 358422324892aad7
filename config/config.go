// Package config loads the worldscan agent settings.
package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pattern"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
	"github.com/LinkesAuge/Bot-worldscan-sub000/search"
)

const (
	FileName            = "worldscan.json"
	CalibrationFileName = "worldscan_calibration.json"
	// dataDir is where the agent keeps its files below the install root.
	dataDir = "config"
)

var ErrInvalidConfig = errors.New("invalid config")

// Rect is a screen rectangle in the 1280x720 coordinate space maa uses.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

type Config struct {
	CalibrationFile string  `json:"calibration_file"`
	CalibrationKey  string  `json:"calibration_key"`
	UniformScale    bool    `json:"uniform_scale"`
	Epsilon         float64 `json:"epsilon"`

	// MaxDrag is the longest single drag in pixels.
	MaxDrag  float64        `json:"max_drag"`
	Viewport Rect           `json:"viewport"`
	Anchor   worldpos.Point `json:"anchor"`

	// Pipeline nodes used for the readout OCR and template matching.
	OCRNode      string `json:"ocr_node"`
	TemplateNode string `json:"template_node"`
	// OCRRoi restricts the readout OCR. Zero keeps the node's own roi.
	OCRRoi Rect `json:"ocr_roi"`

	DragSteps       int `json:"drag_steps"`
	DragStepDelayMs int `json:"drag_step_delay_ms"`
	DragHoldMs      int `json:"drag_hold_ms"`

	SettleDelayMs     int `json:"settle_delay_ms"`
	MinDragIntervalMs int `json:"min_drag_interval_ms"`
	ReadTimeoutMs     int `json:"read_timeout_ms"`
	SettleTimeoutMs   int `json:"settle_timeout_ms"`
	DetectTimeoutMs   int `json:"detect_timeout_ms"`

	MaxIterations         int            `json:"max_iterations"`
	MaxNavigationFailures int            `json:"max_navigation_failures"`
	Threshold             float64        `json:"threshold"`
	Pattern               pattern.Params `json:"pattern"`

	// TraceDir receives a PNG per search when set.
	TraceDir string `json:"trace_dir"`
}

func Default() Config {
	return Config{
		CalibrationFile: CalibrationFileName,
		CalibrationKey:  "default",
		UniformScale:    true,
		Epsilon:         1e-6,

		MaxDrag:  400,
		Viewport: Rect{X: 0, Y: 0, W: 1280, H: 720},
		Anchor:   worldpos.Pt(640, 360),

		OCRNode:      "WorldScanCoordinateOCR",
		TemplateNode: "WorldScanTemplateMatch",

		DragSteps:       12,
		DragStepDelayMs: 10,
		DragHoldMs:      150,

		SettleDelayMs:     500,
		MinDragIntervalMs: 300,
		ReadTimeoutMs:     3000,
		SettleTimeoutMs:   5000,
		DetectTimeoutMs:   5000,

		MaxIterations:         200,
		MaxNavigationFailures: 5,
		Threshold:             0.8,
		Pattern: pattern.Params{
			Kind:     pattern.KindSpiral,
			Step:     150,
			MaxRings: 10,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("[Config] file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().Str("path", path).Msg("[Config] loaded")
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string
	if c.Viewport.W <= 0 || c.Viewport.H <= 0 {
		problems = append(problems, "viewport must have a positive size")
	}
	if !c.Anchor.In(c.Viewport.Image()) {
		problems = append(problems, "anchor must lie inside the viewport")
	}
	if c.MaxDrag < 0 {
		problems = append(problems, "max_drag must not be negative")
	}
	if c.OCRNode == "" || c.TemplateNode == "" {
		problems = append(problems, "ocr_node and template_node are required")
	}
	if c.DragSteps < 1 {
		problems = append(problems, "drag_steps must be at least 1")
	}
	if c.DragStepDelayMs < 0 || c.DragHoldMs < 0 || c.SettleDelayMs < 0 || c.MinDragIntervalMs < 0 ||
		c.ReadTimeoutMs < 0 || c.SettleTimeoutMs < 0 || c.DetectTimeoutMs < 0 {
		problems = append(problems, "delays and timeouts must not be negative")
	}
	if c.MaxIterations < 0 || c.MaxNavigationFailures < 0 {
		problems = append(problems, "max_iterations and max_navigation_failures must not be negative")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		problems = append(problems, "threshold must be in [0,1]")
	}
	if c.Pattern.Kind != "" {
		if err := c.Pattern.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Engine returns the search engine settings.
func (c Config) Engine() search.Config {
	return search.Config{
		Viewport:        c.Viewport.Image(),
		Anchor:          c.Anchor,
		SettleDelay:     ms(c.SettleDelayMs),
		MinDragInterval: ms(c.MinDragIntervalMs),
		ReadTimeout:     ms(c.ReadTimeoutMs),
		SettleTimeout:   ms(c.SettleTimeoutMs),
		DetectTimeout:   ms(c.DetectTimeoutMs),
		TraceDir:        c.TraceDir,
	}
}

func (c Config) ReadTimeout() time.Duration { return ms(c.ReadTimeoutMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// ResolveDir finds the agent data directory: $MAA_INSTALL_ROOT/config, then
// a config directory next to the executable or up to three of its parents,
// then ./config. The last candidate is returned when none exists.
func ResolveDir() string {
	if base := os.Getenv("MAA_INSTALL_ROOT"); base != "" {
		candidate := filepath.Join(base, dataDir)
		if dirExists(candidate) {
			return candidate
		}
	}

	if exe, err := os.Executable(); err == nil && exe != "" {
		exeDir := filepath.Dir(exe)
		for i := 0; i < 4; i++ {
			candidate := filepath.Join(exeDir, dataDir)
			if dirExists(candidate) {
				return candidate
			}
			parent := filepath.Dir(exeDir)
			if parent == exeDir {
				break
			}
			exeDir = parent
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return dataDir
	}
	return filepath.Join(cwd, dataDir)
}

// ResolvePath joins name onto the data directory unless it is absolute.
func ResolvePath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(ResolveDir(), name)
}

// dirExists 判断目录是否存在。
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
