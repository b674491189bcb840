// Package config defines the structures to configure the camera, the models and live detection.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/livedetect"
	"github.com/visionarypath/sight/services/mlmodel"
)

// DefaultRefreshHz is the display refresh rate live detection is paced at when none is set.
const DefaultRefreshHz = 60

// Config describes the camera, the models that can be switched between and how live detection
// runs.
type Config struct {
	ConfigFilePath string `json:"-"`

	Camera       camera.Config `json:"camera"`
	Models       []Model       `json:"models"`
	DefaultModel string        `json:"default_model,omitempty"`
	Pacing       Pacing        `json:"pacing"`
	Scheduler    Scheduler     `json:"scheduler"`
	Metrics      Metrics       `json:"metrics"`
	Debug        bool          `json:"debug,omitempty"`
}

// Model is a loadable model plus how its detections are filtered.
type Model struct {
	mlmodel.Config

	// MinScore drops detections scoring below it.
	MinScore float64 `json:"min_score,omitempty"`
	// MinArea drops detections whose box covers fewer pixels.
	MinArea int `json:"min_area,omitempty"`
	// Labels keeps only detections with one of these labels. Empty keeps all.
	Labels []string `json:"labels,omitempty"`
	// MaxDetections keeps at most that many of the best detections. Zero keeps all.
	MaxDetections int `json:"max_detections,omitempty"`
	// HideTiming stops the inference time from being written on the overlay.
	HideTiming bool `json:"hide_timing,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (m *Model) Validate(path string) error {
	if err := m.Config.Validate(path); err != nil {
		return err
	}
	if m.MinScore < 0 || m.MinScore > 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_score %v must be in [0, 1]", m.MinScore))
	}
	if m.MinArea < 0 {
		return utils.NewConfigValidationError(path, errors.New("min_area cannot be negative"))
	}
	if m.MaxDetections < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_detections cannot be negative"))
	}
	return nil
}

// Pacing configures how often the continuous loop runs.
type Pacing struct {
	// RefreshHz is the display refresh rate cycles are aligned to.
	RefreshHz float64 `json:"refresh_hz,omitempty"`
	// MaxFPS caps cycles per second below the refresh rate. Zero means no cap.
	MaxFPS float64 `json:"max_fps,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (p *Pacing) Validate(path string) error {
	if p.RefreshHz < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("refresh_hz cannot be negative, got %v", p.RefreshHz))
	}
	if p.MaxFPS < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_fps cannot be negative, got %v", p.MaxFPS))
	}
	return nil
}

// Hz returns the refresh rate, DefaultRefreshHz if unset.
func (p Pacing) Hz() float64 {
	if p.RefreshHz == 0 {
		return DefaultRefreshHz
	}
	return p.RefreshHz
}

// Scheduler configures failure handling of the continuous loop.
type Scheduler struct {
	// ErrorPolicy is "continue" (the default) or "abort".
	ErrorPolicy string `json:"error_policy,omitempty"`
	// SlowInferenceWarning is a duration such as "2s" after which a running inference is logged
	// as slow.
	SlowInferenceWarning string `json:"slow_inference_warning,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (s *Scheduler) Validate(path string) error {
	if _, err := s.Parse(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Parse converts s into the scheduler's own config.
func (s Scheduler) Parse() (livedetect.SchedulerConfig, error) {
	policy, err := livedetect.ParseErrorPolicy(s.ErrorPolicy)
	if err != nil {
		return livedetect.SchedulerConfig{}, err
	}
	conf := livedetect.SchedulerConfig{ErrorPolicy: policy}
	if s.SlowInferenceWarning != "" {
		d, err := time.ParseDuration(s.SlowInferenceWarning)
		if err != nil {
			return livedetect.SchedulerConfig{}, errors.Wrap(err, "slow_inference_warning")
		}
		if d < 0 {
			return livedetect.SchedulerConfig{}, errors.New("slow_inference_warning cannot be negative")
		}
		conf.SlowInferenceWarning = d
	}
	return conf, nil
}

// Metrics configures the timing summary.
type Metrics struct {
	// SummaryWindow is how many recent cycles the summary covers.
	SummaryWindow int `json:"summary_window,omitempty"`
}

// Ensure validates the config and fills in the default model.
func (c *Config) Ensure() error {
	if err := c.Camera.Validate("camera"); err != nil {
		return err
	}

	if len(c.Models) == 0 {
		return utils.NewConfigValidationFieldRequiredError("", "models")
	}
	for idx := 0; idx < len(c.Models); idx++ {
		if err := c.Models[idx].Validate(fmt.Sprintf("%s.%d", "models", idx)); err != nil {
			return err
		}
	}
	names := lo.Map(c.Models, func(m Model, _ int) string { return m.Name })
	if dups := lo.FindDuplicates(names); len(dups) != 0 {
		return utils.NewConfigValidationError("models", errors.Errorf("model name %q is not unique", dups[0]))
	}

	if c.DefaultModel == "" {
		c.DefaultModel = c.Models[0].Name
	} else if _, ok := c.FindModel(c.DefaultModel); !ok {
		return utils.NewConfigValidationError("default_model", errors.Errorf("no model named %q", c.DefaultModel))
	}

	if err := c.Pacing.Validate("pacing"); err != nil {
		return err
	}
	if err := c.Scheduler.Validate("scheduler"); err != nil {
		return err
	}
	if c.Metrics.SummaryWindow < 0 {
		return utils.NewConfigValidationError("metrics", errors.New("summary_window cannot be negative"))
	}
	return nil
}

// FindModel returns the model configured under name.
func (c *Config) FindModel(name string) (Model, bool) {
	return lo.Find(c.Models, func(m Model) bool { return m.Name == name })
}

// ModelNames returns the configured model names in order.
func (c *Config) ModelNames() []string {
	return lo.Map(c.Models, func(m Model, _ int) string { return m.Name })
}
