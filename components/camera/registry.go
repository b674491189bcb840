package camera

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/visionarypath/sight/logging"
)

// Config describes the live feed to open, per facing mode.
type Config struct {
	// Source is the registered kind of source, e.g. "webcam" or "fake".
	Source string `json:"source"`
	// Paths maps a facing mode to a device path or file. A missing entry lets the source pick.
	Paths         map[FacingMode]string `json:"paths,omitempty"`
	DefaultFacing FacingMode            `json:"default_facing,omitempty"`
	Width         int                   `json:"width_px,omitempty"`
	Height        int                   `json:"height_px,omitempty"`
	FrameRate     float32               `json:"frame_rate,omitempty"`
	Format        string                `json:"format,omitempty"`
	// Rotation is applied clockwise to every frame, in degrees.
	Rotation int  `json:"rotation,omitempty"`
	Debug    bool `json:"debug,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Source == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "source")
	}
	if _, ok := lookupSource(conf.Source); !ok {
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown camera source %q", conf.Source))
	}
	if conf.Width < 0 || conf.Height < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf(
			"got illegal negative dimensions for width_px and height_px (%d, %d)", conf.Width, conf.Height))
	}
	if conf.FrameRate < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf(
			"got illegal negative frame rate (%.2f)", conf.FrameRate))
	}
	switch conf.Rotation {
	case 0, 90, 180, 270:
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf(
			"rotation must be one of 0, 90, 180 or 270, got %d", conf.Rotation))
	}
	if conf.DefaultFacing != "" && !conf.DefaultFacing.Valid() {
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown default_facing %q", conf.DefaultFacing))
	}
	for facing := range conf.Paths {
		if !facing.Valid() {
			return goutils.NewConfigValidationError(path, errors.Errorf("unknown facing mode %q in paths", facing))
		}
	}
	return nil
}

// Facing returns the configured default facing mode, FacingEnvironment if unset.
func (conf *Config) Facing() FacingMode {
	if conf.DefaultFacing.Valid() {
		return conf.DefaultFacing
	}
	return FacingEnvironment
}

// PathFor returns the device path configured for facing, or "".
func (conf *Config) PathFor(facing FacingMode) string {
	return conf.Paths[facing]
}

// Constructor opens a source of one kind for a facing mode.
type Constructor func(ctx context.Context, conf Config, facing FacingMode, logger logging.Logger) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// RegisterSource registers a kind of source. Registering the same kind twice panics.
func RegisterSource(kind string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, old := registry[kind]; old {
		panic(errors.Errorf("trying to register two camera sources with the same kind: %q", kind))
	}
	if constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for camera source: %q", kind))
	}
	registry[kind] = constructor
}

func lookupSource(kind string) (Constructor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[kind]
	return c, ok
}

// Sources returns the registered kinds of source, sorted.
func Sources() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Open opens the configured source for facing and applies the configured rotation.
func Open(ctx context.Context, conf Config, facing FacingMode, logger logging.Logger) (Source, error) {
	constructor, ok := lookupSource(conf.Source)
	if !ok {
		return nil, errors.Errorf("unknown camera source %q", conf.Source)
	}
	src, err := constructor(ctx, conf, facing, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s camera facing %s", conf.Source, facing)
	}
	oriented, err := Oriented(src, conf.Rotation)
	if err != nil {
		return nil, multierr.Combine(err, src.Close(ctx))
	}
	return oriented, nil
}

