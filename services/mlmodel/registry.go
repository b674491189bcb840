package mlmodel

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/utils"
)

// Config describes one model a session can be loaded for.
type Config struct {
	Name       string             `json:"name"`
	Backend    string             `json:"backend"`
	Attributes utils.AttributeMap `json:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid, including the backend specific attributes.
func (conf *Config) Validate(path string) error {
	if conf.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if conf.Backend == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "backend")
	}
	reg, ok := lookup(conf.Backend)
	if !ok {
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown model backend %q", conf.Backend))
	}
	if err := reg.validate(path, conf.Attributes); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// ConfigValidator is implemented by backend specific attribute structs.
type ConfigValidator interface {
	Validate(path string) error
}

// Registration describes how to build a session for a backend from its native attributes.
type Registration[ConfigT ConfigValidator] struct {
	Constructor func(ctx context.Context, name string, conf ConfigT, logger logging.Logger) (Session, error)
}

type registration struct {
	build    func(ctx context.Context, name string, attrs utils.AttributeMap, logger logging.Logger) (Session, error)
	validate func(path string, attrs utils.AttributeMap) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register registers a backend and its construction info. Registering the same backend twice
// panics.
func Register[ConfigT ConfigValidator](backend string, reg Registration[ConfigT]) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, old := registry[backend]; old {
		panic(errors.Errorf("trying to register two model backends with the same name: %q", backend))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for model backend: %q", backend))
	}
	registry[backend] = registration{
		build: func(ctx context.Context, name string, attrs utils.AttributeMap, logger logging.Logger) (Session, error) {
			native, err := utils.TransformAttributeMap[ConfigT](attrs)
			if err != nil {
				return nil, err
			}
			if err := native.Validate(name); err != nil {
				return nil, err
			}
			return reg.Constructor(ctx, name, native, logger)
		},
		validate: func(path string, attrs utils.AttributeMap) error {
			native, err := utils.TransformAttributeMap[ConfigT](attrs)
			if err != nil {
				return err
			}
			return native.Validate(path)
		},
	}
}

func lookup(backend string) (registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[backend]
	return reg, ok
}

// Backends returns the names of all registered backends, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSession loads a session for conf using its registered backend.
func NewSession(ctx context.Context, conf Config, logger logging.Logger) (Session, error) {
	reg, ok := lookup(conf.Backend)
	if !ok {
		return nil, errors.Errorf("unknown model backend %q", conf.Backend)
	}
	session, err := reg.build(ctx, conf.Name, conf.Attributes, logger.Sublogger(conf.Name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load model %q", conf.Name)
	}
	return session, nil
}
