// Package fake implements a scripted model session for tests and demos.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"go.uber.org/atomic"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/services/mlmodel"
)

// Backend is the name this session is registered under.
const Backend = "fake"

func init() {
	mlmodel.Register(Backend, mlmodel.Registration[*Config]{
		Constructor: func(ctx context.Context, name string, conf *Config, logger logging.Logger) (mlmodel.Session, error) {
			s := NewSession(name, clock.New(), conf.Latency)
			if len(conf.Labels) != 0 {
				s.labels = conf.Labels
			}
			return s, nil
		},
	})
}

// Config are the attributes of a fake session.
type Config struct {
	// Latency is how long every inference takes, e.g. "30ms".
	Latency time.Duration `json:"latency,omitempty"`
	Labels  []string      `json:"labels,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Latency < 0 {
		return goutils.NewConfigValidationError(path, errors.New("latency cannot be negative"))
	}
	return nil
}

// Session is a model session whose inference takes a fixed latency on a clock and returns
// canned outputs. On a *clock.Mock the latency is applied by advancing the mock, so timings are
// exact and tests need not drive the clock themselves.
type Session struct {
	name    string
	clk     clock.Clock
	latency time.Duration
	labels  []string

	mu      sync.Mutex
	outputs ml.Tensors
	// InferFunc, when set, replaces the canned outputs. It runs after the latency elapses.
	InferFunc func(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	closed      atomic.Bool
}

// NewSession returns a fake session reporting one centered detection with score 0.9.
func NewSession(name string, clk clock.Clock, latency time.Duration) *Session {
	return &Session{
		name:    name,
		clk:     clk,
		latency: latency,
		labels:  []string{"target"},
		outputs: DetectionOutputs([][4]float32{{0.25, 0.25, 0.75, 0.75}}, []float32{0.9}),
	}
}

// DetectionOutputs builds detector output tensors from [ymin, xmin, ymax, xmax] boxes and scores.
// Every box gets category 0.
func DetectionOutputs(boxes [][4]float32, scores []float32) ml.Tensors {
	locations := make([]float32, 0, 4*len(boxes))
	for _, b := range boxes {
		locations = append(locations, b[:]...)
	}
	categories := make([]float32, len(boxes))
	return ml.Tensors{
		"location": ml.NewTensor(locations, 1, len(boxes), 4),
		"score":    ml.NewTensor(append([]float32(nil), scores...), 1, len(scores)),
		"category": ml.NewTensor(categories, 1, len(boxes)),
	}
}

// SetOutputs replaces the canned outputs.
func (s *Session) SetOutputs(outputs ml.Tensors) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = outputs
}

// Infer waits the configured latency and returns the canned outputs.
func (s *Session) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	s.calls.Inc()
	current := s.inFlight.Inc()
	defer s.inFlight.Dec()
	for {
		prev := s.maxInFlight.Load()
		if current <= prev || s.maxInFlight.CompareAndSwap(prev, current) {
			break
		}
	}
	if s.closed.Load() {
		return nil, errors.Errorf("fake session %q is closed", s.name)
	}

	if s.latency > 0 {
		if mock, ok := s.clk.(*clock.Mock); ok {
			mock.Add(s.latency)
		} else {
			s.clk.Sleep(s.latency)
		}
	}

	s.mu.Lock()
	inferFunc, outputs := s.InferFunc, s.outputs
	s.mu.Unlock()
	if inferFunc != nil {
		return inferFunc(ctx, tensors)
	}
	return outputs, nil
}

// Metadata describes the canned detector outputs.
func (s *Session) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return mlmodel.MLMetadata{
		ModelName: s.name,
		ModelType: "object_detector",
		Inputs:    []mlmodel.TensorInfo{{Name: "image", DataType: "uint8", Shape: []int{1, 64, 64, 3}}},
		Outputs: []mlmodel.TensorInfo{
			{Name: "location", DataType: "float32", Shape: []int{1, -1, 4}},
			{
				Name:            "category",
				DataType:        "float32",
				Shape:           []int{1, -1},
				AssociatedFiles: []mlmodel.File{{Name: "labels.txt", LabelType: mlmodel.LabelTypeTensorValue, Labels: s.labels}},
			},
			{Name: "score", DataType: "float32", Shape: []int{1, -1}},
		},
	}, nil
}

// Close marks the session closed. Later inferences fail.
func (s *Session) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

// Name returns the session's model name.
func (s *Session) Name() string {
	return s.name
}

// Calls returns how many times Infer was called.
func (s *Session) Calls() int {
	return int(s.calls.Load())
}

// MaxInFlight returns the largest number of concurrent Infer calls seen.
func (s *Session) MaxInFlight() int {
	return int(s.maxInFlight.Load())
}

// Closed returns whether Close was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
