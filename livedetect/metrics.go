package livedetect

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const defaultSummaryWindow = 120

// TimingSample is the timing of one cycle. Overhead is Total - Inference and may come out
// negative from timer granularity.
type TimingSample struct {
	Inference time.Duration
	Total     time.Duration
}

// InferenceMs is the inference time in milliseconds.
func (s TimingSample) InferenceMs() float64 {
	return durationMs(s.Inference)
}

// TotalMs is the whole cycle time in milliseconds.
func (s TimingSample) TotalMs() float64 {
	return durationMs(s.Total)
}

// OverheadMs is the time spent outside inference, in milliseconds.
func (s TimingSample) OverheadMs() float64 {
	return s.TotalMs() - s.InferenceMs()
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FPS converts a per frame time in milliseconds to frames per second. A zero time yields +Inf
// along with ErrRateUndefined, which callers may display as is.
func FPS(ms float64) (float64, error) {
	if ms == 0 {
		return math.Inf(1), ErrRateUndefined
	}
	return 1000 / ms, nil
}

// Rates are the figures derived from one sample.
type Rates struct {
	ModelFPS    float64
	TotalFPS    float64
	OverheadFPS float64
	OverheadMs  float64
}

// RatesOf derives the rates of s. Overhead FPS is 1000 * (1/total - 1/inference), so it is
// non-finite when either time is zero.
func RatesOf(s TimingSample) Rates {
	model, _ := FPS(s.InferenceMs())
	total, _ := FPS(s.TotalMs())
	return Rates{
		ModelFPS:    model,
		TotalFPS:    total,
		OverheadFPS: total - model,
		OverheadMs:  s.OverheadMs(),
	}
}

// Summary aggregates the total cycle time over the recent samples.
type Summary struct {
	Count  int
	MeanMs float64
	P50Ms  float64
	P95Ms  float64
	MaxMs  float64
}

// Metrics keeps the latest timing sample and a window of recent totals.
type Metrics struct {
	mu       sync.Mutex
	latest   TimingSample
	recorded int64
	window   []float64
	size     int

	subscribers map[int]func(TimingSample)
	nextID      int
}

// NewMetrics returns a tracker summarizing the last window samples. window <= 0 uses 120.
func NewMetrics(window int) *Metrics {
	if window <= 0 {
		window = defaultSummaryWindow
	}
	return &Metrics{size: window, subscribers: map[int]func(TimingSample){}}
}

// Record replaces the latest sample and notifies subscribers.
func (m *Metrics) Record(s TimingSample) {
	m.mu.Lock()
	m.latest = s
	m.recorded++
	m.window = append(m.window, s.TotalMs())
	if len(m.window) > m.size {
		m.window = m.window[len(m.window)-m.size:]
	}
	subs := make([]func(TimingSample), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Latest returns the most recent sample, the zero sample if none was recorded.
func (m *Metrics) Latest() TimingSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Recorded returns how many samples were recorded in total.
func (m *Metrics) Recorded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded
}

// Subscribe calls fn with every sample recorded from now on, on the recording goroutine.
func (m *Metrics) Subscribe(fn func(TimingSample)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Summary aggregates the total times in the window. It is the zero Summary before any sample.
func (m *Metrics) Summary() (Summary, error) {
	m.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), m.window...))
	m.mu.Unlock()
	if len(data) == 0 {
		return Summary{}, nil
	}

	var sum Summary
	var err error
	sum.Count = data.Len()
	if sum.MeanMs, err = stats.Mean(data); err != nil {
		return Summary{}, err
	}
	if sum.P50Ms, err = stats.Median(data); err != nil {
		return Summary{}, err
	}
	if sum.P95Ms, err = stats.PercentileNearestRank(data, 95); err != nil {
		return Summary{}, err
	}
	if sum.MaxMs, err = stats.Max(data); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Report renders the latest sample the way the developer menu shows it.
func (m *Metrics) Report() string {
	s := m.Latest()
	r := RatesOf(s)
	var b strings.Builder
	fmt.Fprintf(&b, "Model Inference Time: %.0fms\n", s.InferenceMs())
	fmt.Fprintf(&b, "Total Time: %.0fms\n", s.TotalMs())
	fmt.Fprintf(&b, "Overhead Time: +%.2fms\n", r.OverheadMs)
	fmt.Fprintf(&b, "Model FPS: %.2ffps\n", r.ModelFPS)
	fmt.Fprintf(&b, "Total FPS: %.2ffps\n", r.TotalFPS)
	fmt.Fprintf(&b, "Overhead FPS: %.2ffps", r.OverheadFPS)
	return b.String()
}
