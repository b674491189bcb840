package livedetect_test

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"

	"github.com/visionarypath/sight/components/camera"
	fakecamera "github.com/visionarypath/sight/components/camera/fake"
	"github.com/visionarypath/sight/livedetect"
	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/rimage"
	"github.com/visionarypath/sight/services/mlmodel"
	fakemodel "github.com/visionarypath/sight/services/mlmodel/fake"
)

const (
	frameWidth  = 64
	frameHeight = 48
	latency     = 30 * time.Millisecond
)

var marker = color.RGBA{0, 255, 0, 255}

// events is an ordered log of what the pipeline and host saw.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, fmt.Sprintf(format, args...))
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

type testHost struct {
	h       *harness
	onFace  func(camera.FacingMode) error
	onModel func(selector string)
	failFor string
}

func (th *testHost) OnFacingModeChanged(mode camera.FacingMode) error {
	th.h.events.add("facing:%s", mode)
	if th.onFace != nil {
		return th.onFace(mode)
	}
	return nil
}

func (th *testHost) OnModelChangeRequested(ctx context.Context, selector string) (mlmodel.Session, error) {
	th.h.events.add("model:%s", selector)
	if th.onModel != nil {
		th.onModel(selector)
	}
	if selector == th.failFor {
		return nil, errors.New("no such model")
	}
	return fakemodel.NewSession(selector, th.h.clk, latency), nil
}

func (th *testHost) OnDormant() {
	th.h.events.add("dormant")
}

func (th *testHost) OnActive() {
	th.h.events.add("active")
}

type harness struct {
	ctx      context.Context
	logger   logging.Logger
	clk      *clock.Mock
	cam      *fakecamera.Camera
	session  *fakemodel.Session
	capturer *livedetect.Capturer
	sessions *livedetect.SessionHolder
	metrics  *livedetect.Metrics
	pacer    *livedetect.ManualPacer
	sched    *livedetect.Scheduler
	host     *testHost
	coord    *livedetect.Coordinator
	guard    *livedetect.VisibilityGuard
	events   events

	inPipeline  atomic.Int32
	maxPipeline atomic.Int32
	samples     []livedetect.TimingSample
	samplesMu   sync.Mutex
}

func newHarness(t *testing.T, conf livedetect.SchedulerConfig) *harness {
	t.Helper()
	h := &harness{
		ctx:    context.Background(),
		logger: logging.NewTestLogger(t),
		clk:    clock.NewMock(),
		pacer:  livedetect.NewManualPacer(),
	}
	cam, err := fakecamera.NewCamera(frameWidth, frameHeight, camera.FacingEnvironment)
	test.That(t, err, test.ShouldBeNil)
	h.cam = cam

	canvas := rimage.NewCanvas(frameWidth, frameHeight)
	h.capturer = livedetect.NewCapturer(canvas, h.logger)
	h.capturer.Attach(cam)
	h.capturer.SetOriginalSize(frameWidth, frameHeight)

	h.sessions = livedetect.NewSessionHolder(h.stages, h.logger)
	h.session = fakemodel.NewSession("default", h.clk, latency)
	test.That(t, h.sessions.Install(h.ctx, "default", h.session), test.ShouldBeNil)

	h.metrics = livedetect.NewMetrics(0)
	h.metrics.Subscribe(func(s livedetect.TimingSample) {
		h.samplesMu.Lock()
		defer h.samplesMu.Unlock()
		h.samples = append(h.samples, s)
	})
	h.sched = livedetect.NewScheduler(h.capturer, h.sessions, h.metrics, h.pacer, h.clk, conf, h.logger)
	h.host = &testHost{h: h}
	h.coord = livedetect.NewCoordinator(h.sched, h.capturer, h.sessions, h.host, camera.FacingEnvironment, h.logger)
	h.guard = livedetect.NewVisibilityGuard(h.sched, h.host, h.logger)
	test.That(t, h.sched.SetPacer(h.guard.Gate(h.pacer)), test.ShouldBeNil)

	t.Cleanup(func() {
		h.sched.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		test.That(t, h.sched.WaitIdle(ctx), test.ShouldBeNil)
		h.guard.Close()
	})
	return h
}

// stages records every stage run and marks the top left pixel of the canvas it draws on.
func (h *harness) stages(ctx context.Context, session mlmodel.Session) (livedetect.Stages, error) {
	return livedetect.Stages{
		Preprocess: func(ctx context.Context, canvas *rimage.Canvas) (ml.Tensors, error) {
			current := h.inPipeline.Inc()
			for {
				prev := h.maxPipeline.Load()
				if current <= prev || h.maxPipeline.CompareAndSwap(prev, current) {
					break
				}
			}
			h.events.add("preprocess")
			return ml.Tensors{"image": ml.NewTensor(make([]uint8, 3), 1, 1, 1, 3)}, nil
		},
		Postprocess: func(ctx context.Context, out ml.Tensors, inference time.Duration, canvas *rimage.Canvas) error {
			defer h.inPipeline.Dec()
			h.events.add("postprocess:%s", inference)
			return canvas.Edit(func(img *image.RGBA) error {
				img.SetRGBA(0, 0, marker)
				return nil
			})
		},
	}, nil
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	test.That(t, h.pacer.Tick(ctx), test.ShouldBeNil)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	test.That(t, h.sched.WaitIdle(ctx), test.ShouldBeNil)
	test.That(t, h.sched.State(), test.ShouldEqual, livedetect.Idle)
}

func (h *harness) recorded() []livedetect.TimingSample {
	h.samplesMu.Lock()
	defer h.samplesMu.Unlock()
	return append([]livedetect.TimingSample(nil), h.samples...)
}

// waitFor polls cond until it holds or five seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitSamples(t *testing.T, n int) {
	t.Helper()
	waitFor(t, func() bool { return len(h.recorded()) >= n })
}
