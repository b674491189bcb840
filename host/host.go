// Package host wires a config into a running live detection setup: it opens the camera, loads
// models, builds the detection pipeline for them and answers the callbacks of the core.
package host

import (
	"context"
	"image"
	"reflect"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/config"
	"github.com/visionarypath/sight/livedetect"
	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/rimage"
	"github.com/visionarypath/sight/services/mlmodel"
	"github.com/visionarypath/sight/utils"
	"github.com/visionarypath/sight/vision/objectdetection"

	// registers the built in sources and backends.
	_ "github.com/visionarypath/sight/components/camera/fake"
	_ "github.com/visionarypath/sight/components/camera/videosource"
	_ "github.com/visionarypath/sight/services/mlmodel/fake"
	_ "github.com/visionarypath/sight/services/mlmodel/simple"
)

const stopTimeout = 10 * time.Second

// Host owns the camera, the model sessions and the live detection core built from one config.
type Host struct {
	logger logging.Logger
	clk    clock.Clock

	capturer *livedetect.Capturer
	sessions *livedetect.SessionHolder
	metrics  *livedetect.Metrics
	sched    *livedetect.Scheduler
	coord    *livedetect.Coordinator
	guard    *livedetect.VisibilityGuard

	mu      sync.Mutex
	cfg     *config.Config
	refresh *livedetect.RefreshPacer
	post    *objectdetection.Postprocessor

	camMu sync.Mutex
	cam   camera.Source
}

// New builds everything cfg describes, opens the camera for the default facing mode and loads
// the default model. Detection starts idle.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Host, error) {
	return NewWithClock(ctx, cfg, clock.New(), logger)
}

// NewWithClock is New with cycle timing and pacing on clk.
func NewWithClock(ctx context.Context, cfg *config.Config, clk clock.Clock, logger logging.Logger) (*Host, error) {
	schedConf, err := cfg.Scheduler.Parse()
	if err != nil {
		return nil, err
	}
	h := &Host{
		logger:  logger,
		clk:     clk,
		cfg:     cfg,
		metrics: livedetect.NewMetrics(cfg.Metrics.SummaryWindow),
	}
	h.capturer = livedetect.NewCapturer(rimage.NewCanvas(0, 0), logger.Sublogger("capture"))
	h.sessions = livedetect.NewSessionHolder(h.buildStages, logger.Sublogger("sessions"))
	h.sched = livedetect.NewScheduler(h.capturer, h.sessions, h.metrics, nil, clk, schedConf, logger.Sublogger("scheduler"))
	h.coord = livedetect.NewCoordinator(h.sched, h.capturer, h.sessions, h, cfg.Camera.Facing(), logger)
	h.guard = livedetect.NewVisibilityGuard(h.sched, h, logger.Sublogger("visibility"))

	closeOnErr := utils.NewGuard(func() {
		if err := h.Close(context.Background()); err != nil {
			logger.Errorw("failed to clean up after setup error", "error", err)
		}
	})
	defer closeOnErr.OnFail()

	if err := h.setPacing(cfg.Pacing); err != nil {
		return nil, err
	}
	if err := h.openCamera(ctx, h.coord.FacingMode()); err != nil {
		return nil, err
	}
	session, err := h.OnModelChangeRequested(ctx, cfg.DefaultModel)
	if err != nil {
		return nil, err
	}
	if err := h.sessions.Install(ctx, cfg.DefaultModel, session); err != nil {
		return nil, multierr.Combine(err, session.Close(ctx))
	}
	closeOnErr.Success()
	return h, nil
}

// Config returns the config the host currently runs.
func (h *Host) Config() *config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

func (h *Host) setPacing(p config.Pacing) error {
	refresh, err := livedetect.NewRefreshPacer(h.clk, p.Hz())
	if err != nil {
		return err
	}
	if err := h.sched.SetPacer(h.guard.Gate(livedetect.Limit(refresh, p.MaxFPS))); err != nil {
		refresh.Stop()
		return err
	}
	h.mu.Lock()
	prev := h.refresh
	h.refresh = refresh
	h.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return nil
}

// openCamera opens the feed for facing and sizes the canvas to it. The previous feed is only
// closed once the new one is attached, so a failure leaves it in place.
func (h *Host) openCamera(ctx context.Context, facing camera.FacingMode) error {
	src, err := camera.Open(ctx, h.Config().Camera, facing, h.logger.Sublogger("camera"))
	if err != nil {
		return err
	}
	props, err := src.Properties(ctx)
	if err != nil {
		return multierr.Combine(errors.Wrap(err, "cannot read camera properties"), src.Close(ctx))
	}
	h.capturer.Resize(props.Width, props.Height)
	h.capturer.SetOriginalSize(props.Width, props.Height)

	h.camMu.Lock()
	prev := h.cam
	h.cam = src
	h.camMu.Unlock()
	h.capturer.Attach(src)
	h.logger.CInfow(ctx, "camera opened", "facing", facing, "width", props.Width, "height", props.Height)
	if prev != nil {
		return prev.Close(ctx)
	}
	return nil
}

func (h *Host) closeCamera(ctx context.Context) error {
	h.camMu.Lock()
	src := h.cam
	h.cam = nil
	h.camMu.Unlock()
	h.capturer.Detach()
	if src == nil {
		return nil
	}
	return src.Close(ctx)
}

// buildStages builds the detection pipeline from a session's metadata and the filters
// configured for its model.
func (h *Host) buildStages(ctx context.Context, session mlmodel.Session) (livedetect.Stages, error) {
	md, err := session.Metadata(ctx)
	if err != nil {
		return livedetect.Stages{}, errors.Wrap(err, "cannot read model metadata")
	}
	pre, err := objectdetection.NewPreprocessor(md)
	if err != nil {
		return livedetect.Stages{}, err
	}

	model, _ := h.Config().FindModel(md.ModelName)
	var filters []objectdetection.Filter
	if model.MinScore > 0 {
		filters = append(filters, objectdetection.NewScoreFilter(model.MinScore))
	}
	if model.MinArea > 0 {
		filters = append(filters, objectdetection.NewAreaFilter(model.MinArea))
	}
	if len(model.Labels) != 0 {
		filters = append(filters, objectdetection.NewLabelFilter(model.Labels))
	}
	if model.MaxDetections > 0 {
		filters = append(filters, objectdetection.NewTopNFilter(model.MaxDetections))
	}
	opts := objectdetection.DefaultOverlayOptions
	opts.ShowTiming = !model.HideTiming
	post := objectdetection.NewPostprocessor(md, objectdetection.ComposeFilters(filters...), opts, h.logger.Sublogger("overlay"))

	h.mu.Lock()
	h.post = post
	h.mu.Unlock()
	return livedetect.Stages{Preprocess: pre, Postprocess: post.Process}, nil
}

// OnFacingModeChanged reopens the camera for mode.
func (h *Host) OnFacingModeChanged(mode camera.FacingMode) error {
	return h.openCamera(context.Background(), mode)
}

// OnModelChangeRequested loads the configured model named selector.
func (h *Host) OnModelChangeRequested(ctx context.Context, selector string) (mlmodel.Session, error) {
	model, ok := h.Config().FindModel(selector)
	if !ok {
		return nil, utils.NewModelNotFoundError(selector)
	}
	return mlmodel.NewSession(ctx, model.Config, h.logger)
}

// OnDormant releases the camera while the host is hidden.
func (h *Host) OnDormant() {
	if err := h.closeCamera(context.Background()); err != nil {
		h.logger.Warnw("failed to close camera", "error", err)
	}
}

// OnActive reopens the camera after the host became visible.
func (h *Host) OnActive() {
	if err := h.openCamera(context.Background(), h.coord.FacingMode()); err != nil {
		h.logger.Errorw("failed to reopen camera", "error", err)
	}
}

// Start starts live detection.
func (h *Host) Start(ctx context.Context) error {
	return h.sched.Start(ctx)
}

// Stop asks live detection to stop after the current cycle.
func (h *Host) Stop() {
	h.sched.Stop()
}

// Toggle starts or stops live detection, returning whether it is now running.
func (h *Host) Toggle(ctx context.Context) (bool, error) {
	return h.sched.Toggle(ctx)
}

// WaitIdle waits until no cycle is running.
func (h *Host) WaitIdle(ctx context.Context) error {
	return h.sched.WaitIdle(ctx)
}

// Running reports whether live detection is running.
func (h *Host) Running() bool {
	return h.sched.State() != livedetect.Idle
}

// Capture runs one detection on the current frame and returns the composed result.
func (h *Host) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := h.sched.CaptureOnce(ctx); err != nil {
		return nil, err
	}
	return h.sched.LastCapture(), nil
}

// Frame returns a copy of what the visible canvas shows.
func (h *Host) Frame() *image.RGBA {
	return h.capturer.Canvas().Snapshot()
}

// Detections returns what the last completed cycle drew.
func (h *Host) Detections() []objectdetection.Detection {
	h.mu.Lock()
	post := h.post
	h.mu.Unlock()
	if post == nil {
		return nil
	}
	return post.Latest()
}

// Reset stops detection and clears the canvas.
func (h *Host) Reset(ctx context.Context) error {
	return h.coord.Reset(ctx)
}

// SwitchCamera switches between the rear and the front camera.
func (h *Host) SwitchCamera(ctx context.Context) (camera.FacingMode, error) {
	return h.coord.SwitchFacingMode(ctx)
}

// Facing returns the current facing mode.
func (h *Host) Facing() camera.FacingMode {
	return h.coord.FacingMode()
}

// SwitchModel switches to the configured model named name.
func (h *Host) SwitchModel(ctx context.Context, name string) error {
	return h.coord.SwitchModel(ctx, name)
}

// Model returns the name of the loaded model.
func (h *Host) Model() string {
	return h.sessions.Name()
}

// SetHidden tells the host whether it is visible to the user.
func (h *Host) SetHidden(hidden bool) {
	h.guard.OnVisibilityChanged(hidden)
}

// Metrics returns the timing of the recent cycles.
func (h *Host) Metrics() *livedetect.Metrics {
	return h.metrics
}

// Stats returns the cycle counters.
func (h *Host) Stats() livedetect.SchedulerStats {
	return h.sched.Stats()
}

// Err returns the last cycle failure of live detection.
func (h *Host) Err() error {
	return h.sched.Err()
}

// Apply switches the host to a reloaded config. Pacing and the camera are reapplied when they
// changed, and the default model is switched to when it changed.
func (h *Host) Apply(ctx context.Context, cfg *config.Config) error {
	config.UpdateFileConfigDebug(cfg.Debug)

	h.mu.Lock()
	prev := h.cfg
	h.cfg = cfg
	h.mu.Unlock()

	var err error
	if !reflect.DeepEqual(prev.Pacing, cfg.Pacing) {
		if resetErr := h.coord.Reset(ctx); resetErr != nil {
			return resetErr
		}
		err = multierr.Combine(err, h.setPacing(cfg.Pacing))
	}
	if !reflect.DeepEqual(prev.Camera, cfg.Camera) {
		if resetErr := h.coord.Reset(ctx); resetErr != nil {
			return resetErr
		}
		err = multierr.Combine(err, h.openCamera(ctx, h.coord.FacingMode()))
	}
	if prev.DefaultModel != cfg.DefaultModel {
		err = multierr.Combine(err, h.coord.SwitchModel(ctx, cfg.DefaultModel))
	}
	if err != nil {
		return errors.Wrap(err, "failed to apply config")
	}
	h.logger.CInfow(ctx, "config applied", "model", h.sessions.Name())
	return nil
}

// Run serves visibility signals from visibility, applies configs from the config file as it
// changes when watch is set, and logs the timing summary every interval. It returns once ctx is
// done and detection is idle.
func (h *Host) Run(ctx context.Context, visibility <-chan bool, watch bool, interval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	if visibility != nil {
		h.guard.Run(visibility)
	}
	if path := h.Config().ConfigFilePath; watch && path != "" {
		w, err := config.NewWatcher(path, config.DefaultWatchDelay, h.logger.Sublogger("config"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer goutils.UncheckedErrorFunc(w.Close)
			for {
				select {
				case <-gctx.Done():
					return nil
				case cfg := <-w.Configs():
					if err := h.Apply(gctx, cfg); err != nil {
						h.logger.CErrorw(gctx, "failed to apply config change", "error", err)
					}
				}
			}
		})
	}
	if interval > 0 {
		g.Go(func() error {
			ticker := h.clk.Ticker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					h.logSummary(gctx)
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		h.sched.Stop()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return h.sched.WaitIdle(stopCtx)
	})
	return g.Wait()
}

func (h *Host) logSummary(ctx context.Context) {
	sum, err := h.metrics.Summary()
	if err != nil {
		h.logger.CWarnw(ctx, "cannot summarize cycle timing", "error", err)
		return
	}
	if sum.Count == 0 {
		return
	}
	stats := h.sched.Stats()
	h.logger.CInfow(ctx, "detection timing",
		"cycles", stats.Cycles,
		"skips", stats.Skips,
		"failures", stats.Failures,
		"mean_ms", sum.MeanMs,
		"p95_ms", sum.P95Ms,
	)
}

// Close stops detection and releases the camera and the loaded model.
func (h *Host) Close(ctx context.Context) error {
	h.guard.Close()
	h.sched.Stop()
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	err := h.sched.WaitIdle(stopCtx)

	h.mu.Lock()
	refresh := h.refresh
	h.refresh = nil
	h.mu.Unlock()
	if refresh != nil {
		refresh.Stop()
	}
	return multierr.Combine(err, h.sessions.Close(ctx), h.closeCamera(ctx))
}
