// Package livedetect drives a live camera feed through a detection pipeline. A Scheduler runs
// capture, preprocess, inference and postprocess either continuously, paced by a Pacer, or once
// on demand. At most one cycle is in flight at a time and stopping is cooperative: a started
// cycle always completes.
package livedetect

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/rimage"
	"github.com/visionarypath/sight/services/mlmodel"
	"github.com/visionarypath/sight/utils"
)

// SchedulerConfig holds the scheduler's tunables.
type SchedulerConfig struct {
	ErrorPolicy ErrorPolicy
	// SlowInferenceWarning is how long an inference may take before warnings are logged. Zero
	// disables the warnings. Slow inferences are never cancelled.
	SlowInferenceWarning time.Duration
}

// SchedulerStats counts what the scheduler's cycles did.
type SchedulerStats struct {
	Cycles   int64
	Skips    int64
	Failures int64
}

// Scheduler owns the run state of live detection.
type Scheduler struct {
	capturer *Capturer
	sessions *SessionHolder
	metrics  *Metrics
	clk      clock.Clock
	conf     SchedulerConfig
	logger   logging.Logger

	mu          sync.Mutex
	state       LoopState
	mode        Mode
	pacer       Pacer
	idle        chan struct{}
	cancelWait  context.CancelFunc
	err         error
	lastCapture *image.RGBA
	// set while a reconfiguration is applied; no run may begin
	held bool

	cycles   atomic.Int64
	skips    atomic.Int64
	failures atomic.Int64
}

// NewScheduler returns an idle scheduler.
func NewScheduler(
	capturer *Capturer,
	sessions *SessionHolder,
	metrics *Metrics,
	pacer Pacer,
	clk clock.Clock,
	conf SchedulerConfig,
	logger logging.Logger,
) *Scheduler {
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		capturer: capturer,
		sessions: sessions,
		metrics:  metrics,
		pacer:    pacer,
		clk:      clk,
		conf:     conf,
		logger:   logger,
		idle:     idle,
	}
}

// SetPacer replaces the pacer. It fails with ErrAlreadyRunning unless idle.
func (s *Scheduler) SetPacer(p Pacer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrAlreadyRunning
	}
	s.pacer = p
	return nil
}

// State returns the current run state.
func (s *Scheduler) State() LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns what is running.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Metrics returns the tracker samples are recorded to.
func (s *Scheduler) Metrics() *Metrics {
	return s.metrics
}

// Err returns the failure of the last cycle of the current or last continuous run, or nil.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the cycle counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Cycles:   s.cycles.Load(),
		Skips:    s.skips.Load(),
		Failures: s.failures.Load(),
	}
}

// begin moves from Idle to Running in mode. Holds s.mu.
func (s *Scheduler) begin(mode Mode) error {
	if s.state != Idle {
		return ErrAlreadyRunning
	}
	if s.held {
		return ErrReconfiguring
	}
	s.state = Running
	s.mode = mode
	s.idle = make(chan struct{})
	return nil
}

// end moves back to Idle and wakes WaitIdle callers.
func (s *Scheduler) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Idle
	s.mode = ModeNone
	if s.cancelWait != nil {
		s.cancelWait()
		s.cancelWait = nil
	}
	close(s.idle)
}

// Start begins continuous detection. Cycles run on ctx; cancelling it stops the loop at the
// next boundary as well.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ModeContinuous); err != nil {
		return err
	}
	if s.pacer == nil {
		s.state, s.mode = Idle, ModeNone
		close(s.idle)
		return errors.New("scheduler has no pacer")
	}
	waitCtx, cancel := context.WithCancel(ctx)
	s.cancelWait = cancel
	s.err = nil
	logger := s.logger.WithFields("run_id", uuid.NewString())
	pacer := s.pacer

	logger.CInfow(ctx, "live detection started")
	goutils.PanicCapturingGo(func() {
		defer s.end()
		s.loop(ctx, waitCtx, pacer, logger)
	})
	return nil
}

// Stop asks a running loop to go idle at the next cycle boundary. An in-flight cycle completes;
// only the pacing wait is interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return
	}
	s.state = StopRequested
	if s.cancelWait != nil {
		s.cancelWait()
	}
}

// Toggle stops a running loop or starts one, returning whether detection is now running.
func (s *Scheduler) Toggle(ctx context.Context) (bool, error) {
	switch s.State() {
	case Idle:
		if err := s.Start(ctx); err != nil {
			return false, err
		}
		return true, nil
	default:
		if s.Mode() != ModeContinuous {
			return false, ErrAlreadyRunning
		}
		s.Stop()
		return false, nil
	}
}

// WaitIdle blocks until the scheduler is idle or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// hold keeps new runs from beginning, stops the current one and waits for it to finish. The
// returned release lets runs begin again; it is a no-op when hold fails.
func (s *Scheduler) hold(ctx context.Context) (release func(), err error) {
	s.mu.Lock()
	s.held = true
	s.mu.Unlock()
	release = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.held = false
	}

	s.Stop()
	if err := s.WaitIdle(ctx); err != nil {
		release()
		return func() {}, err
	}
	return release, nil
}

func (s *Scheduler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running
}

func (s *Scheduler) loop(ctx, waitCtx context.Context, pacer Pacer, logger logging.Logger) {
	defer logger.CInfow(ctx, "live detection stopped")
	for s.running() {
		if err := pacer.Wait(waitCtx); err != nil {
			if waitCtx.Err() == nil {
				logger.CErrorw(ctx, "pacer failed, stopping live detection", "error", err)
				s.setErr(err)
			}
			return
		}
		if !s.running() {
			return
		}

		err := s.cycle(ctx)
		switch {
		case err == nil:
			s.cycles.Inc()
		case errors.Is(err, ErrNoFrame):
			s.skips.Inc()
			logger.CDebugw(ctx, "skipped cycle", "reason", err)
		default:
			s.failures.Inc()
			s.setErr(err)
			if s.conf.ErrorPolicy == AbortOnError {
				logger.CErrorw(ctx, "cycle failed, stopping live detection", "error", err)
				return
			}
			logger.CWarnw(ctx, "cycle failed", "error", err)
		}
	}
}

func (s *Scheduler) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// cycle runs one continuous cycle on the visible canvas.
func (s *Scheduler) cycle(ctx context.Context) error {
	start := s.clk.Now()
	canvas, err := s.capturer.Capture(ctx)
	if err != nil {
		return err
	}
	inference, err := s.runStages(ctx, canvas)
	if err != nil {
		return err
	}
	s.metrics.Record(TimingSample{Inference: inference, Total: s.clk.Since(start)})
	return nil
}

// runStages runs preprocess, inference and postprocess on canvas and returns the inference time.
func (s *Scheduler) runStages(ctx context.Context, canvas *rimage.Canvas) (time.Duration, error) {
	session, stages, err := s.sessions.Current()
	if err != nil {
		return 0, err
	}
	input, err := stages.Preprocess(ctx, canvas)
	if err != nil {
		return 0, errors.Wrap(err, "preprocess")
	}

	done := func() {}
	if s.conf.SlowInferenceWarning > 0 {
		done = utils.SlowLoggerWithClock(ctx, s.clk, s.conf.SlowInferenceWarning,
			"waiting for inference", "model", s.sessions.Name(), s.logger)
	}
	out, inference, err := mlmodel.RunInference(ctx, s.clk, session, input)
	done()
	if err != nil {
		return inference, errors.Wrap(err, "inference")
	}

	if err := stages.Postprocess(ctx, out, inference, canvas); err != nil {
		return inference, errors.Wrap(err, "postprocess")
	}
	return inference, nil
}

// CaptureOnce runs a single cycle: it clears the original extent, captures a frame, runs the
// pipeline on an off-screen copy and then draws the result onto the visible canvas in one step.
// It fails with ErrAlreadyRunning, touching nothing, unless idle, and with ErrReconfiguring
// while a reconfiguration is applied.
func (s *Scheduler) CaptureOnce(ctx context.Context) error {
	s.mu.Lock()
	if err := s.begin(ModeSingleShot); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	defer s.end()

	start := s.clk.Now()
	s.capturer.ClearOriginal()
	visible, err := s.capturer.Capture(ctx)
	if err != nil {
		s.skips.Inc()
		s.logger.CWarnw(ctx, "capture failed", "error", err)
		return err
	}
	offscreen := s.capturer.CloneForOffscreen()
	inference, err := s.runStages(ctx, offscreen)
	if err != nil {
		s.failures.Inc()
		s.logger.CErrorw(ctx, "single capture failed", "error", err)
		return err
	}
	visible.DrawCanvas(offscreen)
	s.metrics.Record(TimingSample{Inference: inference, Total: s.clk.Since(start)})
	s.cycles.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	// A stop while the capture ran also discarded its result.
	if s.state == Running {
		s.lastCapture = offscreen.Snapshot()
	}
	return nil
}

// LastCapture returns the composed result of the last single capture, or nil.
func (s *Scheduler) LastCapture() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCapture
}

// DiscardCapture drops the cached single capture result.
func (s *Scheduler) DiscardCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCapture = nil
}
