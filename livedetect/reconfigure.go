package livedetect

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/services/mlmodel"
)

// Host is what the core calls back into.
type Host interface {
	DormancyHandler

	// OnFacingModeChanged reopens the live feed for mode.
	OnFacingModeChanged(mode camera.FacingMode) error
	// OnModelChangeRequested loads the model named by selector.
	OnModelChangeRequested(ctx context.Context, selector string) (mlmodel.Session, error)
}

// Coordinator applies facing switches, model switches and resets. Each one stops detection,
// waits for idle and clears the original extent before applying, and leaves the scheduler idle.
type Coordinator struct {
	sched    *Scheduler
	capturer *Capturer
	sessions *SessionHolder
	host     Host
	logger   logging.Logger

	// serializes reconfigurations
	mu sync.Mutex

	facingMu sync.RWMutex
	facing   camera.FacingMode
}

// NewCoordinator returns a coordinator starting in facing mode and makes the capturer read the
// facing mode from it.
func NewCoordinator(
	sched *Scheduler,
	capturer *Capturer,
	sessions *SessionHolder,
	host Host,
	facing camera.FacingMode,
	logger logging.Logger,
) *Coordinator {
	if !facing.Valid() {
		facing = camera.FacingEnvironment
	}
	c := &Coordinator{
		sched:    sched,
		capturer: capturer,
		sessions: sessions,
		host:     host,
		logger:   logger,
		facing:   facing,
	}
	capturer.FacingFrom(c.FacingMode)
	return c
}

// FacingMode returns the current facing mode.
func (c *Coordinator) FacingMode() camera.FacingMode {
	c.facingMu.RLock()
	defer c.facingMu.RUnlock()
	return c.facing
}

func (c *Coordinator) setFacing(mode camera.FacingMode) {
	c.facingMu.Lock()
	defer c.facingMu.Unlock()
	c.facing = mode
}

// quiesce stops detection, waits for the in-flight cycle and clears the original extent. No run
// can begin until release is called.
func (c *Coordinator) quiesce(ctx context.Context) (release func(), err error) {
	release, err = c.sched.hold(ctx)
	if err != nil {
		return release, errors.Wrap(err, "waiting for detection to stop")
	}
	c.capturer.ClearOriginal()
	return release, nil
}

// SwitchFacingMode flips the facing mode and has the host reopen the feed for it. On failure the
// previous facing mode stays.
func (c *Coordinator) SwitchFacingMode(ctx context.Context) (camera.FacingMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	release, err := c.quiesce(ctx)
	defer release()
	if err != nil {
		return c.FacingMode(), err
	}

	prev := c.FacingMode()
	next := prev.Toggle()
	c.setFacing(next)
	if err := c.host.OnFacingModeChanged(next); err != nil {
		c.setFacing(prev)
		return prev, errors.Wrapf(err, "cannot switch camera to facing %s", next)
	}
	c.logger.CInfow(ctx, "switched camera", "facing", next)
	return next, nil
}

// SwitchModel has the host load the model named by selector and installs it, closing the
// previous session.
func (c *Coordinator) SwitchModel(ctx context.Context, selector string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	release, err := c.quiesce(ctx)
	defer release()
	if err != nil {
		return err
	}

	session, err := c.host.OnModelChangeRequested(ctx, selector)
	if err != nil {
		return errors.Wrapf(err, "cannot switch to model %q", selector)
	}
	if session == nil {
		return errors.Wrapf(ErrNoSession, "host returned no session for model %q", selector)
	}
	if err := c.sessions.Install(ctx, selector, session); err != nil {
		if current, _, _ := c.sessions.Current(); current != session {
			return multierr.Combine(err, session.Close(ctx))
		}
		return err
	}
	c.logger.CInfow(ctx, "switched model", "model", selector)
	return nil
}

// Reset stops detection, clears the canvas and drops the cached single capture.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	release, err := c.quiesce(ctx)
	defer release()
	if err != nil {
		return err
	}
	c.sched.DiscardCapture()
	return nil
}
