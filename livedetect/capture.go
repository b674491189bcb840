package livedetect

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/rimage"
)

// Capturer draws frames from the attached camera source into the visible canvas.
type Capturer struct {
	canvas *rimage.Canvas
	logger logging.Logger

	mu           sync.Mutex
	source       camera.Source
	facing       func() camera.FacingMode
	origW, origH int
}

// NewCapturer returns a capturer drawing into canvas. Until FacingFrom is called frames are
// captured facing the environment.
func NewCapturer(canvas *rimage.Canvas, logger logging.Logger) *Capturer {
	return &Capturer{
		canvas: canvas,
		logger: logger,
		facing: func() camera.FacingMode { return camera.FacingEnvironment },
	}
}

// Canvas returns the visible canvas.
func (c *Capturer) Canvas() *rimage.Canvas {
	return c.canvas
}

// FacingFrom sets where the current facing mode is read from on every capture.
func (c *Capturer) FacingFrom(facing func() camera.FacingMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facing = facing
}

// Attach sets the live feed frames are captured from, returning the previous one.
func (c *Capturer) Attach(src camera.Source) camera.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.source
	c.source = src
	return prev
}

// Detach drops the live feed and returns it, or nil.
func (c *Capturer) Detach() camera.Source {
	return c.Attach(nil)
}

// Attached reports whether a live feed is attached.
func (c *Capturer) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source != nil
}

// Resize sizes the canvas to the feed, allocating only when the size changes.
func (c *Capturer) Resize(width, height int) bool {
	return c.canvas.Resize(width, height)
}

// SetOriginalSize records the extent the feed reported when it opened. Clears use it.
func (c *Capturer) SetOriginalSize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.origW, c.origH = max(width, 0), max(height, 0)
}

// OriginalSize returns the recorded feed extent.
func (c *Capturer) OriginalSize() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.origW, c.origH
}

// ClearRegion clears (0,0)-(width,height) of the visible canvas, clipped to its bounds.
func (c *Capturer) ClearRegion(width, height int) {
	c.canvas.ClearRect(width, height)
}

// ClearOriginal clears the recorded original extent, which may differ from the current canvas
// size.
func (c *Capturer) ClearOriginal() {
	c.ClearRegion(c.OriginalSize())
}

// Capture draws the current frame into the visible canvas, in place, and returns the canvas.
// Frames are drawn mirrored when facing the user; the transform is always restored. It
// returns ErrNoFrame when there is nothing to capture yet.
func (c *Capturer) Capture(ctx context.Context) (*rimage.Canvas, error) {
	c.mu.Lock()
	src, facingFn := c.source, c.facing
	c.mu.Unlock()
	facing := facingFn()

	if src == nil {
		return nil, errors.Wrap(ErrNoFrame, "no camera attached")
	}
	if c.canvas.Empty() {
		return nil, errors.Wrap(ErrNoFrame, "canvas has no size")
	}

	img, release, err := src.Read(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrNotReady) {
			c.logger.CDebugw(ctx, "camera not ready, skipping frame")
			return nil, errors.Wrap(ErrNoFrame, err.Error())
		}
		return nil, errors.Wrap(err, "capture")
	}
	if release != nil {
		defer release()
	}

	if facing == camera.FacingSelf {
		c.canvas.SetTransform(rimage.MirrorX(c.canvas.Width()))
		defer c.canvas.SetTransform(rimage.Identity)
	}
	c.canvas.DrawFrame(img)
	return c.canvas, nil
}

// CloneForOffscreen returns an independent copy of the visible canvas.
func (c *Capturer) CloneForOffscreen() *rimage.Canvas {
	return c.canvas.Clone()
}
