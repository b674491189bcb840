// Package fake implements camera sources that need no hardware: a generated moving target and a
// still image file.
package fake

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/rimage"
)

// Kind is the source kind the generated camera is registered under.
const Kind = "fake"

const (
	defaultWidth  = 640
	defaultHeight = 480
)

var background = color.RGBA{220, 220, 220, 255}

func init() {
	camera.RegisterSource(Kind, func(
		ctx context.Context,
		conf camera.Config,
		facing camera.FacingMode,
		logger logging.Logger,
	) (camera.Source, error) {
		return NewCamera(conf.Width, conf.Height, facing)
	})
}

// Camera is a fake camera producing a light frame with a dark square that moves a step to the
// right on every read.
type Camera struct {
	width, height int
	facing        camera.FacingMode
	step          int

	mu       sync.Mutex
	notReady bool
	frame    *image.RGBA

	reads  atomic.Int64
	closed atomic.Bool
}

// NewCamera returns a fake camera of the given size, 640x480 when unset. Sizes must be even.
func NewCamera(width, height int, facing camera.FacingMode) (*Camera, error) {
	if width == 0 {
		width = defaultWidth
	}
	if height == 0 {
		height = defaultHeight
	}
	if width < 0 || height < 0 {
		return nil, errors.Errorf("got illegal negative dimensions %dx%d", width, height)
	}
	if width%2 != 0 || height%2 != 0 {
		return nil, errors.Errorf("fake camera dimensions must be even, got %dx%d", width, height)
	}
	return &Camera{
		width:  width,
		height: height,
		facing: facing,
		step:   width / 32,
		frame:  image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// TargetSize is the side of the dark square.
func (c *Camera) TargetSize() int {
	return c.height / 4
}

// TargetAt returns the square drawn by the n-th read, counting from zero.
func (c *Camera) TargetAt(n int) image.Rectangle {
	size := c.TargetSize()
	span := c.width - size
	x := 0
	if span > 0 {
		x = (n * c.step) % span
	}
	y := (c.height - size) / 2
	return image.Rect(x, y, x+size, y+size)
}

// Read draws the next frame.
func (c *Camera) Read(ctx context.Context) (image.Image, func(), error) {
	if c.closed.Load() {
		return nil, nil, errors.New("fake camera is closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notReady {
		return nil, nil, camera.ErrNotReady
	}

	n := int(c.reads.Inc()) - 1
	fill(c.frame, c.frame.Rect, background)
	fill(c.frame, c.TargetAt(n), color.RGBA{20, 20, 20, 255})
	return rimage.CloneToRGBA(c.frame), func() {}, nil
}

// SetNotReady makes reads fail with camera.ErrNotReady until called again with false.
func (c *Camera) SetNotReady(notReady bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notReady = notReady
}

// Reads returns how many frames were produced.
func (c *Camera) Reads() int {
	return int(c.reads.Load())
}

// Properties returns the generated frame size.
func (c *Camera) Properties(ctx context.Context) (camera.Properties, error) {
	return camera.Properties{Width: c.width, Height: c.height, FrameRate: 30, Facing: c.facing}, nil
}

// Close makes later reads fail.
func (c *Camera) Close(ctx context.Context) error {
	c.closed.Store(true)
	return nil
}

// Closed returns whether Close was called.
func (c *Camera) Closed() bool {
	return c.closed.Load()
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}
