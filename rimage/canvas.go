// Package rimage holds the drawing surface video frames are captured into, and helpers for
// drawing overlays and converting images.
package rimage

import (
	"image"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Identity is the affine transform that leaves pixels in place.
var Identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// MirrorX returns the affine transform that flips a surface of the given width horizontally.
func MirrorX(width int) f64.Aff3 {
	return f64.Aff3{-1, 0, float64(width), 0, 1, 0}
}

// Mul composes two affine transforms: the result applies b first, then a.
func Mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// Canvas is an RGBA drawing surface with a current drawing transform. Frames are drawn into
// the same buffer every time; the buffer is only reallocated by Resize.
type Canvas struct {
	mu        sync.RWMutex
	buf       *image.RGBA
	transform f64.Aff3
	mirrored  bool
	scaler    draw.Transformer
}

// NewCanvas returns a transparent canvas of the given size. Negative sizes are treated as zero.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		buf:       image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0))),
		transform: Identity,
		scaler:    draw.ApproxBiLinear,
	}
}

// Width of the canvas in pixels.
func (c *Canvas) Width() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf.Rect.Dx()
}

// Height of the canvas in pixels.
func (c *Canvas) Height() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf.Rect.Dy()
}

// Bounds of the canvas.
func (c *Canvas) Bounds() image.Rectangle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf.Rect
}

// Empty reports whether the canvas has no drawable area.
func (c *Canvas) Empty() bool {
	return c.Bounds().Empty()
}

// Mirrored reports whether the last frame drawn with DrawFrame was drawn through a horizontal
// mirror and has not been cleared since.
func (c *Canvas) Mirrored() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mirrored
}

// SetScaler replaces the interpolator DrawFrame uses. The default is draw.ApproxBiLinear.
func (c *Canvas) SetScaler(scaler draw.Transformer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scaler = scaler
}

// Transform returns the current drawing transform.
func (c *Canvas) Transform() f64.Aff3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transform
}

// SetTransform replaces the drawing transform applied by DrawFrame.
func (c *Canvas) SetTransform(m f64.Aff3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transform = m
}

// Resize changes the canvas size. The buffer is reallocated (and so cleared) only when the size
// actually changes; it returns whether it did.
func (c *Canvas) Resize(width, height int) bool {
	width, height = max(width, 0), max(height, 0)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Rect.Dx() == width && c.buf.Rect.Dy() == height {
		return false
	}
	c.buf = image.NewRGBA(image.Rect(0, 0, width, height))
	return true
}

// DrawFrame draws src scaled to fill the whole canvas, through the current transform. It is a
// no-op when either the canvas or src is empty.
func (c *Canvas) DrawFrame(src image.Image) {
	sb := src.Bounds()
	c.mu.Lock()
	defer c.mu.Unlock()
	if sb.Empty() || c.buf.Rect.Empty() {
		return
	}

	sx := float64(c.buf.Rect.Dx()) / float64(sb.Dx())
	sy := float64(c.buf.Rect.Dy()) / float64(sb.Dy())
	scale := f64.Aff3{sx, 0, -sx * float64(sb.Min.X), 0, sy, -sy * float64(sb.Min.Y)}
	c.scaler.Transform(c.buf, Mul(c.transform, scale), src, sb, draw.Src, nil)
	c.mirrored = c.transform != Identity
}

// ClearRect makes the rectangle (0,0)-(width,height) transparent, clipped to the canvas. The
// canvas is no longer marked mirrored afterwards.
func (c *Canvas) ClearRect(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirrored = false
	r := image.Rect(0, 0, width, height).Intersect(c.buf.Rect)
	if r.Empty() {
		return
	}
	draw.Draw(c.buf, r, image.Transparent, image.Point{}, draw.Src)
}

// Clone returns an independent canvas with the same size and pixels.
func (c *Canvas) Clone() *Canvas {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buf := image.NewRGBA(c.buf.Rect)
	copy(buf.Pix, c.buf.Pix)
	return &Canvas{
		buf:       buf,
		transform: Identity,
		mirrored:  c.mirrored,
		scaler:    c.scaler,
	}
}

// DrawCanvas composes other onto c at the origin, replacing the covered pixels.
func (c *Canvas) DrawCanvas(other *Canvas) {
	if other == c {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.buf, other.buf.Rect.Intersect(c.buf.Rect), other.buf, image.Point{}, draw.Src)
	c.mirrored = other.mirrored
}

// Snapshot returns a copy of the canvas pixels.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.buf.Rect)
	copy(out.Pix, c.buf.Pix)
	return out
}

// View calls fn with the canvas buffer while holding a read lock. fn must not retain or modify
// the buffer.
func (c *Canvas) View(fn func(*image.RGBA) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(c.buf)
}

// Edit calls fn with the canvas buffer while holding the write lock.
func (c *Canvas) Edit(fn func(*image.RGBA) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.buf)
}
