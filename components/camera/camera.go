// Package camera defines an image capturing device and the facing modes a live feed can run in.
package camera

import (
	"context"
	"image"
	"strings"

	"github.com/pkg/errors"

	"github.com/visionarypath/sight/rimage"
)

// ErrNotReady is returned by a Source that is open but has no frame to give yet, for example
// while it is reconnecting. Callers treat it as a skipped frame.
var ErrNotReady = errors.New("camera has no frame ready")

// A Source is a live feed of images.
type Source interface {
	// Read returns the current frame. The release func must be called once the caller is done
	// with the image.
	Read(ctx context.Context) (image.Image, func(), error)

	// Properties returns the size and rate the feed is producing.
	Properties(ctx context.Context) (Properties, error)

	Close(ctx context.Context) error
}

// Properties is a lookup for a source's features.
type Properties struct {
	Width     int
	Height    int
	FrameRate float32
	Facing    FacingMode
}

// FacingMode says which way a device camera points.
type FacingMode string

const (
	// FacingEnvironment is the rear camera, pointing away from the user.
	FacingEnvironment FacingMode = "environment"
	// FacingSelf is the front camera. Its frames are drawn mirrored.
	FacingSelf FacingMode = "user"
)

func (f FacingMode) String() string {
	return string(f)
}

// Toggle returns the other facing mode.
func (f FacingMode) Toggle() FacingMode {
	if f == FacingSelf {
		return FacingEnvironment
	}
	return FacingSelf
}

// Valid returns whether f is a known facing mode.
func (f FacingMode) Valid() bool {
	return f == FacingEnvironment || f == FacingSelf
}

// ParseFacingMode parses "environment", "user" or their aliases "rear" and "front".
func ParseFacingMode(s string) (FacingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "environment", "rear", "back":
		return FacingEnvironment, nil
	case "user", "self", "front":
		return FacingSelf, nil
	default:
		return "", errors.Errorf("unknown facing mode %q", s)
	}
}

// ReadImage reads one frame from src and releases it, returning a copy that stays valid.
func ReadImage(ctx context.Context, src Source) (image.Image, error) {
	img, release, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}
	return rimage.CloneToRGBA(img), nil
}
