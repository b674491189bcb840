package camera

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Orient rotates img clockwise by rotation degrees, which must be 0, 90, 180 or 270.
func Orient(img image.Image, rotation int) (image.Image, error) {
	switch rotation {
	case 0:
		return img, nil
	case 90:
		// imaging rotates counter-clockwise.
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return nil, errors.Errorf("rotation must be one of 0, 90, 180 or 270, got %d", rotation)
	}
}

type orientedSource struct {
	Source
	rotation int
}

// Oriented wraps src so every frame it reads is rotated clockwise by rotation degrees.
func Oriented(src Source, rotation int) (Source, error) {
	if _, err := Orient(image.NewRGBA(image.Rect(0, 0, 1, 1)), rotation); err != nil {
		return nil, err
	}
	if rotation == 0 {
		return src, nil
	}
	return &orientedSource{Source: src, rotation: rotation}, nil
}

func (s *orientedSource) Read(ctx context.Context) (image.Image, func(), error) {
	img, release, err := s.Source.Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	if release != nil {
		defer release()
	}
	rotated, err := Orient(img, s.rotation)
	if err != nil {
		return nil, nil, err
	}
	return rotated, func() {}, nil
}

func (s *orientedSource) Properties(ctx context.Context) (Properties, error) {
	props, err := s.Source.Properties(ctx)
	if err != nil {
		return Properties{}, err
	}
	if s.rotation == 90 || s.rotation == 270 {
		props.Width, props.Height = props.Height, props.Width
	}
	return props, nil
}

