package fake

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/logging"
)

// ImageKind is the source kind the still image camera is registered under.
const ImageKind = "image"

func init() {
	camera.RegisterSource(ImageKind, func(
		ctx context.Context,
		conf camera.Config,
		facing camera.FacingMode,
		logger logging.Logger,
	) (camera.Source, error) {
		path := conf.PathFor(facing)
		if path == "" {
			return nil, errors.Errorf("no image file configured for facing %s", facing)
		}
		return NewImageFile(path, conf.Width, conf.Height, facing)
	})
}

// fileSource serves the same decoded image on every read.
type fileSource struct {
	img    image.Image
	facing camera.FacingMode
}

// NewImageFile decodes the image at path once and serves it as a live feed, resized to
// width x height when those are set.
func NewImageFile(path string, width, height int, facing camera.FacingMode) (camera.Source, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open image file %q", path)
	}
	if width > 0 || height > 0 {
		img = imaging.Resize(img, width, height, imaging.Linear)
	}
	return &fileSource{img: img, facing: facing}, nil
}

func (fs *fileSource) Read(ctx context.Context) (image.Image, func(), error) {
	return fs.img, func() {}, nil
}

func (fs *fileSource) Properties(ctx context.Context) (camera.Properties, error) {
	b := fs.img.Bounds()
	return camera.Properties{Width: b.Dx(), Height: b.Dy(), Facing: fs.facing}, nil
}

func (fs *fileSource) Close(ctx context.Context) error {
	return nil
}
