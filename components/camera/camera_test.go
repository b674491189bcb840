package camera_test

import (
	"context"
	"image"
	"testing"

	"go.viam.com/test"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/components/camera/fake"
	"github.com/visionarypath/sight/logging"
)

func TestFacingMode(t *testing.T) {
	test.That(t, camera.FacingEnvironment.Toggle(), test.ShouldEqual, camera.FacingSelf)
	test.That(t, camera.FacingSelf.Toggle(), test.ShouldEqual, camera.FacingEnvironment)
	test.That(t, camera.FacingSelf.String(), test.ShouldEqual, "user")
	test.That(t, camera.FacingMode("sideways").Valid(), test.ShouldBeFalse)

	for in, want := range map[string]camera.FacingMode{
		"environment": camera.FacingEnvironment,
		"Rear":        camera.FacingEnvironment,
		"user":        camera.FacingSelf,
		" front ":     camera.FacingSelf,
	} {
		got, err := camera.ParseFacingMode(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
	_, err := camera.ParseFacingMode("up")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOrient(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Pix[0], img.Pix[3] = 255, 255 // top left pixel is red

	for _, rotation := range []int{0, 180} {
		out, err := camera.Orient(img, rotation)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Bounds().Dx(), test.ShouldEqual, 4)
	}

	out, err := camera.Orient(img, 90)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds().Dx(), test.ShouldEqual, 2)
	test.That(t, out.Bounds().Dy(), test.ShouldEqual, 4)
	// Clockwise: the top left corner moves to the top right.
	r, _, _, _ := out.At(1, 0).RGBA()
	test.That(t, r, test.ShouldEqual, uint32(0xffff))

	out, err = camera.Orient(img, 270)
	test.That(t, err, test.ShouldBeNil)
	r, _, _, _ = out.At(0, 3).RGBA()
	test.That(t, r, test.ShouldEqual, uint32(0xffff))

	_, err = camera.Orient(img, 45)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	valid := camera.Config{Source: fake.Kind, Width: 64, Height: 48, Rotation: 90}
	test.That(t, valid.Validate("camera"), test.ShouldBeNil)
	test.That(t, valid.Facing(), test.ShouldEqual, camera.FacingEnvironment)

	for name, conf := range map[string]camera.Config{
		"missing source": {},
		"unknown source": {Source: "telescope"},
		"negative width": {Source: fake.Kind, Width: -1},
		"negative rate":  {Source: fake.Kind, FrameRate: -1},
		"bad rotation":   {Source: fake.Kind, Rotation: 30},
		"bad facing":     {Source: fake.Kind, DefaultFacing: "up"},
		"bad path key":   {Source: fake.Kind, Paths: map[camera.FacingMode]string{"up": "/dev/video0"}},
	} {
		t.Run(name, func(t *testing.T) {
			test.That(t, conf.Validate("camera"), test.ShouldNotBeNil)
		})
	}

	withPaths := camera.Config{
		Source:        fake.ImageKind,
		DefaultFacing: camera.FacingSelf,
		Paths:         map[camera.FacingMode]string{camera.FacingSelf: "/tmp/me.png"},
	}
	test.That(t, withPaths.Validate("camera"), test.ShouldBeNil)
	test.That(t, withPaths.Facing(), test.ShouldEqual, camera.FacingSelf)
	test.That(t, withPaths.PathFor(camera.FacingSelf), test.ShouldEqual, "/tmp/me.png")
	test.That(t, withPaths.PathFor(camera.FacingEnvironment), test.ShouldEqual, "")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	test.That(t, camera.Sources(), test.ShouldContain, fake.Kind)
	test.That(t, camera.Sources(), test.ShouldContain, fake.ImageKind)

	src, err := camera.Open(ctx, camera.Config{Source: fake.Kind, Width: 64, Height: 32, Rotation: 90}, camera.FacingSelf, logger)
	test.That(t, err, test.ShouldBeNil)
	props, err := src.Properties(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.Width, test.ShouldEqual, 32)
	test.That(t, props.Height, test.ShouldEqual, 64)
	test.That(t, props.Facing, test.ShouldEqual, camera.FacingSelf)

	img, err := camera.ReadImage(ctx, src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 32, 64))
	test.That(t, src.Close(ctx), test.ShouldBeNil)

	_, err = camera.Open(ctx, camera.Config{Source: "telescope"}, camera.FacingSelf, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = camera.Open(ctx, camera.Config{Source: fake.Kind, Width: 3}, camera.FacingSelf, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = camera.Open(ctx, camera.Config{Source: fake.Kind, Rotation: 45}, camera.FacingSelf, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
