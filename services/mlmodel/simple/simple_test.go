package simple_test

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/services/mlmodel/simple"
)

// whiteImage returns a [1 h w 3] uint8 backing of white pixels with the given dark squares.
func whiteImage(width, height int, dark ...[4]int) []uint8 {
	pix := make([]uint8, width*height*3)
	for i := range pix {
		pix[i] = 255
	}
	for _, d := range dark {
		for y := d[1]; y < d[3]; y++ {
			for x := d[0]; x < d[2]; x++ {
				idx := 3 * (y*width + x)
				pix[idx], pix[idx+1], pix[idx+2] = 10, 10, 10
			}
		}
	}
	return pix
}

func TestSimpleDetector(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	session, err := simple.NewSession("simple", &simple.Config{InputWidth: 40, InputHeight: 20, MinArea: 4}, logger)
	test.That(t, err, test.ShouldBeNil)

	md, err := session.Metadata(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.Inputs[0].Shape, test.ShouldResemble, []int{1, 20, 40, 3})
	test.That(t, md.Labels(), test.ShouldResemble, []string{"dark object"})

	// A 10x4 solid block, a 2x2 block and a single dark pixel below min_area.
	pix := whiteImage(40, 20, [4]int{20, 10, 30, 14}, [4]int{2, 2, 4, 4}, [4]int{38, 18, 39, 19})
	out, err := session.Infer(ctx, ml.Tensors{"image": ml.NewTensor(pix, 1, 20, 40, 3)})
	test.That(t, err, test.ShouldBeNil)

	n, err := out.Float64s("n_detections")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldResemble, []float64{2})

	locations, err := out.Float64s("location")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(locations), test.ShouldEqual, 8)
	// Largest first, [ymin xmin ymax xmax] normalized.
	test.That(t, locations[0], test.ShouldAlmostEqual, 10.0/20, 1e-6)
	test.That(t, locations[1], test.ShouldAlmostEqual, 20.0/40, 1e-6)
	test.That(t, locations[2], test.ShouldAlmostEqual, 14.0/20, 1e-6)
	test.That(t, locations[3], test.ShouldAlmostEqual, 30.0/40, 1e-6)

	scores, err := out.Float64s("score")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scores, test.ShouldResemble, []float64{1, 1})
	test.That(t, session.Close(ctx), test.ShouldBeNil)
}

func TestSimpleDetectorNoComponents(t *testing.T) {
	ctx := context.Background()
	session, err := simple.NewSession("simple", &simple.Config{InputWidth: 8, InputHeight: 8}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	out, err := session.Infer(ctx, ml.Tensors{"image": ml.NewTensor(whiteImage(8, 8), 1, 8, 8, 3)})
	test.That(t, err, test.ShouldBeNil)
	scores, err := out.Float64s("score")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scores, test.ShouldResemble, []float64{0})
}

func TestSimpleDetectorBadInput(t *testing.T) {
	ctx := context.Background()
	session, err := simple.NewSession("simple", nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, err = session.Infer(ctx, ml.Tensors{})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = session.Infer(ctx, ml.Tensors{"image": ml.NewTensor(make([]uint8, 16), 1, 4, 4)})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = session.Infer(ctx, ml.Tensors{"image": ml.NewTensor(make([]float32, 48), 1, 4, 4, 3)})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = simple.NewSession("simple", &simple.Config{Threshold: 1.5}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
