package objectdetection

import (
	"context"
	"image"
	"strconv"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/rimage"
	"github.com/visionarypath/sight/services/mlmodel"
	"github.com/visionarypath/sight/utils"
)

const (
	// UInt8 is one of the possible input/output types for tensors.
	UInt8 = "uint8"
	// Float32 is one of the possible input/output types for tensors.
	Float32 = "float32"
)

// defaultBoxOrder reads [ymin, xmin, ymax, xmax] location tensors.
var defaultBoxOrder = []int{1, 0, 3, 2}

// InputSpec is the image tensor a detector model expects.
type InputSpec struct {
	Name          string
	DataType      string
	Width, Height int
	ChannelsFirst bool
}

// InputSpecFromMetadata reads the first input tensor of md. Both [1 h w 3] and [1 3 h w] shapes
// are understood.
func InputSpecFromMetadata(md mlmodel.MLMetadata) (InputSpec, error) {
	if len(md.Inputs) == 0 {
		return InputSpec{}, errors.New("model metadata has no input tensors")
	}
	in := md.Inputs[0]
	if len(in.Shape) != 4 {
		return InputSpec{}, errors.Errorf("expected a 4 dimensional image input, got shape %v", in.Shape)
	}
	spec := InputSpec{Name: in.Name, DataType: in.DataType}
	if spec.Name == "" {
		spec.Name = "image"
	}
	if in.Shape[1] == 3 {
		spec.ChannelsFirst = true
		spec.Height, spec.Width = in.Shape[2], in.Shape[3]
	} else {
		spec.Height, spec.Width = in.Shape[1], in.Shape[2]
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return InputSpec{}, errors.Errorf("model input size must be fixed, got shape %v", in.Shape)
	}
	switch spec.DataType {
	case UInt8, Float32:
	default:
		return InputSpec{}, errors.Errorf("invalid input type %q. try uint8 or float32", spec.DataType)
	}
	return spec, nil
}

// NewPreprocessor returns a pipeline stage that resizes the canvas contents to the model input
// size and packs them into the model's input tensor.
func NewPreprocessor(md mlmodel.MLMetadata) (func(context.Context, *rimage.Canvas) (ml.Tensors, error), error) {
	spec, err := InputSpecFromMetadata(md)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, canvas *rimage.Canvas) (ml.Tensors, error) {
		var resized image.Image
		if err := canvas.View(func(img *image.RGBA) error {
			if img.Rect.Empty() {
				return errors.New("cannot preprocess an empty canvas")
			}
			resized = resize.Resize(uint(spec.Width), uint(spec.Height), img, resize.Bilinear)
			return nil
		}); err != nil {
			return nil, err
		}

		shape := []int{1, spec.Height, spec.Width, 3}
		if spec.ChannelsFirst {
			shape = []int{1, 3, spec.Height, spec.Width}
		}
		var backing interface{}
		switch spec.DataType {
		case UInt8:
			buf := rimage.ImageToUInt8Buffer(resized)
			if spec.ChannelsFirst {
				buf = toChannelsFirst(buf, spec.Width*spec.Height)
			}
			backing = buf
		case Float32:
			buf := rimage.ImageToFloatBuffer(resized)
			if spec.ChannelsFirst {
				buf = toChannelsFirst(buf, spec.Width*spec.Height)
			}
			backing = buf
		}
		return ml.Tensors{spec.Name: ml.NewTensor(backing, shape...)}, nil
	}, nil
}

// toChannelsFirst turns interleaved RGB into planar RGB.
func toChannelsFirst[T uint8 | float32](interleaved []T, pixels int) []T {
	out := make([]T, len(interleaved))
	for i := 0; i < pixels; i++ {
		for c := 0; c < 3; c++ {
			out[c*pixels+i] = interleaved[3*i+c]
		}
	}
	return out
}

// Decoder turns detector output tensors into detections in the pixel space of a width x height
// image.
type Decoder func(out ml.Tensors, width, height int) ([]Detection, error)

// NewDecoder builds a Decoder for detector outputs named location, score and category. The
// location box order comes from the `boxOrder` extra of the location tensor, where 0=xmin,
// 1=ymin, 2=xmax and 3=ymax index into each box. Labels come from the category tensor.
func NewDecoder(md mlmodel.MLMetadata) Decoder {
	boxOrder := defaultBoxOrder
	if loc, ok := md.Output("location"); ok {
		if order, ok := loc.Extra["boxOrder"].([]uint32); ok && len(order) == 4 {
			boxOrder = make([]int, 0, 4)
			for _, o := range order {
				boxOrder = append(boxOrder, int(o))
			}
		}
	}
	labels := md.Labels()

	return func(out ml.Tensors, width, height int) ([]Detection, error) {
		locations, err := out.Float64s("location")
		if err != nil {
			return nil, err
		}
		scores, err := out.Float64s("score")
		if err != nil {
			return nil, err
		}
		categories, err := out.Float64s("category")
		if err != nil {
			return nil, err
		}
		if len(locations) < 4*len(scores) || len(categories) < len(scores) {
			return nil, errors.Errorf("mismatched detector outputs: %d locations, %d scores, %d categories",
				len(locations), len(scores), len(categories))
		}

		detections := make([]Detection, 0, len(scores))
		for i := 0; i < len(scores); i++ {
			xmin := utils.Clamp(locations[4*i+boxOrder[0]], 0, 1) * float64(width)
			ymin := utils.Clamp(locations[4*i+boxOrder[1]], 0, 1) * float64(height)
			xmax := utils.Clamp(locations[4*i+boxOrder[2]], 0, 1) * float64(width)
			ymax := utils.Clamp(locations[4*i+boxOrder[3]], 0, 1) * float64(height)
			rect := image.Rect(int(xmin), int(ymin), int(xmax), int(ymax))

			labelNum := int(categories[i])
			label := strconv.Itoa(labelNum)
			if labelNum >= 0 && labelNum < len(labels) {
				label = labels[labelNum]
			}
			detections = append(detections, NewDetection(rect, scores[i], label))
		}
		return detections, nil
	}
}
