package objectdetection

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/rimage"
	"github.com/visionarypath/sight/services/mlmodel"
)

// OverlayOptions control how detections are drawn.
type OverlayOptions struct {
	Color     color.Color
	LineWidth float64
	FontSize  float64
	// ShowTiming writes the inference time in the top left corner.
	ShowTiming bool
}

// DefaultOverlayOptions draws red boxes with 12pt labels.
var DefaultOverlayOptions = OverlayOptions{
	Color:      color.NRGBA{255, 0, 0, 255},
	LineWidth:  3,
	FontSize:   12,
	ShowTiming: true,
}

// Overlay draws detections and an optional caption onto img.
func Overlay(img *image.RGBA, dets []Detection, caption string, opts OverlayOptions) {
	dc := gg.NewContextForRGBA(img)
	for _, d := range dets {
		label := fmt.Sprintf("%s: %.2f", d.Label(), d.Score())
		rimage.DrawLabeledBox(dc, d.BoundingBox(), label, opts.Color, opts.LineWidth, opts.FontSize)
	}
	if caption != "" {
		rimage.DrawString(dc, caption, image.Point{4, 4}, opts.Color, opts.FontSize)
	}
}

// Postprocessor decodes detector outputs, filters them and draws them onto the canvas. It keeps
// the detections of the last frame it processed.
type Postprocessor struct {
	decode Decoder
	filter Filter
	opts   OverlayOptions
	logger logging.Logger

	mu     sync.Mutex
	latest []Detection
}

// NewPostprocessor builds a Postprocessor for a detector session's outputs.
func NewPostprocessor(md mlmodel.MLMetadata, filter Filter, opts OverlayOptions, logger logging.Logger) *Postprocessor {
	if filter == nil {
		filter = func(in []Detection) []Detection { return in }
	}
	return &Postprocessor{
		decode: NewDecoder(md),
		filter: filter,
		opts:   opts,
		logger: logger,
	}
}

// Process decodes out into detections scaled to the canvas and draws them onto it.
func (pp *Postprocessor) Process(ctx context.Context, out ml.Tensors, inference time.Duration, canvas *rimage.Canvas) error {
	var dets []Detection
	err := canvas.Edit(func(img *image.RGBA) error {
		decoded, err := pp.decode(out, img.Rect.Dx(), img.Rect.Dy())
		if err != nil {
			return errors.Wrap(err, "decoding detections")
		}
		dets = pp.filter(decoded)
		caption := ""
		if pp.opts.ShowTiming {
			caption = fmt.Sprintf("inference %.1f ms", float64(inference.Microseconds())/1000)
		}
		Overlay(img, dets, caption, pp.opts)
		return nil
	})
	if err != nil {
		return err
	}
	pp.logger.CDebugw(ctx, "drew detections", "count", len(dets), "inference_ms", inference.Milliseconds())

	pp.mu.Lock()
	pp.latest = dets
	pp.mu.Unlock()
	return nil
}

// Latest returns the detections drawn by the last successful Process call.
func (pp *Postprocessor) Latest() []Detection {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return append([]Detection(nil), pp.latest...)
}
