// Package simple implements a pure Go object detector session. It finds the connected
// components of dark pixels in its input image and reports their bounding boxes in the same
// tensor layout as a TFLite SSD detector.
package simple

import (
	"context"
	"image"
	"sort"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/ml"
	"github.com/visionarypath/sight/services/mlmodel"
)

// Backend is the name this session is registered under.
const Backend = "simple"

const (
	defaultInputSize     = 320
	defaultThreshold     = 0.25
	defaultMaxDetections = 10
	defaultLabel         = "dark object"
)

func init() {
	mlmodel.Register(Backend, mlmodel.Registration[*Config]{
		Constructor: func(ctx context.Context, name string, conf *Config, logger logging.Logger) (mlmodel.Session, error) {
			return NewSession(name, conf, logger)
		},
	})
}

// Config are the attributes of a simple detector session.
type Config struct {
	InputWidth  int `json:"input_width,omitempty"`
	InputHeight int `json:"input_height,omitempty"`
	// Threshold is the luminance in [0, 1] below which a pixel counts as dark.
	Threshold     float64  `json:"threshold,omitempty"`
	MinArea       int      `json:"min_area,omitempty"`
	MaxDetections int      `json:"max_detections,omitempty"`
	Labels        []string `json:"labels,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.InputWidth < 0 || conf.InputHeight < 0 {
		return goutils.NewConfigValidationError(path, errors.New("input size cannot be negative"))
	}
	if conf.Threshold < 0 || conf.Threshold > 1 {
		return goutils.NewConfigValidationError(path, errors.Errorf("threshold %v must be in [0, 1]", conf.Threshold))
	}
	if conf.MinArea < 0 || conf.MaxDetections < 0 {
		return goutils.NewConfigValidationError(path, errors.New("min_area and max_detections cannot be negative"))
	}
	return nil
}

type session struct {
	name          string
	width, height int
	threshold     float64
	minArea       int
	maxDetections int
	labels        []string
	logger        logging.Logger
}

// NewSession returns a detector session built from conf. Zero values take defaults.
func NewSession(name string, conf *Config, logger logging.Logger) (mlmodel.Session, error) {
	if conf == nil {
		conf = &Config{}
	}
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	s := &session{
		name:          name,
		width:         conf.InputWidth,
		height:        conf.InputHeight,
		threshold:     conf.Threshold,
		minArea:       conf.MinArea,
		maxDetections: conf.MaxDetections,
		labels:        conf.Labels,
		logger:        logger,
	}
	if s.width == 0 {
		s.width = defaultInputSize
	}
	if s.height == 0 {
		s.height = defaultInputSize
	}
	if s.threshold == 0 {
		s.threshold = defaultThreshold
	}
	if s.maxDetections == 0 {
		s.maxDetections = defaultMaxDetections
	}
	if len(s.labels) == 0 {
		s.labels = []string{defaultLabel}
	}
	return s, nil
}

func (s *session) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return mlmodel.MLMetadata{
		ModelName:        s.name,
		ModelType:        "object_detector",
		ModelDescription: "connected components of pixels darker than a luminance threshold",
		Inputs: []mlmodel.TensorInfo{{
			Name:     "image",
			DataType: "uint8",
			Shape:    []int{1, s.height, s.width, 3},
		}},
		Outputs: []mlmodel.TensorInfo{
			{
				Name:     "location",
				DataType: "float32",
				Shape:    []int{1, -1, 4},
				Extra:    map[string]interface{}{"boxOrder": []uint32{1, 0, 3, 2}},
			},
			{
				Name:     "category",
				DataType: "float32",
				Shape:    []int{1, -1},
				AssociatedFiles: []mlmodel.File{{
					Name:      "labels.txt",
					LabelType: mlmodel.LabelTypeTensorValue,
					Labels:    s.labels,
				}},
			},
			{Name: "score", DataType: "float32", Shape: []int{1, -1}},
			{Name: "n_detections", DataType: "float32", Shape: []int{1}},
		},
	}, nil
}

func (s *session) Close(ctx context.Context) error {
	return nil
}

func (s *session) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	input, ok := tensors["image"]
	if !ok || input == nil {
		return nil, errors.New(`simple detector expects an input tensor named "image"`)
	}
	shape := input.Shape()
	if len(shape) != 4 || shape[0] != 1 || shape[3] != 3 {
		return nil, errors.Errorf("simple detector expects an image tensor of shape [1 h w 3], got %v", shape)
	}
	pix, ok := input.Data().([]uint8)
	if !ok {
		return nil, errors.Errorf("simple detector expects uint8 input, got %T", input.Data())
	}
	height, width := shape[1], shape[2]

	boxes := s.components(pix, width, height)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(boxes)
	if n == 0 {
		// Keep one zero-score placeholder so output tensors never have an empty dimension.
		boxes = []component{{}}
	}
	locations := make([]float32, 0, 4*len(boxes))
	scores := make([]float32, 0, len(boxes))
	categories := make([]float32, 0, len(boxes))
	for _, b := range boxes {
		// [ymin, xmin, ymax, xmax], normalized.
		locations = append(locations,
			float32(b.box.Min.Y)/float32(height), float32(b.box.Min.X)/float32(width),
			float32(b.box.Max.Y)/float32(height), float32(b.box.Max.X)/float32(width))
		scores = append(scores, float32(b.score))
		categories = append(categories, 0)
	}
	s.logger.Debugw("simple detector inference", "components", n)
	return ml.Tensors{
		"location":     ml.NewTensor(locations, 1, len(boxes), 4),
		"score":        ml.NewTensor(scores, 1, len(boxes)),
		"category":     ml.NewTensor(categories, 1, len(boxes)),
		"n_detections": ml.NewTensor([]float32{float32(n)}, 1),
	}, nil
}

type component struct {
	box   image.Rectangle
	area  int
	score float64
}

func (s *session) dark(pix []uint8, idx int) bool {
	r, g, b := float64(pix[3*idx]), float64(pix[3*idx+1]), float64(pix[3*idx+2])
	return (0.299*r+0.587*g+0.114*b)/255 < s.threshold
}

// components finds the 4-connected regions of dark pixels with a breadth first search. Each
// component's score is the share of its bounding box it fills.
func (s *session) components(pix []uint8, width, height int) []component {
	seen := make([]bool, width*height)
	var found []component
	queue := []image.Point{}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if seen[idx] {
				continue
			}
			seen[idx] = true
			if !s.dark(pix, idx) {
				continue
			}
			queue = append(queue[:0], image.Point{x, y})
			x0, y0, x1, y1 := x, y, x, y
			area := 0
			for len(queue) != 0 {
				pt := queue[0]
				queue = queue[1:]
				area++
				x0, x1 = min(x0, pt.X), max(x1, pt.X)
				y0, y1 = min(y0, pt.Y), max(y1, pt.Y)
				for _, n := range [4]image.Point{{pt.X, pt.Y - 1}, {pt.X, pt.Y + 1}, {pt.X - 1, pt.Y}, {pt.X + 1, pt.Y}} {
					if n.X < 0 || n.Y < 0 || n.X >= width || n.Y >= height {
						continue
					}
					nIdx := n.Y*width + n.X
					if seen[nIdx] {
						continue
					}
					seen[nIdx] = true
					if s.dark(pix, nIdx) {
						queue = append(queue, n)
					}
				}
			}
			if area < s.minArea {
				continue
			}
			box := image.Rect(x0, y0, x1+1, y1+1)
			found = append(found, component{
				box:   box,
				area:  area,
				score: float64(area) / float64(box.Dx()*box.Dy()),
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].area > found[j].area })
	if len(found) > s.maxDetections {
		found = found[:s.maxDetections]
	}
	return found
}
