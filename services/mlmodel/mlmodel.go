// Package mlmodel defines the session interface an inference backend implements, the metadata a
// session describes itself with, and a registry of backends sessions are built from.
package mlmodel

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/visionarypath/sight/ml"
)

// ErrNilSession is returned when inference is requested without a loaded session.
var ErrNilSession = errors.New("no model session loaded")

// Session is a loaded model that turns input tensors into output tensors. Implementations do
// not need to be safe for concurrent Infer calls; callers run at most one at a time.
type Session interface {
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
	Metadata(ctx context.Context) (MLMetadata, error)
	Close(ctx context.Context) error
}

// MLMetadata describes a session's model and its input and output tensors.
type MLMetadata struct {
	ModelName        string
	ModelType        string // e.g. object_detector
	ModelDescription string
	Inputs           []TensorInfo
	Outputs          []TensorInfo
}

// TensorInfo contains information about the model's input or output tensors.
type TensorInfo struct {
	Name            string // e.g. location
	Description     string
	DataType        string // e.g. uint8, float32
	Shape           []int  // -1 marks a dimension whose size varies per inference
	AssociatedFiles []File
	Extra           map[string]interface{}
}

// File describes a file attached to a tensor, such as a label list.
type File struct {
	Name        string // e.g. category_labels.txt
	Description string
	LabelType   LabelType
	Labels      []string
}

// LabelType describes how labels from the file are assigned to the tensors. TENSOR_VALUE means that
// labels are the actual value in the tensor. TENSOR_AXIS means that labels are positional within the
// tensor axis.
type LabelType string

// Known label types.
const (
	LabelTypeUnspecified = LabelType("UNSPECIFIED")
	LabelTypeTensorValue = LabelType("TENSOR_VALUE")
	LabelTypeTensorAxis  = LabelType("TENSOR_AXIS")
)

// Labels returns the labels attached to the `category` output, or nil.
func (md MLMetadata) Labels() []string {
	for _, o := range md.Outputs {
		if o.Name != "category" {
			continue
		}
		for _, f := range o.AssociatedFiles {
			if len(f.Labels) != 0 {
				return f.Labels
			}
		}
	}
	return nil
}

// Output returns the output tensor info with the given name.
func (md MLMetadata) Output(name string) (TensorInfo, bool) {
	for _, o := range md.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return TensorInfo{}, false
}

// RunInference runs one inference on session and reports how long it took on clk. It never
// cancels the call itself; a session that hangs makes RunInference hang.
func RunInference(
	ctx context.Context,
	clk clock.Clock,
	session Session,
	input ml.Tensors,
) (ml.Tensors, time.Duration, error) {
	if session == nil {
		return nil, 0, ErrNilSession
	}
	start := clk.Now()
	out, err := session.Infer(ctx, input)
	elapsed := clk.Since(start)
	if err != nil {
		return nil, elapsed, err
	}
	return out, elapsed, nil
}
