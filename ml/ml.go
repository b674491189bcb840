// Package ml provides the tensor container passed between pipeline stages and some numeric
// helpers for interpreting model outputs.
package ml

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gorgonia.org/tensor"

	"github.com/visionarypath/sight/utils"
)

// Tensors are a mapping of tensor names to the tensors. Tensors are not modified once handed to
// the next pipeline stage.
type Tensors map[string]*tensor.Dense

// NewTensor wraps backing in a dense tensor of the given shape.
func NewTensor(backing interface{}, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// Names returns the tensor names in sorted order.
func (ts Tensors) Names() []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Float64s returns the flattened contents of the named tensor as float64s.
func (ts Tensors) Float64s(name string) ([]float64, error) {
	t, ok := ts[name]
	if !ok || t == nil {
		return nil, utils.NewMissingTensorError(name)
	}
	return ToFloat64Slice(t.Data())
}

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

// ToFloat64Slice converts a tensor backing (a numeric slice, or a single number for scalar
// tensors) into a []float64.
func ToFloat64Slice(slice interface{}) ([]float64, error) {
	switch v := slice.(type) {
	case []float64:
		return v, nil
	case float64:
		return []float64{v}, nil
	case []float32:
		return convertNumberSlice[float32, float64](v), nil
	case float32:
		return []float64{float64(v)}, nil
	case []int:
		return convertNumberSlice[int, float64](v), nil
	case int:
		return []float64{float64(v)}, nil
	case []int32:
		return convertNumberSlice[int32, float64](v), nil
	case int32:
		return []float64{float64(v)}, nil
	case []int64:
		return convertNumberSlice[int64, float64](v), nil
	case int64:
		return []float64{float64(v)}, nil
	case []uint8:
		return convertNumberSlice[uint8, float64](v), nil
	case uint8:
		return []float64{float64(v)}, nil
	case []uint32:
		return convertNumberSlice[uint32, float64](v), nil
	case uint32:
		return []float64{float64(v)}, nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float64", slice)
	}
}

// Softmax takes the input slice and applies the softmax function.
func Softmax(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	bigSum := 0.0
	for _, x := range in {
		bigSum += math.Exp(x)
	}
	for _, x := range in {
		out = append(out, math.Exp(x)/bigSum)
	}
	return out
}

// ConfidenceScores ensures the raw output scores of a model represent confidences in [0, 1].
// Logits get a softmax, or a sigmoid when there is a single score.
func ConfidenceScores(in []float64) []float64 {
	if len(in) == 0 {
		return in
	}
	if len(in) > 1 {
		for _, p := range in {
			if p < 0 || p > 1 {
				return Softmax(in)
			}
		}
		return in
	}
	if in[0] < -1 || in[0] > 1 {
		out, err := stats.Sigmoid(in)
		if err != nil {
			return in
		}
		return out
	}
	return in
}
