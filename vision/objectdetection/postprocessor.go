package objectdetection

import (
	"sort"

	"github.com/samber/lo"
)

// Filter defines a function that filters/modifies on an incoming array of Detections.
type Filter func([]Detection) []Detection

// NewAreaFilter returns a function that filters out detections below a certain area.
func NewAreaFilter(area int) Filter {
	return func(in []Detection) []Detection {
		return lo.Filter(in, func(d Detection, _ int) bool {
			return d.BoundingBox().Dx()*d.BoundingBox().Dy() >= area
		})
	}
}

// NewScoreFilter returns a function that filters out detections below a certain confidence.
func NewScoreFilter(conf float64) Filter {
	return func(in []Detection) []Detection {
		return lo.Filter(in, func(d Detection, _ int) bool {
			return d.Score() >= conf
		})
	}
}

// NewLabelFilter returns a function that keeps only detections with one of the given labels. An
// empty label list keeps everything.
func NewLabelFilter(labels []string) Filter {
	if len(labels) == 0 {
		return func(in []Detection) []Detection { return in }
	}
	keep := lo.SliceToMap(labels, func(l string) (string, struct{}) { return l, struct{}{} })
	return func(in []Detection) []Detection {
		return lo.Filter(in, func(d Detection, _ int) bool {
			_, ok := keep[d.Label()]
			return ok
		})
	}
}

// NewTopNFilter keeps the n highest scoring detections, ordered by descending score. n <= 0
// keeps everything in that order.
func NewTopNFilter(n int) Filter {
	return func(in []Detection) []Detection {
		out := append([]Detection(nil), in...)
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score() > out[j].Score() })
		if n > 0 && len(out) > n {
			out = out[:n]
		}
		return out
	}
}

// ComposeFilters applies filters in order. Nil filters are skipped.
func ComposeFilters(filters ...Filter) Filter {
	return func(in []Detection) []Detection {
		out := in
		for _, f := range filters {
			if f != nil {
				out = f(out)
			}
		}
		return out
	}
}
