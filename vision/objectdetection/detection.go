// Package objectdetection turns detector model sessions into pipeline stages: a preprocessor
// that converts the canvas into input tensors, and a postprocessor that decodes output
// tensors into detections, filters them and draws them onto the canvas.
package objectdetection

import (
	"fmt"
	"image"
)

// Detection is a labeled, scored bounding box in image pixel coordinates.
type Detection interface {
	BoundingBox() image.Rectangle
	Score() float64
	Label() string
}

// NewDetection creates a simple 2D detection.
func NewDetection(boundingBox image.Rectangle, score float64, label string) Detection {
	return &detection2D{boundingBox, score, label}
}

type detection2D struct {
	boundingBox image.Rectangle
	score       float64
	label       string
}

// BoundingBox returns the bounding box around the detected object.
func (d *detection2D) BoundingBox() image.Rectangle {
	return d.boundingBox
}

// Score returns a confidence score of the detection between 0.0 and 1.0.
func (d *detection2D) Score() float64 {
	return d.score
}

// Label returns the class label of the object in the bounding box.
func (d *detection2D) Label() string {
	return d.label
}

// String turns the detection into a string.
func (d *detection2D) String() string {
	return fmt.Sprintf("Label: %s, Score: %.2f, Box: %v", d.label, d.score, d.boundingBox)
}
