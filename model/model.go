// Package model wraps the ONNX sessions behind the skin analysis: two YOLO
// style detectors (disease, state) and one softmax classifier (skin type).
package model

import (
	"errors"
	"image"
)

// ErrModelUnavailable is returned when a model handle is absent or could not be loaded.
var ErrModelUnavailable = errors.New("model unavailable")

// Classifier produces a class-probability vector for a flattened NHWC batch of one.
type Classifier interface {
	Predict(input []float32) ([]float32, error)
	NumClasses() int
	Close() error
}

// Detector returns boxes found in an image, strongest first.
type Detector interface {
	Detect(img image.Image) ([]Detection, error)
	// ClassNames are the names embedded in the model file, nil when absent.
	ClassNames() []string
	Close() error
}

// Box is in source image pixel coordinates.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (b Box) area() float32 {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU is the intersection over union of two boxes.
func (b Box) IoU(o Box) float32 {
	ix1, iy1 := max(b.X1, o.X1), max(b.Y1, o.Y1)
	ix2, iy2 := min(b.X2, o.X2), min(b.Y2, o.Y2)
	inter := Box{ix1, iy1, ix2, iy2}.area()
	union := b.area() + o.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

type Detection struct {
	ClassIndex int     `json:"class_index"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}
