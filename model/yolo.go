package model

import (
	"fmt"
	"sort"
)

// DecodeOptions controls YOLO output decoding.
type DecodeOptions struct {
	ConfThreshold float32
	IoUThreshold  float32
	// ScaleX and ScaleY map network coordinates back to the source image.
	ScaleX float32
	ScaleY float32
}

// DecodeYOLO converts a YOLOv8 style head output into detections ordered by
// confidence, strongest first, after per-class non-maximum suppression.
// Both the exported [1, 4+nc, anchors] layout and the transposed
// [1, anchors, 4+nc] layout are accepted; the smaller axis is taken as the
// attribute axis.
func DecodeYOLO(data []float32, shape []int64, opts DecodeOptions) ([]Detection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected detector output shape %v", shape)
	}
	if int64(len(data)) != shapeSize(shape) {
		return nil, fmt.Errorf("detector output has %d values, shape %v wants %d", len(data), shape, shapeSize(shape))
	}

	attrs, anchors := int(shape[1]), int(shape[2])
	transposed := false
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("detector output has %d attributes, want at least 5", attrs)
	}
	classes := attrs - 4

	at := func(attr, anchor int) float32 {
		if transposed {
			return data[anchor*attrs+attr]
		}
		return data[attr*anchors+anchor]
	}

	sx, sy := opts.ScaleX, opts.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}

	var candidates []Detection
	for a := 0; a < anchors; a++ {
		best, bestScore := 0, at(4, a)
		for c := 1; c < classes; c++ {
			if s := at(4+c, a); s > bestScore {
				best, bestScore = c, s
			}
		}
		if bestScore < opts.ConfThreshold {
			continue
		}
		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		candidates = append(candidates, Detection{
			ClassIndex: best,
			Confidence: bestScore,
			Box: Box{
				X1: (cx - w/2) * sx,
				Y1: (cy - h/2) * sy,
				X2: (cx + w/2) * sx,
				Y2: (cy + h/2) * sy,
			},
		})
	}
	return NonMaxSuppression(candidates, opts.IoUThreshold), nil
}

// NonMaxSuppression keeps, per class, the strongest boxes whose overlap with an
// already kept box of the same class does not exceed iou. The result is
// sorted by confidence descending; equal confidences keep input order.
func NonMaxSuppression(dets []Detection, iou float32) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassIndex == d.ClassIndex && k.Box.IoU(d.Box) > iou {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}
