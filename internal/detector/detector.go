// Package detector adapts object detectors to the occupancy pipeline.
//
// Every detector reports boxes in frame pixel coordinates as
// [x1, y1, x2, y2, class_id, confidence].
package detector

import (
	"context"

	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// VehicleClasses are the COCO classes that can occupy a parking slot
var VehicleClasses = map[int]string{
	2: "car",
	3: "motorcycle",
	5: "bus",
	7: "truck",
}

// Detector finds objects in a frame
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// Filter drops low-confidence detections and detections outside Classes
type Filter struct {
	MinConfidence float64
	Classes       map[int]bool // nil keeps every class
}

// NewFilter builds a filter for the given class ids
func NewFilter(minConfidence float64, classes []int) Filter {
	f := Filter{MinConfidence: minConfidence}
	if len(classes) > 0 {
		f.Classes = make(map[int]bool, len(classes))
		for _, c := range classes {
			f.Classes[c] = true
		}
	}
	return f
}

// Keep reports whether d passes the filter
func (f Filter) Keep(d types.Detection) bool {
	if d.Confidence < f.MinConfidence {
		return false
	}
	if f.Classes != nil && !f.Classes[d.ClassID] {
		return false
	}
	return true
}

// Apply returns the detections that pass the filter
func (f Filter) Apply(dets []types.Detection) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if f.Keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// Filtered wraps a detector with a filter
type Filtered struct {
	Detector Detector
	Filter   Filter
}

// Detect runs the inner detector and filters its output
func (f Filtered) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	dets, err := f.Detector.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	return f.Filter.Apply(dets), nil
}

// Func adapts a function to Detector
type Func func(ctx context.Context, frame types.Frame) ([]types.Detection, error)

// Detect calls fn
func (fn Func) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	return fn(ctx, frame)
}
