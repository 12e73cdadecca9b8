package types

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// Frame is a single decoded image pulled from a camera source
type Frame struct {
	CameraID  string      // Camera that produced the frame
	Number    uint64      // Sequential frame number (1-based)
	Timestamp time.Time   // Capture timestamp
	Image     image.Image // Decoded pixels
}

// Width returns the frame width in pixels
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Box is an axis-aligned pixel box. (X1, Y1) is the top-left corner and
// (X2, Y2) the bottom-right corner.
type Box struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Rect converts the box to an image.Rectangle without canonicalizing it.
func (b Box) Rect() image.Rectangle {
	return image.Rectangle{Min: image.Pt(b.X1, b.Y1), Max: image.Pt(b.X2, b.Y2)}
}

// Array returns the box as [x1, y1, x2, y2]
func (b Box) Array() [4]int {
	return [4]int{b.X1, b.Y1, b.X2, b.Y2}
}

// MarshalJSON encodes the box as [x1, y1, x2, y2]
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Array())
}

// UnmarshalJSON decodes a box from [x1, y1, x2, y2]
func (b *Box) UnmarshalJSON(data []byte) error {
	var coords []int
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("box: %w", err)
	}
	if len(coords) != 4 {
		return fmt.Errorf("box: expected 4 coordinates, got %d", len(coords))
	}
	*b = Box{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
	return nil
}

// Detection is one object reported by the external detector for a frame.
// The wire form is the tuple [x1, y1, x2, y2, class_id, confidence].
type Detection struct {
	Box        Box
	ClassID    int
	Confidence float64
}

// MarshalJSON encodes the detection as a 6-tuple
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, d.ClassID, d.Confidence})
}

// UnmarshalJSON decodes a detection from a 6-tuple
func (d *Detection) UnmarshalJSON(data []byte) error {
	var tuple []float64
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if len(tuple) != 6 {
		return fmt.Errorf("detection: expected 6 fields, got %d", len(tuple))
	}
	*d = Detection{
		Box:        Box{X1: int(tuple[0]), Y1: int(tuple[1]), X2: int(tuple[2]), Y2: int(tuple[3])},
		ClassID:    int(tuple[4]),
		Confidence: tuple[5],
	}
	return nil
}

// StatusMap maps slot id to free (true) or occupied (false)
type StatusMap map[string]bool

// Clone returns an independent copy of the map
func (s StatusMap) Clone() StatusMap {
	out := make(StatusMap, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Status labels used in logs and transition records
const (
	LabelFree     = "Free"
	LabelOccupied = "Occupied"
)

// StatusLabel returns "Free" or "Occupied"
func StatusLabel(free bool) string {
	if free {
		return LabelFree
	}
	return LabelOccupied
}
