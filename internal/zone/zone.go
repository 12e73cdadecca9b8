// Package zone owns the per-camera slot geometry and trust weights, and
// classifies detections into per-slot occupancy.
package zone

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dj-oyu/parking-fusion/internal/geometry"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

const (
	// DefaultTrust is used for slots whose definition carries no trust value
	DefaultTrust = 0.5
	// DefaultIoUThreshold is the minimum overlap for a detection to occupy a slot
	DefaultIoUThreshold = 0.5
)

// ErrInvalidID is returned for camera or slot ids that cannot name a single
// path element
var ErrInvalidID = errors.New("invalid id")

// ValidID checks that id can be used as one file or directory name
func ValidID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("empty id: %w", ErrInvalidID)
	case id == "." || id == "..",
		strings.ContainsAny(id, `/\`),
		filepath.Base(id) != id:
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return nil
}

// Zone is one camera's view of a parking slot
type Zone struct {
	Coords types.Box `json:"coords"`
	Name   string    `json:"name"`
	Trust  *float64  `json:"trust,omitempty"`
}

// TrustOr returns the zone's trust, or def when none is set
func (z Zone) TrustOr(def float64) float64 {
	if z.Trust == nil {
		return def
	}
	return *z.Trust
}

// Set maps slot id to zone for a single camera
type Set map[string]Zone

// Clone returns a deep copy of the set
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id, z := range s {
		if z.Trust != nil {
			t := *z.Trust
			z.Trust = &t
		}
		out[id] = z
	}
	return out
}

// SlotIDs returns the slot ids in sorted order
func (s Set) SlotIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that every slot id is a plain name and every trust value
// lies in [0, 1]
func Validate(s Set) error {
	for id, z := range s {
		if err := ValidID(id); err != nil {
			return fmt.Errorf("zone slot: %w", err)
		}
		if z.Trust != nil && (*z.Trust < 0 || *z.Trust > 1) {
			return fmt.Errorf("zone %s: trust %.3f outside [0, 1]", id, *z.Trust)
		}
	}
	return nil
}

// TrustPtr is a helper for building zones with an explicit trust
func TrustPtr(v float64) *float64 {
	return &v
}

// Threshold returns a pointer for Options.IoUThreshold
func Threshold(v float64) *float64 {
	return &v
}

// FromDetections builds a zone set with one slot per detection, named
// slot_1..slot_N in detection order. Boxes are grown by scale around their
// centre; a scale of 1 (or less than or equal to 0) keeps them as detected.
func FromDetections(dets []types.Detection, scale float64) Set {
	set := make(Set, len(dets))
	for i, d := range dets {
		b := d.Box
		if scale > 0 && scale != 1 {
			b = geometry.Expand(b, scale)
		}
		id := fmt.Sprintf("slot_%d", i+1)
		set[id] = Zone{Coords: b, Name: id}
	}
	return set
}
