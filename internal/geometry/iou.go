// Package geometry holds the box arithmetic used for occupancy classification.
package geometry

import "github.com/dj-oyu/parking-fusion/pkg/types"

// IoU returns the intersection-over-union of two boxes in [0, 1].
// Boxes that do not overlap, or that have no area, yield 0.
func IoU(a, b types.Box) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	inter := max(0, x2-x1) * max(0, y2-y1)
	if inter == 0 {
		return 0.0
	}

	union := Area(a) + Area(b) - inter
	if union <= 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// Area returns the box area, or 0 for inverted boxes.
func Area(b types.Box) int {
	return max(0, b.X2-b.X1) * max(0, b.Y2-b.Y1)
}

// Expand scales a box around its centre.
func Expand(b types.Box, scale float64) types.Box {
	cx := float64(b.X1+b.X2) / 2
	cy := float64(b.Y1+b.Y2) / 2
	w := float64(b.X2-b.X1) * scale
	h := float64(b.Y2-b.Y1) * scale
	return types.Box{
		X1: int(cx - w/2),
		Y1: int(cy - h/2),
		X2: int(cx + w/2),
		Y2: int(cy + h/2),
	}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ClampBox limits every corner of b to the given bounds.
func ClampBox(b types.Box, width, height int) types.Box {
	return types.Box{
		X1: Clamp(b.X1, 0, width),
		Y1: Clamp(b.Y1, 0, height),
		X2: Clamp(b.X2, 0, width),
		Y2: Clamp(b.Y2, 0, height),
	}
}
