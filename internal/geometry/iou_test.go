package geometry

import (
	"math"
	"testing"

	"github.com/dj-oyu/parking-fusion/pkg/types"
)

func box(x1, y1, x2, y2 int) types.Box {
	return types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestIoU_Identity(t *testing.T) {
	boxes := []types.Box{
		box(0, 0, 10, 10),
		box(5, 7, 100, 30),
		box(-20, -20, -1, -5),
	}
	for _, b := range boxes {
		if got := IoU(b, b); got != 1.0 {
			t.Errorf("IoU(%v, %v) = %v, want 1.0", b, b, got)
		}
	}
}

func TestIoU_PartialOverlap(t *testing.T) {
	// 5x5 intersection over 100 + 100 - 25
	got := IoU(box(0, 0, 10, 10), box(5, 5, 15, 15))
	want := 25.0 / 175.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("IoU = %v, want %v", got, want)
	}
	if got >= 0.5 {
		t.Fatalf("IoU should be below the default threshold, got %v", got)
	}
}

func TestIoU_Symmetric(t *testing.T) {
	pairs := [][2]types.Box{
		{box(0, 0, 10, 10), box(5, 5, 15, 15)},
		{box(0, 0, 4, 8), box(2, 1, 30, 3)},
		{box(10, 10, 20, 20), box(0, 0, 5, 5)},
		{box(0, 0, 0, 10), box(0, 0, 10, 10)},
	}
	for _, p := range pairs {
		ab := IoU(p[0], p[1])
		ba := IoU(p[1], p[0])
		if ab != ba {
			t.Errorf("IoU not symmetric for %v/%v: %v vs %v", p[0], p[1], ab, ba)
		}
	}
}

func TestIoU_NoOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Box
	}{
		{"disjoint", box(0, 0, 10, 10), box(20, 20, 30, 30)},
		{"touching edge", box(0, 0, 10, 10), box(10, 0, 20, 10)},
		{"touching corner", box(0, 0, 10, 10), box(10, 10, 20, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IoU(tt.a, tt.b); got != 0.0 {
				t.Errorf("IoU = %v, want 0", got)
			}
		})
	}
}

func TestIoU_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Box
	}{
		{"zero width", box(5, 0, 5, 10), box(0, 0, 10, 10)},
		{"zero height", box(0, 5, 10, 5), box(0, 0, 10, 10)},
		{"point", box(3, 3, 3, 3), box(3, 3, 3, 3)},
		{"inverted", box(10, 10, 0, 0), box(0, 0, 10, 10)},
		{"both empty", box(0, 0, 0, 0), box(0, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IoU(tt.a, tt.b); got != 0.0 {
				t.Errorf("IoU = %v, want 0", got)
			}
		})
	}
}

func TestIoU_Range(t *testing.T) {
	for x := -5; x <= 15; x += 3 {
		for y := -5; y <= 15; y += 4 {
			for w := 0; w <= 12; w += 4 {
				got := IoU(box(0, 0, 10, 10), box(x, y, x+w, y+8))
				if got < 0 || got > 1 {
					t.Fatalf("IoU out of range: %v", got)
				}
			}
		}
	}
}

func TestExpand(t *testing.T) {
	got := Expand(box(0, 0, 10, 10), 2.0)
	want := box(-5, -5, 15, 15)
	if got != want {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
	if same := Expand(box(2, 4, 6, 8), 1.0); same != box(2, 4, 6, 8) {
		t.Fatalf("Expand with scale 1 changed box: %v", same)
	}
}

func TestClampBox(t *testing.T) {
	got := ClampBox(box(-3, 5, 700, 900), 640, 480)
	want := box(0, 5, 640, 480)
	if got != want {
		t.Fatalf("ClampBox = %v, want %v", got, want)
	}
}
