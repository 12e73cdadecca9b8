package source

import (
	"image"

	"github.com/anthonynsimon/bild/adjust"
)

// Enhancer processes a decoded frame before detection
type Enhancer interface {
	Enhance(img image.Image) image.Image
}

// EnhancerFunc adapts a function to Enhancer
type EnhancerFunc func(image.Image) image.Image

// Enhance calls f(img)
func (f EnhancerFunc) Enhance(img image.Image) image.Image { return f(img) }

// ContrastEnhancer lifts contrast and applies a gamma curve, which helps the
// detector on overcast and night footage.
type ContrastEnhancer struct {
	Contrast float64 // -1..1, 0 leaves contrast unchanged
	Gamma    float64 // 1 leaves brightness unchanged
}

// DefaultEnhancer returns the enhancement applied unless a camera disables it
func DefaultEnhancer() ContrastEnhancer {
	return ContrastEnhancer{Contrast: 0.2, Gamma: 1.1}
}

// Enhance implements Enhancer
func (e ContrastEnhancer) Enhance(img image.Image) image.Image {
	out := img
	if e.Contrast != 0 {
		out = adjust.Contrast(out, e.Contrast)
	}
	if e.Gamma > 0 && e.Gamma != 1 {
		out = adjust.Gamma(out, e.Gamma)
	}
	return out
}
