//go:build !gocv

package detector

import (
	"context"
	"fmt"

	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// YOLO is unavailable without OpenCV
type YOLO struct{}

// NewYOLO returns ErrYOLOUnsupported in builds without OpenCV
func NewYOLO(cfg YOLOConfig) (*YOLO, error) {
	return nil, fmt.Errorf("load %s: %w", cfg.ModelPath, ErrYOLOUnsupported)
}

// Detect always fails
func (d *YOLO) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	return nil, ErrYOLOUnsupported
}

// Close is a no-op
func (d *YOLO) Close() error {
	return nil
}
