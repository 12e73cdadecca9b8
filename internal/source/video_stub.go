//go:build !gocv

package source

import (
	"context"
	"fmt"

	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// VideoSource is unavailable without OpenCV
type VideoSource struct{}

// NewVideoSource returns ErrVideoUnsupported in builds without OpenCV
func NewVideoSource(cameraID, url string, opts VideoOptions) (*VideoSource, error) {
	return nil, fmt.Errorf("camera %s (%s): %w", cameraID, url, ErrVideoUnsupported)
}

// Next always fails
func (s *VideoSource) Next(ctx context.Context) (types.Frame, error) {
	return types.Frame{}, ErrVideoUnsupported
}

// Close is a no-op
func (s *VideoSource) Close() error {
	return nil
}
