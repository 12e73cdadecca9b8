//go:build gocv

package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// VideoSource reads frames from a capture device, stream URL, or video file.
// Streams are reopened after a failed read; files end with io.EOF.
type VideoSource struct {
	cameraID string
	url      string
	isFile   bool
	opts     VideoOptions
	log      *logger.ModuleLogger

	capture *gocv.VideoCapture
	mat     gocv.Mat
	number  uint64
}

// NewVideoSource opens url for a camera
func NewVideoSource(cameraID, url string, opts VideoOptions) (*VideoSource, error) {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	_, statErr := os.Stat(url)
	s := &VideoSource{
		cameraID: cameraID,
		url:      url,
		isFile:   statErr == nil,
		opts:     opts,
		log:      logger.For("Source"),
		mat:      gocv.NewMat(),
	}
	if err := s.connect(); err != nil {
		s.mat.Close()
		return nil, err
	}
	return s, nil
}

func (s *VideoSource) connect() error {
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
	capture, err := gocv.OpenVideoCapture(s.url)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.url, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open %s: capture not opened", s.url)
	}
	s.capture = capture
	s.log.Info("Connected to %s", s.url)
	return nil
}

// Next reads the next frame
func (s *VideoSource) Next(ctx context.Context) (types.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Frame{}, err
		}
		if s.capture != nil && s.capture.Read(&s.mat) && !s.mat.Empty() {
			break
		}
		if s.isFile {
			return types.Frame{}, io.EOF
		}

		s.log.Warn("Frame read failed on %s, reconnecting in %v", s.url, s.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		case <-time.After(s.opts.ReconnectDelay):
		}
		if err := s.connect(); err != nil {
			s.log.Warn("Reconnect failed: %v", err)
		}
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return types.Frame{}, fmt.Errorf("convert frame: %w", err)
	}
	if s.opts.Enhancer != nil {
		img = s.opts.Enhancer.Enhance(img)
	}
	s.number++
	return types.Frame{
		CameraID:  s.cameraID,
		Number:    s.number,
		Timestamp: time.Now(),
		Image:     img,
	}, nil
}

// Close releases the capture
func (s *VideoSource) Close() error {
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
	s.log.Info("Released stream %s", s.url)
	return s.mat.Close()
}
