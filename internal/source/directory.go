// Package source provides camera frame sources for the occupancy pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// ErrNoFrames is returned when a frame directory holds no decodable images
var ErrNoFrames = errors.New("no image files found")

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// DirectoryOptions configures a DirectorySource
type DirectoryOptions struct {
	Interval time.Duration // Minimum spacing between frames; 0 reads as fast as possible
	Loop     bool          // Restart at the first file instead of returning io.EOF
	Enhancer Enhancer      // Optional per-frame processing
	Now      func() time.Time
}

// DirectorySource replays the image files of a directory in name order
type DirectorySource struct {
	cameraID string
	files    []string
	opts     DirectoryOptions
	log      *logger.ModuleLogger

	next   int
	number uint64
	last   time.Time
	closed bool
}

// NewDirectorySource lists dir and prepares the frames of one camera
func NewDirectorySource(cameraID, dir string, opts DirectoryOptions) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoFrames)
	}
	sort.Strings(files)

	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DirectorySource{
		cameraID: cameraID,
		files:    files,
		opts:     opts,
		log:      logger.For("Source"),
	}, nil
}

// Len returns the number of frames in one pass
func (s *DirectorySource) Len() int {
	return len(s.files)
}

// Next decodes the next frame, waiting out the pacing interval first
func (s *DirectorySource) Next(ctx context.Context) (types.Frame, error) {
	if s.closed {
		return types.Frame{}, os.ErrClosed
	}
	if s.next >= len(s.files) {
		if !s.opts.Loop {
			return types.Frame{}, io.EOF
		}
		s.next = 0
	}
	if err := s.pace(ctx); err != nil {
		return types.Frame{}, err
	}

	path := s.files[s.next]
	s.next++

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	var out image.Image = img
	if s.opts.Enhancer != nil {
		out = s.opts.Enhancer.Enhance(out)
	}

	s.number++
	s.last = s.opts.Now()
	return types.Frame{
		CameraID:  s.cameraID,
		Number:    s.number,
		Timestamp: s.last,
		Image:     out,
	}, nil
}

func (s *DirectorySource) pace(ctx context.Context) error {
	if s.opts.Interval <= 0 || s.last.IsZero() {
		return ctx.Err()
	}
	wait := s.opts.Interval - s.opts.Now().Sub(s.last)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close marks the source closed
func (s *DirectorySource) Close() error {
	if !s.closed {
		s.log.Debug("Closed frame directory for %s after %d frames", s.cameraID, s.number)
	}
	s.closed = true
	return nil
}
