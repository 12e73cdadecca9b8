// Package pipeline runs one camera's frames through detection, debouncing,
// fusion, and transition logging.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dj-oyu/parking-fusion/internal/evidence"
	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/internal/metrics"
	"github.com/dj-oyu/parking-fusion/internal/zone"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// DefaultMaxSourceErrors is how many consecutive source failures end a camera
const DefaultMaxSourceErrors = 10

// FrameSource yields frames until io.EOF
type FrameSource interface {
	Next(ctx context.Context) (types.Frame, error)
	Close() error
}

// Detector finds objects in a frame
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// Analyzer debounces detections into the stable status of a camera
type Analyzer interface {
	Analyze(cameraID string, dets []types.Detection) types.StatusMap
}

// Reporter receives a camera's stable status
type Reporter interface {
	Update(cameraID string, status types.StatusMap)
}

// ZoneLookup resolves a slot's zone
type ZoneLookup interface {
	Zone(cameraID, slotID string) (zone.Zone, bool)
}

// TransitionLogger persists evidence of a status change
type TransitionLogger interface {
	LogTransition(ctx context.Context, cameraID, slotID string, oldFree, newFree bool, frame image.Image, roi types.Box) (*evidence.Record, error)
}

// Transition is a stable status change seen by a camera
type Transition struct {
	Camera  string           `json:"camera_id"`
	Slot    string           `json:"slot_id"`
	OldFree bool             `json:"old_free"`
	NewFree bool             `json:"new_free"`
	Frame   uint64           `json:"frame"`
	Time    time.Time        `json:"time"`
	Record  *evidence.Record `json:"record,omitempty"`
}

// Options wires a Camera
type Options struct {
	ID       string
	Source   FrameSource
	Detector Detector
	Analyzer Analyzer
	Reporter Reporter
	Zones    ZoneLookup
	Evidence TransitionLogger // Optional
	Metrics  *metrics.Metrics // Optional

	// DropWhenBusy skips frames that arrive while the previous one is still
	// being analysed. Live streams want this; replays do not.
	DropWhenBusy    bool
	MaxSourceErrors int

	OnTransition func(Transition) // Optional
	Logger       *logger.ModuleLogger
}

// Stats is a snapshot of a camera's progress
type Stats struct {
	Camera      string          `json:"camera_id"`
	Running     bool            `json:"running"`
	Frames      uint64          `json:"frames"`
	Dropped     uint64          `json:"dropped"`
	Detections  uint64          `json:"detections"`
	Transitions uint64          `json:"transitions"`
	LastFrame   time.Time       `json:"last_frame"`
	LastError   string          `json:"last_error,omitempty"`
	Status      types.StatusMap `json:"status"`
}

// Camera is one camera's processing unit
type Camera struct {
	opts Options
	log  *logger.ModuleLogger

	mu    sync.Mutex
	stats Stats
	last  types.StatusMap
}

// NewCamera validates opts and returns a Camera ready to Run
func NewCamera(opts Options) (*Camera, error) {
	switch {
	case opts.ID == "":
		return nil, errors.New("camera id is required")
	case opts.Source == nil:
		return nil, fmt.Errorf("camera %s: source is required", opts.ID)
	case opts.Detector == nil:
		return nil, fmt.Errorf("camera %s: detector is required", opts.ID)
	case opts.Analyzer == nil:
		return nil, fmt.Errorf("camera %s: analyzer is required", opts.ID)
	case opts.Reporter == nil:
		return nil, fmt.Errorf("camera %s: reporter is required", opts.ID)
	}
	if opts.MaxSourceErrors <= 0 {
		opts.MaxSourceErrors = DefaultMaxSourceErrors
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("Camera")
	}
	return &Camera{
		opts:  opts,
		log:   opts.Logger,
		stats: Stats{Camera: opts.ID},
		last:  make(types.StatusMap),
	}, nil
}

// ID returns the camera id
func (c *Camera) ID() string {
	return c.opts.ID
}

// Run processes frames until the source is exhausted or ctx is cancelled.
// End of input and cancellation both return nil.
func (c *Camera) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setRunning(true)
	defer c.setRunning(false)

	frames := make(chan types.Frame, 1)
	readErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(frames)
		readErr <- c.readLoop(ctx, frames)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			c.closeSource()
			return nil
		case frame, ok := <-frames:
			if !ok {
				wg.Wait()
				c.closeSource()
				err := <-readErr
				if err != nil {
					c.setError(err)
				}
				return err
			}
			c.process(ctx, frame)
		}
	}
}

func (c *Camera) closeSource() {
	if err := c.opts.Source.Close(); err != nil {
		c.log.Warn("[%s] close source: %v", c.opts.ID, err)
	}
}

// readLoop pulls frames into out. It returns nil on EOF or cancellation.
func (c *Camera) readLoop(ctx context.Context, out chan<- types.Frame) error {
	failures := 0
	for {
		frame, err := c.opts.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.Info("[%s] end of input", c.opts.ID)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if c.opts.Metrics != nil {
				c.opts.Metrics.SourceErrors.Add(1)
			}
			c.log.Warn("[%s] read frame: %v", c.opts.ID, err)
			c.setError(err)
			if failures >= c.opts.MaxSourceErrors {
				return fmt.Errorf("camera %s: %d consecutive source errors: %w", c.opts.ID, failures, err)
			}
			continue
		}
		failures = 0
		if frame.CameraID == "" {
			frame.CameraID = c.opts.ID
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.FramesRead.Add(1)
		}

		if c.opts.DropWhenBusy {
			select {
			case out <- frame:
			default:
				c.dropped()
			}
			continue
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Camera) process(ctx context.Context, frame types.Frame) {
	dets, err := c.opts.Detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if c.opts.Metrics != nil {
			c.opts.Metrics.DetectorErrors.Add(1)
		}
		c.dropped()
		c.setError(err)
		c.log.Warn("[%s] detect frame %d: %v", c.opts.ID, frame.Number, err)
		return
	}

	start := time.Now()
	status := c.opts.Analyzer.Analyze(c.opts.ID, dets)
	c.opts.Reporter.Update(c.opts.ID, status)
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveFrame(c.opts.ID, len(dets), time.Since(start))
	}

	c.mu.Lock()
	c.stats.Frames++
	c.stats.Detections += uint64(len(dets))
	c.stats.LastFrame = frame.Timestamp
	if c.stats.LastFrame.IsZero() {
		c.stats.LastFrame = start
	}
	c.mu.Unlock()

	c.compare(ctx, frame, status)
}

// compare logs first sightings and flips against the previous stable status
func (c *Camera) compare(ctx context.Context, frame types.Frame, status types.StatusMap) {
	slots := make([]string, 0, len(status))
	for slot := range status {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	for _, slot := range slots {
		free := status[slot]
		c.mu.Lock()
		prev, seen := c.last[slot]
		c.last[slot] = free
		c.mu.Unlock()

		if !seen {
			c.log.Info("[INIT] %s/%s: %s", c.opts.ID, slot, types.StatusLabel(free))
			continue
		}
		if prev == free {
			continue
		}

		c.log.Info("[UPDATE] %s/%s: %s -> %s", c.opts.ID, slot, types.StatusLabel(prev), types.StatusLabel(free))
		if c.opts.Metrics != nil {
			c.opts.Metrics.TransitionsSeen.Add(1)
		}
		c.mu.Lock()
		c.stats.Transitions++
		c.mu.Unlock()

		tr := Transition{
			Camera:  c.opts.ID,
			Slot:    slot,
			OldFree: prev,
			NewFree: free,
			Frame:   frame.Number,
			Time:    time.Now(),
		}
		tr.Record = c.logEvidence(ctx, frame, slot, prev, free)
		if c.opts.OnTransition != nil {
			c.opts.OnTransition(tr)
		}
	}
}

func (c *Camera) logEvidence(ctx context.Context, frame types.Frame, slot string, prev, free bool) *evidence.Record {
	if c.opts.Evidence == nil || c.opts.Zones == nil {
		return nil
	}
	z, ok := c.opts.Zones.Zone(c.opts.ID, slot)
	if !ok {
		c.log.Debug("[%s] no zone for %s, skipping evidence", c.opts.ID, slot)
		return nil
	}
	if frame.Image == nil {
		c.log.Warn("[%s] frame %d has no image, skipping evidence for %s", c.opts.ID, frame.Number, slot)
		return nil
	}

	rec, err := c.opts.Evidence.LogTransition(ctx, c.opts.ID, slot, prev, free, frame.Image, z.Coords)
	if err != nil {
		if c.opts.Metrics != nil {
			c.opts.Metrics.EvidenceErrors.Add(1)
		}
		c.setError(err)
		c.log.Error("[%s] log transition of %s: %v", c.opts.ID, slot, err)
	}
	if rec != nil && c.opts.Metrics != nil {
		c.opts.Metrics.ObserveTransition(c.opts.ID, slot, types.StatusLabel(free))
	}
	return rec
}

func (c *Camera) dropped() {
	if c.opts.Metrics != nil {
		c.opts.Metrics.FramesDropped.Add(1)
	}
	c.mu.Lock()
	c.stats.Dropped++
	c.mu.Unlock()
}

func (c *Camera) setRunning(v bool) {
	c.mu.Lock()
	c.stats.Running = v
	c.mu.Unlock()
}

func (c *Camera) setError(err error) {
	c.mu.Lock()
	c.stats.LastError = err.Error()
	c.mu.Unlock()
}

// Stats returns a snapshot of the camera's counters and last status
func (c *Camera) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Status = c.last.Clone()
	return s
}

// Group runs several cameras side by side
type Group struct {
	cameras []*Camera
	log     *logger.ModuleLogger
}

// NewGroup creates a Group over cameras
func NewGroup(cameras ...*Camera) *Group {
	return &Group{cameras: cameras, log: logger.For("Pipeline")}
}

// Cameras returns the cameras in the group
func (g *Group) Cameras() []*Camera {
	return g.cameras
}

// Camera returns the camera with id
func (g *Group) Camera(id string) (*Camera, bool) {
	for _, c := range g.cameras {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// Stats returns per-camera stats ordered by camera id
func (g *Group) Stats() []Stats {
	out := make([]Stats, 0, len(g.cameras))
	for _, c := range g.cameras {
		out = append(out, c.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Camera < out[j].Camera })
	return out
}

// Run starts every camera and waits for all of them. A camera failing does
// not stop the others; the joined errors are returned.
func (g *Group) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range g.cameras {
		wg.Add(1)
		go func(c *Camera) {
			defer wg.Done()
			g.log.Info("Camera %s started", c.ID())
			if err := c.Run(ctx); err != nil {
				g.log.Error("Camera %s stopped: %v", c.ID(), err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			g.log.Info("Camera %s stopped", c.ID())
		}(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}
