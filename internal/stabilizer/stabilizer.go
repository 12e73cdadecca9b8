// Package stabilizer debounces per-frame slot occupancy into a stable status.
//
// A raw reading only becomes the stable value of a slot once the same value
// has been observed MinConfirmations times in a row within the trailing
// Window. Until a slot has been confirmed once it reads as free.
package stabilizer

import (
	"sync"
	"time"

	"github.com/dj-oyu/parking-fusion/pkg/types"
)

const (
	DefaultWindow           = 2 * time.Second
	DefaultMinConfirmations = 3
)

// Classifier turns detections into raw per-slot occupancy for a camera
type Classifier interface {
	Classify(cameraID string, dets []types.Detection) types.StatusMap
}

// Options configures a Stabilizer
type Options struct {
	Window           time.Duration
	MinConfirmations int
	Now              func() time.Time // Defaults to time.Now
}

type sample struct {
	at   time.Time
	free bool
}

// cameraState is guarded by its own lock so cameras never contend
type cameraState struct {
	mu      sync.Mutex
	history map[string][]sample
	stable  map[string]bool
}

// Stabilizer holds observation history and confirmed status per camera and slot
type Stabilizer struct {
	classifier Classifier
	window     time.Duration
	minConf    int
	now        func() time.Time

	mu      sync.Mutex
	cameras map[string]*cameraState
}

// New creates a Stabilizer fed by classifier
func New(classifier Classifier, opts Options) *Stabilizer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MinConfirmations <= 0 {
		opts.MinConfirmations = DefaultMinConfirmations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Stabilizer{
		classifier: classifier,
		window:     opts.Window,
		minConf:    opts.MinConfirmations,
		now:        opts.Now,
		cameras:    make(map[string]*cameraState),
	}
}

func (s *Stabilizer) camera(id string) *cameraState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cameras[id]
	if !ok {
		st = &cameraState{
			history: make(map[string][]sample),
			stable:  make(map[string]bool),
		}
		s.cameras[id] = st
	}
	return st
}

// Analyze classifies dets for the camera and folds the result into history
// at the current time. It returns the stable value of every classified slot.
func (s *Stabilizer) Analyze(cameraID string, dets []types.Detection) types.StatusMap {
	raw := s.classifier.Classify(cameraID, dets)
	return s.Observe(cameraID, raw, s.now())
}

// Observe folds a raw status map observed at the given time into history
func (s *Stabilizer) Observe(cameraID string, raw types.StatusMap, at time.Time) types.StatusMap {
	st := s.camera(cameraID)
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make(types.StatusMap, len(raw))
	for slot, free := range raw {
		hist := append(st.history[slot], sample{at: at, free: free})

		// Drop entries older than the window
		drop := 0
		for drop < len(hist) && at.Sub(hist[drop].at) > s.window {
			drop++
		}
		if drop > 0 {
			hist = append(hist[:0], hist[drop:]...)
		}
		st.history[slot] = hist

		if confirmed(hist, s.minConf, free) {
			st.stable[slot] = free
		}

		if v, ok := st.stable[slot]; ok {
			out[slot] = v
		} else {
			out[slot] = true
		}
	}
	return out
}

// confirmed reports whether the last n samples of hist all equal want
func confirmed(hist []sample, n int, want bool) bool {
	if len(hist) < n {
		return false
	}
	for _, smp := range hist[len(hist)-n:] {
		if smp.free != want {
			return false
		}
	}
	return true
}

// LatestStatus returns a copy of the confirmed values for a camera.
// Slots that were never confirmed are absent.
func (s *Stabilizer) LatestStatus(cameraID string) types.StatusMap {
	s.mu.Lock()
	st, ok := s.cameras[cameraID]
	s.mu.Unlock()
	if !ok {
		return types.StatusMap{}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return types.StatusMap(st.stable).Clone()
}

// ClearHistory drops all history and all stable values for every camera
func (s *Stabilizer) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras = make(map[string]*cameraState)
}

// ClearCamera drops history and stable values for one camera
func (s *Stabilizer) ClearCamera(cameraID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cameras, cameraID)
}
