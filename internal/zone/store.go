package zone

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/parking-fusion/internal/events"
	"github.com/dj-oyu/parking-fusion/internal/geometry"
	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// Options configures a Store
type Options struct {
	IoUThreshold *float64    // nil or negative uses DefaultIoUThreshold; 0 is honoured
	Events       events.Sink // Receives zones_missing and trust_missing warnings
	Logger       *logger.ModuleLogger
}

// Store holds the zone sets of every known camera.
//
// Readers work on an immutable snapshot; every mutation publishes a new one
// under the writer lock, so a Classify running during SetZones sees either
// the old set or the new set, never a mix.
type Store struct {
	backend   Backend
	threshold float64
	sink      events.Sink
	log       *logger.ModuleLogger

	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[map[string]Set]
}

// NewStore creates an empty store over backend
func NewStore(backend Backend, opts Options) *Store {
	threshold := DefaultIoUThreshold
	if opts.IoUThreshold != nil && *opts.IoUThreshold >= 0 {
		threshold = *opts.IoUThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("Zone")
	}
	s := &Store{
		backend:   backend,
		threshold: threshold,
		sink:      opts.Events,
		log:       opts.Logger,
	}
	empty := map[string]Set{}
	s.snap.Store(&empty)
	return s
}

// Threshold returns the IoU threshold used by Classify
func (s *Store) Threshold() float64 {
	return s.threshold
}

func (s *Store) current() map[string]Set {
	return *s.snap.Load()
}

// publish swaps in a new snapshot with cam set to set. Caller holds s.mu.
func (s *Store) publish(cam string, set Set) {
	old := s.current()
	next := make(map[string]Set, len(old)+1)
	for id, zs := range old {
		next[id] = zs
	}
	next[cam] = set
	s.snap.Store(&next)
}

// Load reads a camera's zones from the backend. A camera with no stored
// definition is registered with an empty set and a zones_missing event.
func (s *Store) Load(ctx context.Context, cam string) error {
	if err := ValidID(cam); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	set, err := s.backend.Load(ctx, cam)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("load zones: %w", err)
		}
		events.Emit(s.sink, events.Event{
			Kind:    events.KindZonesMissing,
			Camera:  cam,
			Message: "no zone definition found, camera has no slots",
		})
		set = Set{}
	}
	if err := Validate(set); err != nil {
		return fmt.Errorf("camera %s: %w", cam, err)
	}

	s.mu.Lock()
	s.publish(cam, set.Clone())
	s.mu.Unlock()

	s.log.Info("Loaded %d zones for %s", len(set), cam)
	return nil
}

// Save persists the camera's in-memory zones, replacing any stored set
func (s *Store) Save(ctx context.Context, cam string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.current()[cam]
	if set == nil {
		set = Set{}
	}
	if err := s.backend.Save(ctx, cam, set); err != nil {
		return fmt.Errorf("save zones: %w", err)
	}
	s.log.Info("Saved zones for %s", cam)
	return nil
}

// SetZones replaces the camera's zones and persists them. The in-memory set
// only changes once the backend accepted the new one.
func (s *Store) SetZones(ctx context.Context, cam string, set Set) error {
	if err := ValidID(cam); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := Validate(set); err != nil {
		return fmt.Errorf("camera %s: %w", cam, err)
	}
	set = set.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Save(ctx, cam, set); err != nil {
		return fmt.Errorf("save zones: %w", err)
	}
	s.publish(cam, set)
	s.log.Info("Set %d zones for %s", len(set), cam)
	return nil
}

// Zones returns a copy of the camera's zones; unknown cameras yield an empty set
func (s *Store) Zones(cam string) Set {
	set := s.current()[cam]
	if set == nil {
		return Set{}
	}
	return set.Clone()
}

// Zone returns one slot's zone for a camera
func (s *Store) Zone(cam, slot string) (Zone, bool) {
	z, ok := s.current()[cam][slot]
	return z, ok
}

// Cameras returns the registered camera ids in sorted order
func (s *Store) Cameras() []string {
	snap := s.current()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Trust returns the weight configured for a camera's view of a slot.
// A missing value yields DefaultTrust and a trust_missing event.
func (s *Store) Trust(cam, slot string) float64 {
	z, ok := s.current()[cam][slot]
	if ok && z.Trust != nil {
		return *z.Trust
	}
	events.Emit(s.sink, events.Event{
		Kind:    events.KindTrustMissing,
		Camera:  cam,
		Slot:    slot,
		Message: fmt.Sprintf("no trust configured, using default %.1f", DefaultTrust),
	})
	return DefaultTrust
}

// Classify maps every zone of the camera to free (true) or occupied (false).
// A slot is occupied when any detection overlaps it with IoU >= threshold.
func (s *Store) Classify(cam string, dets []types.Detection) types.StatusMap {
	set := s.current()[cam]
	out := make(types.StatusMap, len(set))
	for id, z := range set {
		out[id] = !s.occupied(z.Coords, dets)
	}
	return out
}

func (s *Store) occupied(slot types.Box, dets []types.Detection) bool {
	for _, d := range dets {
		if geometry.IoU(slot, d.Box) >= s.threshold {
			return true
		}
	}
	return false
}
