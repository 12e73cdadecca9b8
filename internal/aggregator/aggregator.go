// Package aggregator fuses the stable per-camera reports of each slot into
// one trust-weighted global status.
package aggregator

import (
	"sort"
	"sync"

	"github.com/dj-oyu/parking-fusion/internal/events"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// FreeRatio is the weighted share of "free" votes at which a slot reads free
const FreeRatio = 0.5

// TrustSource supplies the weight of a camera's report for a slot
type TrustSource interface {
	Trust(cameraID, slotID string) float64
}

// CameraReport is one camera's latest report for a slot
type CameraReport struct {
	Camera string  `json:"camera"`
	Free   bool    `json:"free"`
	Trust  float64 `json:"trust"`
}

// SlotFusion is the detailed aggregation result for one slot
type SlotFusion struct {
	Slot        string         `json:"slot"`
	Free        bool           `json:"free"`
	Ratio       float64        `json:"ratio"`
	TotalWeight float64        `json:"total_weight"`
	Reports     []CameraReport `json:"reports"`
}

// Aggregator keeps the latest report of every camera for every slot.
// Reports never expire; a camera that stops reporting keeps its last value.
type Aggregator struct {
	trust TrustSource
	sink  events.Sink

	mu      sync.RWMutex
	reports map[string]map[string]bool // slot -> camera -> free
}

// New creates an empty aggregator
func New(trust TrustSource, sink events.Sink) *Aggregator {
	return &Aggregator{
		trust:   trust,
		sink:    sink,
		reports: make(map[string]map[string]bool),
	}
}

// Update overwrites the camera's report for every slot in status.
// All entries of one call become visible together.
func (a *Aggregator) Update(cameraID string, status types.StatusMap) {
	if len(status) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for slot, free := range status {
		byCam, ok := a.reports[slot]
		if !ok {
			byCam = make(map[string]bool)
			a.reports[slot] = byCam
		}
		byCam[cameraID] = free
	}
}

// Aggregated returns the fused status of every slot with at least one report
func (a *Aggregator) Aggregated() types.StatusMap {
	fused := a.Fusion()
	out := make(types.StatusMap, len(fused))
	for _, f := range fused {
		out[f.Slot] = f.Free
	}
	return out
}

// Fusion returns the detailed aggregation of every reported slot, sorted by slot id
func (a *Aggregator) Fusion() []SlotFusion {
	snapshot := a.snapshot()

	slots := make([]string, 0, len(snapshot))
	for slot := range snapshot {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	out := make([]SlotFusion, 0, len(slots))
	for _, slot := range slots {
		out = append(out, a.fuse(slot, snapshot[slot]))
	}
	return out
}

// Slots returns the number of slots with at least one report
func (a *Aggregator) Slots() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.reports)
}

// Clear drops every report
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = make(map[string]map[string]bool)
}

func (a *Aggregator) snapshot() map[string]map[string]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]map[string]bool, len(a.reports))
	for slot, byCam := range a.reports {
		cp := make(map[string]bool, len(byCam))
		for cam, free := range byCam {
			cp[cam] = free
		}
		out[slot] = cp
	}
	return out
}

func (a *Aggregator) fuse(slot string, byCam map[string]bool) SlotFusion {
	cams := make([]string, 0, len(byCam))
	for cam := range byCam {
		cams = append(cams, cam)
	}
	sort.Strings(cams)

	f := SlotFusion{Slot: slot, Reports: make([]CameraReport, 0, len(cams))}
	var weighted float64
	for _, cam := range cams {
		free := byCam[cam]
		w := a.trust.Trust(cam, slot)
		f.TotalWeight += w
		if free {
			weighted += w
		}
		f.Reports = append(f.Reports, CameraReport{Camera: cam, Free: free, Trust: w})
	}

	if f.TotalWeight == 0 {
		events.Emit(a.sink, events.Event{
			Kind:    events.KindZeroWeight,
			Slot:    slot,
			Message: "reporting cameras carry no trust, assuming occupied",
		})
		f.Free = false
		return f
	}
	f.Ratio = weighted / f.TotalWeight
	f.Free = f.Ratio >= FreeRatio
	return f
}
