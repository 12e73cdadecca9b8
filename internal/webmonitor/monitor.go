package webmonitor

import (
	"time"

	"github.com/dj-oyu/parking-fusion/internal/aggregator"
	"github.com/dj-oyu/parking-fusion/internal/pipeline"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// Monitor assembles status snapshots from the running pipeline.
type Monitor struct {
	status  StatusSource
	cameras CameraSource
	now     func() time.Time
}

// NewMonitor creates a Monitor. cameras may be nil.
func NewMonitor(status StatusSource, cameras CameraSource) *Monitor {
	return &Monitor{status: status, cameras: cameras, now: time.Now}
}

// Snapshot returns the current fused status with per-slot detail.
func (m *Monitor) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		Timestamp:  float64(m.now().UnixNano()) / 1e9,
		Aggregated: types.StatusMap{},
		Slots:      []aggregator.SlotFusion{},
		Cameras:    []pipeline.Stats{},
	}
	if m.status != nil {
		// Aggregated is derived from the same fusion pass so both views agree
		for _, f := range m.status.Fusion() {
			snap.Slots = append(snap.Slots, f)
			snap.Aggregated[f.Slot] = f.Free
		}
	}
	if m.cameras != nil {
		snap.Cameras = m.cameras.Stats()
	}
	return snap
}

// Camera returns one camera's stats.
func (m *Monitor) Camera(id string) (CameraStatus, bool) {
	if m.cameras == nil {
		return CameraStatus{}, false
	}
	for _, st := range m.cameras.Stats() {
		if st.Camera == id {
			status := st.Status
			if status == nil {
				status = types.StatusMap{}
			}
			return CameraStatus{Camera: id, Status: status, Stats: st}, true
		}
	}
	return CameraStatus{}, false
}
