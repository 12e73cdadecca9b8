package webmonitor

import (
	"context"

	"github.com/dj-oyu/parking-fusion/internal/aggregator"
	"github.com/dj-oyu/parking-fusion/internal/pipeline"
	"github.com/dj-oyu/parking-fusion/internal/storage/sqlite"
	"github.com/dj-oyu/parking-fusion/internal/zone"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// StatusSource is the fused view across cameras.
type StatusSource interface {
	Fusion() []aggregator.SlotFusion
}

// CameraSource reports per-camera progress and stable status.
type CameraSource interface {
	Stats() []pipeline.Stats
}

// ZoneAdmin reads and replaces zone definitions.
type ZoneAdmin interface {
	Cameras() []string
	Zones(cameraID string) zone.Set
	SetZones(ctx context.Context, cameraID string, set zone.Set) error
}

// TransitionIndex lists recorded transitions.
type TransitionIndex interface {
	RecentTransitions(ctx context.Context, slotID string, limit int) ([]sqlite.Transition, error)
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offer []byte) ([]byte, error)
}

// StatusSnapshot is the payload of /api/status and its stream.
type StatusSnapshot struct {
	Timestamp  float64                 `json:"timestamp"`
	Aggregated types.StatusMap         `json:"aggregated"`
	Slots      []aggregator.SlotFusion `json:"slots"`
	Cameras    []pipeline.Stats        `json:"cameras"`
}

// CameraStatus is the payload of /api/cameras/{id}/status.
type CameraStatus struct {
	Camera string          `json:"camera_id"`
	Status types.StatusMap `json:"status"`
	Stats  pipeline.Stats  `json:"stats"`
}
