package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dj-oyu/parking-fusion/internal/events"
)

func TestObserveFrame(t *testing.T) {
	m := New()
	m.ObserveFrame("cam1", 3, 2*time.Millisecond)
	m.ObserveFrame("cam1", 1, time.Millisecond)

	if got := m.FramesAnalyzed.Load(); got != 2 {
		t.Fatalf("FramesAnalyzed = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.CameraDetections.WithLabelValues("cam1")); got != 4 {
		t.Fatalf("detections = %v, want 4", got)
	}
	if got := m.AnalyzeLatencyUs.Load(); got != 1000 {
		t.Fatalf("AnalyzeLatencyUs = %d, want 1000", got)
	}
}

func TestWarningsAndSlots(t *testing.T) {
	m := New()
	bus := events.NewBus()
	bus.Attach(m)
	bus.Emit(events.Event{Kind: events.KindTrustMissing})
	bus.Emit(events.Event{Kind: events.KindTrustMissing})

	if got := testutil.ToFloat64(m.Warnings.WithLabelValues("trust_missing")); got != 2 {
		t.Fatalf("warnings = %v, want 2", got)
	}

	m.SetSlotStatus(map[string]bool{"A1": true, "A2": false})
	if got := testutil.ToFloat64(m.SlotFree.WithLabelValues("A1")); got != 1 {
		t.Fatalf("A1 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SlotFree.WithLabelValues("A2")); got != 0 {
		t.Fatalf("A2 = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.FramesRead.Add(7)
	m.ObserveTransition("cam1", "A1", "Occupied")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"parking_frames_read_total 7",
		`parking_transitions_logged_total{camera="cam1",slot="A1",to="Occupied"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
