package events

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitStampsTime(t *testing.T) {
	rec := &Recorder{}
	Emit(rec, Event{Kind: KindTrustMissing, Camera: "cam1", Slot: "A1"})

	got := rec.Events()
	require.Len(t, got, 1)
	assert.False(t, got[0].Time.IsZero())
	assert.Equal(t, 1, rec.Count(KindTrustMissing))
	assert.Equal(t, 0, rec.Count(KindZeroWeight))
}

func TestEmitNilSink(t *testing.T) {
	// must not panic
	Emit(nil, Event{Kind: KindZeroWeight})
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	rec := &Recorder{}
	bus.Attach(rec)

	ch := make(chan Event, 1)
	bus.Subscribe(ch)

	bus.Emit(Event{Kind: KindZonesMissing, Camera: "cam1"})
	// channel full: second event is dropped for the channel, delivered to the sink
	bus.Emit(Event{Kind: KindZonesMissing, Camera: "cam2"})

	assert.Equal(t, 2, rec.Count(KindZonesMissing))
	first := <-ch
	assert.Equal(t, "cam1", first.Camera)
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event on channel: %+v", e)
	default:
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.DEBUG, &buf, false)
	sink := NewLogSink(l.Module("zone"))

	sink.Emit(Event{Kind: KindTrustMissing, Camera: "cam1", Slot: "A1", Message: "using default 0.5"})

	out := buf.String()
	assert.True(t, strings.Contains(out, "[WARN] [zone] trust_missing: camera=cam1 slot=A1: using default 0.5"), out)
}

func TestDedup(t *testing.T) {
	rec := &Recorder{}
	d := NewDedup(rec)

	for i := 0; i < 3; i++ {
		d.Emit(Event{Kind: KindTrustMissing, Camera: "cam1", Slot: "A1"})
	}
	d.Emit(Event{Kind: KindTrustMissing, Camera: "cam1", Slot: "A2"})
	d.Emit(Event{Kind: KindTrustMissing, Camera: "cam2", Slot: "A1"})
	assert.Equal(t, 3, rec.Count(KindTrustMissing))

	d.Reset("cam1")
	d.Emit(Event{Kind: KindTrustMissing, Camera: "cam1", Slot: "A1"})
	d.Emit(Event{Kind: KindTrustMissing, Camera: "cam2", Slot: "A1"})
	assert.Equal(t, 4, rec.Count(KindTrustMissing))

	d.Reset("")
	d.Emit(Event{Kind: KindTrustMissing, Camera: "cam2", Slot: "A1"})
	assert.Equal(t, 5, rec.Count(KindTrustMissing))
}
