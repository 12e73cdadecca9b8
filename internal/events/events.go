// Package events carries the non-fatal warnings raised by the occupancy core.
//
// The core never fails on missing configuration. It substitutes a default and
// reports what it did through a Sink, so callers decide whether to log, count,
// or ignore the condition.
package events

import (
	"sync"
	"time"

	"github.com/dj-oyu/parking-fusion/internal/logger"
)

// Kind identifies the condition an Event reports
type Kind string

const (
	// KindZonesMissing: no zone definition exists for a camera; it was registered empty.
	KindZonesMissing Kind = "zones_missing"
	// KindTrustMissing: a slot has no trust value; the default weight was used.
	KindTrustMissing Kind = "trust_missing"
	// KindZeroWeight: a slot's reporting cameras sum to zero trust; it was marked occupied.
	KindZeroWeight Kind = "zero_weight"
	// KindZonesReloaded: a camera's zones were reloaded from storage.
	KindZonesReloaded Kind = "zones_reloaded"
)

// Event is one structured warning
type Event struct {
	Kind    Kind      `json:"kind"`
	Camera  string    `json:"camera,omitempty"`
	Slot    string    `json:"slot,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// Emit sends e to s, stamping the time if unset. A nil sink is a no-op.
func Emit(s Sink, e Event) {
	if s == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.Emit(e)
}

// Bus fans events out to subscribed channels and sinks.
// Slow channel subscribers miss events rather than stall the publisher.
type Bus struct {
	mu       sync.RWMutex
	channels []chan<- Event
	sinks    []Sink
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a channel subscriber
func (b *Bus) Subscribe(ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

// Attach adds a synchronous sink
func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Emit publishes e to every subscriber
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		s.Emit(e)
	}
	for _, ch := range b.channels {
		select {
		case ch <- e:
		default:
			// Subscriber is slow, skip
		}
	}
}

// LogSink writes events as WARN lines through a module logger
type LogSink struct {
	log *logger.ModuleLogger
}

// NewLogSink returns a sink logging under the given module name
func NewLogSink(l *logger.ModuleLogger) *LogSink {
	return &LogSink{log: l}
}

// Emit logs the event
func (s *LogSink) Emit(e Event) {
	switch {
	case e.Camera != "" && e.Slot != "":
		s.log.Warn("%s: camera=%s slot=%s: %s", e.Kind, e.Camera, e.Slot, e.Message)
	case e.Camera != "":
		s.log.Warn("%s: camera=%s: %s", e.Kind, e.Camera, e.Message)
	case e.Slot != "":
		s.log.Warn("%s: slot=%s: %s", e.Kind, e.Slot, e.Message)
	default:
		s.log.Warn("%s: %s", e.Kind, e.Message)
	}
}

// Recorder keeps every emitted event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind k were recorded
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

type dedupKey struct {
	kind         Kind
	camera, slot string
}

// Dedup forwards the first event of every (kind, camera, slot) and drops
// repeats until Reset is called.
type Dedup struct {
	next Sink

	mu   sync.Mutex
	seen map[dedupKey]struct{}
}

// NewDedup wraps next
func NewDedup(next Sink) *Dedup {
	return &Dedup{next: next, seen: make(map[dedupKey]struct{})}
}

// Emit forwards e unless an identical key was already forwarded
func (d *Dedup) Emit(e Event) {
	k := dedupKey{e.Kind, e.Camera, e.Slot}
	d.mu.Lock()
	_, dup := d.seen[k]
	if !dup {
		d.seen[k] = struct{}{}
	}
	d.mu.Unlock()
	if !dup {
		d.next.Emit(e)
	}
}

// Reset forgets the keys forwarded so far. With a camera id only that
// camera's keys are forgotten.
func (d *Dedup) Reset(camera string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if camera == "" {
		d.seen = make(map[dedupKey]struct{})
		return
	}
	for k := range d.seen {
		if k.camera == camera {
			delete(d.seen, k)
		}
	}
}
