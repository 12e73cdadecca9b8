package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/parking-fusion/internal/logger"
)

// StatusBroadcaster fans status snapshots out to SSE subscribers and any
// attached listeners, on a ticker and whenever Notify is called.
type StatusBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan *SerializedEvent // Channel carries pre-serialized data
	listeners []func(*SerializedEvent)
	nextID    int
	monitor   *Monitor
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	started   bool
	stopped   bool
	interval  time.Duration
	log       *logger.ModuleLogger
}

// NewStatusBroadcaster creates a broadcaster publishing every interval.
func NewStatusBroadcaster(monitor *Monitor, interval time.Duration) *StatusBroadcaster {
	if interval <= 0 {
		interval = DefaultConfig().StatusInterval
	}
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		monitor:  monitor,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: interval,
		log:      logger.For("StatusBroadcaster"),
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	sb.clients[id] = ch

	sb.log.Debug("Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		sb.log.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Listen registers fn to receive every broadcast event. fn must not block.
func (sb *StatusBroadcaster) Listen(fn func(*SerializedEvent)) {
	sb.mu.Lock()
	sb.listeners = append(sb.listeners, fn)
	sb.mu.Unlock()
}

// ClientCount returns the number of SSE subscribers.
func (sb *StatusBroadcaster) ClientCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// Notify requests an immediate broadcast. Requests coalesce while one is pending.
func (sb *StatusBroadcaster) Notify() {
	select {
	case sb.kick <- struct{}{}:
	default:
	}
}

// Start begins the broadcast loop.
func (sb *StatusBroadcaster) Start() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.started || sb.stopped {
		return
	}
	sb.started = true
	go sb.run()
}

// Stop halts the broadcaster and closes every subscriber channel.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if sb.stopped {
		sb.mu.Unlock()
		return
	}
	sb.stopped = true
	started := sb.started
	close(sb.stop)
	sb.mu.Unlock()

	if started {
		<-sb.done
	}

	sb.mu.Lock()
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run() {
	defer close(sb.done)
	sb.log.Info("Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
		case <-sb.kick:
		}

		sb.mu.Lock()
		idle := len(sb.clients) == 0 && len(sb.listeners) == 0
		sb.mu.Unlock()
		if idle {
			continue
		}

		if event := sb.Current(); event != nil {
			sb.broadcast(event)
		}
	}
}

// Current serializes the monitor's snapshot.
func (sb *StatusBroadcaster) Current() *SerializedEvent {
	event, err := serialize(sb.monitor.Snapshot())
	if err != nil {
		sb.log.Error("%v", err)
		return nil
	}
	return event
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip this event
		}
	}
	for _, fn := range sb.listeners {
		fn(event)
	}
}
