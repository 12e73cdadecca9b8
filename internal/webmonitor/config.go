package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr              string
	StatusInterval    time.Duration // SSE broadcast period
	KeepAliveInterval time.Duration // SSE comment when no event was sent
	EventsLimit       int           // Default page size of /api/events
	MaxEventsLimit    int
	MaxBodyBytes      int64
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		StatusInterval:    1 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		EventsLimit:       50,
		MaxEventsLimit:    500,
		MaxBodyBytes:      1 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.EventsLimit <= 0 {
		c.EventsLimit = def.EventsLimit
	}
	if c.MaxEventsLimit <= 0 {
		c.MaxEventsLimit = def.MaxEventsLimit
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	return c
}
