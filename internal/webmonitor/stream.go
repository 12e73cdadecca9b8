package webmonitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dj-oyu/parking-fusion/internal/logger"
)

func writeSSEData(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// streamStatusEventsFromChannel streams pre-serialized status events to an SSE client.
// first, when non-nil, is written before waiting on the channel.
func streamStatusEventsFromChannel(ctx context.Context, w http.ResponseWriter, first *SerializedEvent, eventCh <-chan *SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Add custom header to indicate format
	if useProtobuf {
		w.Header().Set("X-Content-Format", contentProtobuf)
	} else {
		w.Header().Set("X-Content-Format", contentJSON)
	}

	pick := func(event *SerializedEvent) []byte {
		if useProtobuf {
			return event.ProtobufData
		}
		return event.JSONData
	}

	if first != nil {
		if err := writeSSEData(w, pick(first)); err != nil {
			return
		}
	}
	flusher.Flush()

	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			if err := writeSSEData(w, pick(event)); err != nil {
				logger.Debug("SSE", "Client disconnected during status event write: %v", err)
				return
			}
			flusher.Flush()
			timer.Reset(keepAlive)

		case <-timer.C:
			// Send keepalive comment to prevent timeout
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
			timer.Reset(keepAlive)
		}
	}
}
