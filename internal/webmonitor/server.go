// Package webmonitor serves the occupancy status over HTTP.
package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/internal/metrics"
	"github.com/dj-oyu/parking-fusion/internal/webrtc"
	"github.com/dj-oyu/parking-fusion/internal/zone"
)

// Deps are the components the monitor reads from. Only Status is required.
type Deps struct {
	Status  StatusSource
	Cameras CameraSource
	Zones   ZoneAdmin
	Index   TransitionIndex
	WebRTC  OfferHandler
	Metrics *metrics.Metrics
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg         Config
	deps        Deps
	monitor     *Monitor
	broadcaster *StatusBroadcaster
	log         *logger.ModuleLogger
}

// NewServer returns a configured monitor server. The broadcaster is not
// started until Start is called.
func NewServer(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	monitor := NewMonitor(deps.Status, deps.Cameras)
	return &Server{
		cfg:         cfg,
		deps:        deps,
		monitor:     monitor,
		broadcaster: NewStatusBroadcaster(monitor, cfg.StatusInterval),
		log:         logger.For("WebMonitor"),
	}
}

// Monitor returns the snapshot builder
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Broadcaster returns the status fan-out
func (s *Server) Broadcaster() *StatusBroadcaster {
	return s.broadcaster
}

// SetOfferHandler attaches the WebRTC endpoint. Call before serving.
func (s *Server) SetOfferHandler(h OfferHandler) {
	s.deps.WebRTC = h
}

// Start starts the status broadcaster
func (s *Server) Start() {
	s.broadcaster.Start()
}

// Stop stops the status broadcaster and disconnects stream clients
func (s *Server) Stop() {
	s.broadcaster.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/cameras/{id}/status", s.handleCameraStatus)
	mux.HandleFunc("GET /api/zones/{id}", s.handleGetZones)
	mux.HandleFunc("PUT /api/zones/{id}", s.handlePutZones)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return mux
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Snapshot()
	if wantsProtobuf(r) {
		data, err := encodeProto(snap)
		if err != nil {
			s.log.Error("Encode status: %v", err)
			writeJSONWithStatus(w, map[string]any{"error": "encode failed"}, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentProtobuf)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	if s.deps.Metrics != nil {
		s.deps.Metrics.SSEClients.Add(1)
		defer s.deps.Metrics.SSEClients.Add(-1)
	}

	streamStatusEventsFromChannel(r.Context(), w, s.broadcaster.Current(), eventCh, wantsProtobuf(r), s.cfg.KeepAliveInterval)
}

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.monitor.Camera(id)
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown camera %q", id)}, http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleGetZones(w http.ResponseWriter, r *http.Request) {
	if s.deps.Zones == nil {
		writeJSONWithStatus(w, map[string]any{"error": "zone store is not configured"}, http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if err := zone.ValidID(id); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("camera %v", err)}, http.StatusBadRequest)
		return
	}
	known := false
	for _, cam := range s.deps.Zones.Cameras() {
		if cam == id {
			known = true
			break
		}
	}
	if !known {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown camera %q", id)}, http.StatusNotFound)
		return
	}
	writeJSON(w, s.deps.Zones.Zones(id))
}

func (s *Server) handlePutZones(w http.ResponseWriter, r *http.Request) {
	if s.deps.Zones == nil {
		writeJSONWithStatus(w, map[string]any{"error": "zone store is not configured"}, http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if err := zone.ValidID(id); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("camera %v", err)}, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "failed to read body"}, http.StatusBadRequest)
		return
	}
	var set zone.Set
	if err := json.Unmarshal(body, &set); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("invalid zone set: %v", err)}, http.StatusBadRequest)
		return
	}
	if set == nil {
		set = zone.Set{}
	}
	if err := zone.Validate(set); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if err := s.deps.Zones.SetZones(r.Context(), id, set); err != nil {
		if errors.Is(err, zone.ErrInvalidID) {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		s.log.Error("Set zones for %s: %v", id, err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	s.log.Info("Zones for %s replaced via API (%d slots)", id, len(set))
	writeJSON(w, s.deps.Zones.Zones(id))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		writeJSONWithStatus(w, map[string]any{"error": "transition index is not configured"}, http.StatusServiceUnavailable)
		return
	}
	limit := s.cfg.EventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "limit must be a positive integer"}, http.StatusBadRequest)
			return
		}
		limit = min(n, s.cfg.MaxEventsLimit)
	}

	rows, err := s.deps.Index.RecentTransitions(r.Context(), r.URL.Query().Get("slot"), limit)
	if err != nil {
		s.log.Error("List transitions: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "failed to list transitions"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"events": rows,
		"count":  len(rows),
	})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	switch {
	case errors.Is(err, webrtc.ErrInvalidOffer):
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	case errors.Is(err, webrtc.ErrTooManyClients):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	case err != nil:
		s.log.Warn("WebRTC offer error: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("Failed to handle offer: %v", err)}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentJSON)
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":      "ok",
		"slots":       len(s.monitor.Snapshot().Slots),
		"sse_clients": s.broadcaster.ClientCount(),
	}
	if s.deps.Cameras != nil {
		running := 0
		stats := s.deps.Cameras.Stats()
		for _, st := range stats {
			if st.Running {
				running++
			}
		}
		payload["cameras"] = len(stats)
		payload["cameras_running"] = running
	}
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
