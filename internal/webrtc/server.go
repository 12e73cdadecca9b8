// Package webrtc pushes occupancy snapshots to browsers over a WebRTC data
// channel.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/internal/metrics"
)

// ChannelLabel is the data channel the browser must open
const ChannelLabel = "occupancy"

var (
	ErrTooManyClients = errors.New("maximum clients reached")
	ErrInvalidOffer   = errors.New("invalid offer")
)

// Options configures a Server
type Options struct {
	STUNServers []string
	MaxClients  int
	// Snapshot, when set, is sent to every client as soon as its channel opens
	Snapshot func() []byte
	Metrics  *metrics.Metrics
	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host peers
	IncludeLoopback bool
}

// Client represents a connected WebRTC client
type Client struct {
	id          string
	peerConn    *webrtc.PeerConnection
	sendChan    chan []byte
	closeChan   chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	channel     *webrtc.DataChannel
	msgsSent    uint64
	msgsDropped uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	snapshot   func() []byte
	metrics    *metrics.Metrics
	log        *logger.ModuleLogger
}

// NewServer creates a new WebRTC server
func NewServer(opts Options) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(opts.STUNServers))
	for _, url := range opts.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = 10
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	if opts.IncludeLoopback {
		settingsEngine.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: opts.MaxClients,
		api:        api,
		snapshot:   opts.Snapshot,
		metrics:    opts.Metrics,
		log:        logger.For("WebRTC"),
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if offer.SDP == "" || offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("%w: missing sdp or type", ErrInvalidOffer)
	}

	if n := s.ClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        "client-" + uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, 8),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			s.log.Debug("Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
			s.log.Info("Client %s occupancy channel open", client.id)
			if s.snapshot != nil {
				client.enqueue(s.snapshot())
			}
			go s.sendLoop(client)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.log.Info("Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	s.log.Debug("ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	if len(s.clients) >= s.maxClients {
		s.clientsMu.Unlock()
		peerConn.Close()
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveClients.Add(1)
		s.metrics.TotalClients.Add(1)
	}
	s.log.Info("Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

func (c *Client) enqueue(data []byte) {
	if data == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closeChan:
		return
	default:
	}
	select {
	case c.sendChan <- data:
		c.msgsSent++
	default:
		c.msgsDropped++
	}
}

// Broadcast sends a snapshot to every client. Slow clients miss messages.
func (s *Server) Broadcast(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, client := range s.clients {
		client.enqueue(data)
	}
}

func (s *Server) sendLoop(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case data := <-client.sendChan:
			client.mu.Lock()
			dc := client.channel
			client.mu.Unlock()
			if dc == nil {
				continue
			}
			if err := dc.SendText(string(data)); err != nil {
				s.log.Warn("Error sending status to client %s: %v", client.id, err)
				return
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	client.closeOnce.Do(func() {
		client.mu.Lock()
		close(client.closeChan)
		client.mu.Unlock()
	})
	client.peerConn.Close()

	if s.metrics != nil {
		s.metrics.ActiveClients.Add(^uint64(0))
	}
	s.log.Info("Client %s disconnected (sent: %d, dropped: %d)", clientID, client.msgsSent, client.msgsDropped)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns stats for all clients
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = map[string]uint64{
			"messages_sent":    client.msgsSent,
			"messages_dropped": client.msgsDropped,
		}
		client.mu.Unlock()
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
