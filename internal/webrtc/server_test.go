package webrtc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/parking-fusion/internal/metrics"
)

// newBrowser builds an offering peer with an occupancy channel
func newBrowser(t *testing.T) (*webrtc.PeerConnection, *webrtc.DataChannel, []byte) {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	dc, err := pc.CreateDataChannel(ChannelLabel, nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gather := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gather

	raw, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	return pc, dc, raw
}

func TestHandleOffer_Invalid(t *testing.T) {
	s := NewServer(Options{})
	defer s.Close()

	_, err := s.HandleOffer([]byte("{not json"))
	assert.True(t, errors.Is(err, ErrInvalidOffer))

	_, err = s.HandleOffer([]byte(`{"type":"offer","sdp":""}`))
	assert.True(t, errors.Is(err, ErrInvalidOffer))
	assert.Equal(t, 0, s.ClientCount())
}

func TestHandleOffer_ClientLimit(t *testing.T) {
	m := metrics.New()
	s := NewServer(Options{MaxClients: 1, Metrics: m, IncludeLoopback: true})
	defer s.Close()

	_, _, offer := newBrowser(t)
	answer, err := s.HandleOffer(offer)
	require.NoError(t, err)

	var desc webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(answer, &desc))
	assert.Equal(t, webrtc.SDPTypeAnswer, desc.Type)
	assert.Equal(t, 1, s.ClientCount())
	assert.Equal(t, uint64(1), m.ActiveClients.Load())

	_, _, offer2 := newBrowser(t)
	_, err = s.HandleOffer(offer2)
	assert.True(t, errors.Is(err, ErrTooManyClients))

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.ClientCount())
	assert.Equal(t, uint64(0), m.ActiveClients.Load())
	assert.Equal(t, uint64(1), m.TotalClients.Load())
}

func TestBroadcast_DeliversSnapshots(t *testing.T) {
	s := NewServer(Options{
		IncludeLoopback: true,
		Snapshot:        func() []byte { return []byte(`{"A1":true}`) },
	})
	defer s.Close()

	pc, dc, offer := newBrowser(t)
	got := make(chan string, 4)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { got <- string(msg.Data) })

	answer, err := s.HandleOffer(offer)
	require.NoError(t, err)
	var desc webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(answer, &desc))
	require.NoError(t, pc.SetRemoteDescription(desc))

	select {
	case msg := <-got:
		assert.Equal(t, `{"A1":true}`, msg)
	case <-time.After(10 * time.Second):
		t.Skip("peer connection not established on this host")
	}

	s.Broadcast([]byte(`{"A1":false}`))
	select {
	case msg := <-got:
		assert.Equal(t, `{"A1":false}`, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast not received")
	}
}

func TestBroadcast_NoClients(t *testing.T) {
	s := NewServer(Options{})
	s.Broadcast([]byte("x"))
	assert.Empty(t, s.ClientStats())
}
