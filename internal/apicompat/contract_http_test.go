package apicompat

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestContractHealth(t *testing.T) {
	client := newContractClient(t)
	resp, body := client.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["status"], "status") != "ok" {
		t.Fatalf("unexpected health status: %v", payload["status"])
	}
	requireNumber(t, payload["slots"], "slots")
	requireNumber(t, payload["sse_clients"], "sse_clients")
	if payload["cameras"] != nil {
		total := requireNumber(t, payload["cameras"], "cameras")
		running := requireNumber(t, payload["cameras_running"], "cameras_running")
		if running > total {
			t.Fatalf("cameras_running %v exceeds cameras %v", running, total)
		}
	}
}

func TestContractStatus(t *testing.T) {
	client := newContractClient(t)
	resp, body := client.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("GET /api/status content-type = %q", resp.Header.Get("Content-Type"))
	}
	assertStatusPayload(t, decodeJSONMap(t, body))
}

func TestContractStatusProtobuf(t *testing.T) {
	client := newContractClient(t)
	resp, body := client.do(t, http.MethodGet, "/api/status", nil, http.Header{"Accept": {"application/protobuf"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status (protobuf) status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/protobuf") {
		t.Fatalf("GET /api/status (protobuf) content-type = %q", resp.Header.Get("Content-Type"))
	}
	if len(body) == 0 {
		t.Fatalf("empty protobuf body")
	}
}

func TestContractCameraStatus(t *testing.T) {
	client := newContractClient(t)
	_, body := client.get(t, "/api/status")
	cameras := requireSlice(t, decodeJSONMap(t, body)["cameras"], "cameras")

	for i, raw := range cameras {
		id := requireString(t, requireMap(t, raw, fmt.Sprintf("cameras[%d]", i))["camera_id"], "camera_id")
		resp, body := client.get(t, "/api/cameras/"+url.PathEscape(id)+"/status")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET camera %s status = %d", id, resp.StatusCode)
		}
		payload := decodeJSONMap(t, body)
		if got := requireString(t, payload["camera_id"], "camera_id"); got != id {
			t.Fatalf("camera_id = %q, want %q", got, id)
		}
		assertStatusMap(t, payload["status"], "status")
		assertCameraStats(t, requireMap(t, payload["stats"], "stats"), "stats")
	}

	resp, _ := client.get(t, "/api/cameras/__no_such_camera__/status")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown camera status = %d", resp.StatusCode)
	}
}

func TestContractZones(t *testing.T) {
	client := newContractClient(t)
	_, body := client.get(t, "/api/status")
	cameras := requireSlice(t, decodeJSONMap(t, body)["cameras"], "cameras")
	if len(cameras) == 0 {
		t.Skip("server runs no cameras")
	}

	id := requireString(t, requireMap(t, cameras[0], "cameras[0]")["camera_id"], "camera_id")
	resp, body := client.get(t, "/api/zones/"+url.PathEscape(id))
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("zone admin not configured")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET zones for %s status = %d", id, resp.StatusCode)
	}
	for slot, raw := range decodeJSONMap(t, body) {
		z := requireMap(t, raw, slot)
		requireBox(t, z["coords"], slot+".coords")
		if z["trust"] != nil {
			trust := requireNumber(t, z["trust"], slot+".trust")
			if trust < 0 || trust > 1 {
				t.Fatalf("%s.trust = %v outside [0, 1]", slot, trust)
			}
		}
	}

	// rejected before anything is persisted
	resp, body = client.sendJSON(t, http.MethodPut, "/api/zones/"+url.PathEscape(id), map[string]any{
		"A1": map[string]any{"coords": []int{0, 0, 10, 10}, "trust": 2},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT invalid zones status = %d", resp.StatusCode)
	}
	requireString(t, decodeJSONMap(t, body)["error"], "error")

	resp, _ = client.get(t, "/api/zones/__no_such_camera__")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown camera zones status = %d", resp.StatusCode)
	}
}

func TestContractEvents(t *testing.T) {
	client := newContractClient(t)
	resp, body := client.get(t, "/api/events?limit=5")
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("transition index not configured")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/events status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	events := requireSlice(t, payload["events"], "events")
	if int(requireNumber(t, payload["count"], "count")) != len(events) {
		t.Fatalf("count does not match events length")
	}
	if len(events) > 5 {
		t.Fatalf("limit ignored: %d events", len(events))
	}
	for i, raw := range events {
		field := fmt.Sprintf("events[%d]", i)
		ev := requireMap(t, raw, field)
		requireString(t, ev["id"], field+".id")
		requireString(t, ev["slot_id"], field+".slot_id")
		requireString(t, ev["camera_id"], field+".camera_id")
		requireString(t, ev["old_status"], field+".old_status")
		requireString(t, ev["new_status"], field+".new_status")
		requireBox(t, ev["roi_coords"], field+".roi_coords")
	}

	resp, _ = client.get(t, "/api/events?limit=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("GET /api/events?limit=0 status = %d", resp.StatusCode)
	}
}

func TestContractWebRTCOfferInvalid(t *testing.T) {
	client := newContractClient(t)
	resp, body := client.sendJSON(t, http.MethodPost, "/api/webrtc/offer", map[string]any{})
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("webrtc not configured")
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /api/webrtc/offer status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["error"], "error") != "Invalid offer data" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}
}
