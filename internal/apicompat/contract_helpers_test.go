package apicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

type contractClient struct {
	baseURL string
	client  *http.Client
}

func newContractClient(t *testing.T) *contractClient {
	t.Helper()
	baseURL := os.Getenv("API_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/health") {
		t.Skipf("server not reachable at %s (set API_BASE_URL to run)", baseURL)
	}

	return &contractClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *contractClient) do(t *testing.T, method, path string, body io.Reader, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (c *contractClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil, nil)
}

func (c *contractClient) sendJSON(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return c.do(t, method, path, bytes.NewReader(data), http.Header{"Content-Type": {"application/json"}})
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
		select {
		case <-ctx.Done():
			return "", nil, fmt.Errorf("timeout waiting for sse event")
		default:
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func requireBox(t *testing.T, value any, field string) {
	t.Helper()
	coords := requireSlice(t, value, field)
	if len(coords) != 4 {
		t.Fatalf("expected %s to have 4 coordinates, got %d", field, len(coords))
	}
	for i, c := range coords {
		requireNumber(t, c, fmt.Sprintf("%s[%d]", field, i))
	}
}

func assertStatusMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m := requireMap(t, value, field)
	for slot, free := range m {
		requireBool(t, free, field+"."+slot)
	}
	return m
}

func assertCameraStats(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["camera_id"], field+".camera_id")
	requireBool(t, payload["running"], field+".running")
	requireNumber(t, payload["frames"], field+".frames")
	requireNumber(t, payload["dropped"], field+".dropped")
	requireNumber(t, payload["detections"], field+".detections")
	requireNumber(t, payload["transitions"], field+".transitions")
	if payload["status"] != nil {
		assertStatusMap(t, payload["status"], field+".status")
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireNumber(t, payload["timestamp"], "timestamp")
	aggregated := assertStatusMap(t, payload["aggregated"], "aggregated")

	slots := requireSlice(t, payload["slots"], "slots")
	if len(slots) != len(aggregated) {
		t.Fatalf("slots has %d entries, aggregated has %d", len(slots), len(aggregated))
	}
	for i, raw := range slots {
		field := fmt.Sprintf("slots[%d]", i)
		slot := requireMap(t, raw, field)
		id := requireString(t, slot["slot"], field+".slot")
		free := requireBool(t, slot["free"], field+".free")
		if aggregated[id] != free {
			t.Fatalf("%s.free = %v, aggregated[%s] = %v", field, free, id, aggregated[id])
		}
		requireNumber(t, slot["ratio"], field+".ratio")
		requireNumber(t, slot["total_weight"], field+".total_weight")
		for j, r := range requireSlice(t, slot["reports"], field+".reports") {
			report := requireMap(t, r, fmt.Sprintf("%s.reports[%d]", field, j))
			requireString(t, report["camera"], field+".reports.camera")
			requireBool(t, report["free"], field+".reports.free")
			requireNumber(t, report["trust"], field+".reports.trust")
		}
	}

	for i, raw := range requireSlice(t, payload["cameras"], "cameras") {
		field := fmt.Sprintf("cameras[%d]", i)
		assertCameraStats(t, requireMap(t, raw, field), field)
	}
}
