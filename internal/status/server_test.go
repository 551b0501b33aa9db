package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"latencyflow/config"
	"latencyflow/internal/capture"
	"latencyflow/internal/funding"
	"latencyflow/models"
)

func newTestServer(t *testing.T) (*Server, *funding.Tracker, *capture.Registry) {
	t.Helper()
	tracker := funding.NewTracker()
	registry := capture.NewRegistry()
	s := NewServer(config.StatusConfig{Enabled: true, Address: ":0"}, "latencyflow", "1.0.0", -0.003, tracker, registry)
	if s == nil {
		t.Fatal("enabled config should produce a server")
	}
	return s, tracker, registry
}

func getJSON(t *testing.T, s *Server, path string) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.buildRouter().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s returned %d", path, w.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON from %s: %v", path, err)
	}
	return payload
}

func TestStatusEndpoint(t *testing.T) {
	s, tracker, registry := newTestServer(t)
	tracker.Update("BTCUSDT", -0.004)
	tracker.Update("ETHUSDT", 0.001)
	registry.Add(models.SessionMeta{ID: "a", Symbol: "BTCUSDT", StartTime: time.Now()})

	payload := getJSON(t, s, "/api/status")
	if payload["name"] != "latencyflow" || payload["version"] != "1.0.0" {
		t.Errorf("unexpected identity: %v", payload)
	}
	if payload["symbols_tracked"].(float64) != 2 {
		t.Errorf("symbols_tracked = %v", payload["symbols_tracked"])
	}
	if payload["active_sessions"].(float64) != 1 {
		t.Errorf("active_sessions = %v", payload["active_sessions"])
	}
}

func TestFundingEndpointFiltersByThreshold(t *testing.T) {
	s, tracker, _ := newTestServer(t)
	tracker.Update("BTCUSDT", -0.004)
	tracker.Update("ETHUSDT", -0.001) // above threshold
	tracker.SetIntervals(map[string]int{"BTCUSDT": 8}, time.Now())

	payload := getJSON(t, s, "/api/funding")
	qualifying := payload["qualifying"].([]any)
	if len(qualifying) != 1 {
		t.Fatalf("expected 1 qualifying symbol, got %d", len(qualifying))
	}
	state := qualifying[0].(map[string]any)
	if state["symbol"] != "BTCUSDT" || state["interval_hours"].(float64) != 8 {
		t.Errorf("unexpected state: %v", state)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	s, _, registry := newTestServer(t)
	registry.Add(models.SessionMeta{ID: "a", Symbol: "BTCUSDT", StartTime: time.Now()})
	registry.Add(models.SessionMeta{ID: "b", Symbol: "ETHUSDT", StartTime: time.Now()})
	registry.Done("a")

	payload := getJSON(t, s, "/api/sessions")
	if got := len(payload["active"].([]any)); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if got := len(payload["finished"].([]any)); got != 1 {
		t.Errorf("finished = %d, want 1", got)
	}
}

func TestDisabledServerIsNil(t *testing.T) {
	if s := NewServer(config.StatusConfig{Enabled: false}, "x", "1", -0.003, nil, nil); s != nil {
		t.Fatal("disabled config should produce nil server")
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":               "0.0.0.0:8080",
		":9100":          "0.0.0.0:9100",
		"localhost":      "localhost:8080",
		"127.0.0.1:9100": "127.0.0.1:9100",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
