package capture

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"latencyflow/config"
	"latencyflow/models"
)

type fakeFeed struct {
	events []models.SessionEvent
}

func (f *fakeFeed) SubscribeSession(ctx context.Context, symbol string) (<-chan models.SessionEvent, error) {
	out := make(chan models.SessionEvent, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func TestSessionCapturesFeedAndWritesHeader(t *testing.T) {
	book := models.BookTicker{Symbol: "BTCUSDT", UpdateID: 7, EventTimeMs: 10, TransactMs: 9, BidPrice: "1", BidQty: "1", AskPrice: "2", AskQty: "2"}
	trade := models.AggTrade{Symbol: "BTCUSDT", EventTimeMs: 20, TradeTimeMs: 19, Price: "1.5", Quantity: "0.1"}
	feed := &fakeFeed{events: []models.SessionEvent{{Book: &book}, {Trade: &trade}}}

	cfg := config.CaptureConfig{LogDir: t.TempDir(), QueueSize: 16}

	var completed models.SessionMeta
	s := NewSession(feed, cfg, "BTCUSDT", -0.0041, 8, time.Second, func(meta models.SessionMeta) {
		completed = meta
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if completed.ID != s.Meta().ID {
		t.Errorf("onComplete got session %q, want %q", completed.ID, s.Meta().ID)
	}

	data, err := os.ReadFile(s.Meta().LogPath)
	if err != nil {
		t.Fatalf("failed to read capture log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines (header, 2 records, footer), got %d:\n%s", len(lines), string(data))
	}
	if !strings.Contains(lines[0], "Starting latency logging for BTCUSDT | funding_rate=-0.0041 | interval=8h | duration=1s") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "Stream message: e=bookTicker u=7") {
		t.Errorf("unexpected book line: %s", lines[1])
	}
	if !strings.Contains(lines[2], "Agg trade: e=aggTrade E=20") {
		t.Errorf("unexpected trade line: %s", lines[2])
	}
}

func TestRegistryTracksLifecycle(t *testing.T) {
	r := NewRegistry()
	a := models.SessionMeta{ID: "a", Symbol: "BTCUSDT", StartTime: time.Now()}
	b := models.SessionMeta{ID: "b", Symbol: "ETHUSDT", StartTime: time.Now().Add(time.Second)}
	r.Add(a)
	r.Add(b)

	if got := len(r.Active()); got != 2 {
		t.Fatalf("expected 2 active sessions, got %d", got)
	}

	r.Done("a")
	active := r.Active()
	if len(active) != 1 || active[0].ID != "b" {
		t.Errorf("unexpected active set: %+v", active)
	}
	finished := r.Finished()
	if len(finished) != 1 || finished[0].ID != "a" {
		t.Errorf("unexpected finished set: %+v", finished)
	}

	r.Done("missing")
	if got := len(r.Finished()); got != 1 {
		t.Errorf("unknown id should be ignored, finished=%d", got)
	}
}
