package sched

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"latencyflow/config"
	"latencyflow/internal/capture"
	"latencyflow/internal/funding"
	"latencyflow/models"
)

func TestSettlesNextHour(t *testing.T) {
	cases := []struct {
		name     string
		hour     int
		interval int
		want     bool
	}{
		{"8h interval before 01:00", 0, 8, false},
		{"8h interval before 08:00", 7, 8, true},
		{"8h interval before midnight", 23, 8, true},
		{"4h interval before 16:00", 15, 4, true},
		{"4h interval before 15:00", 14, 4, false},
		{"1h interval any hour", 11, 1, true},
		{"zero interval never", 7, 0, false},
		{"negative interval never", 7, -8, false},
	}
	for _, tc := range cases {
		now := time.Date(2026, 2, 19, tc.hour, 59, 30, 0, time.UTC)
		if got := settlesNextHour(now, tc.interval); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

type stubFeed struct {
	subs atomic.Int64
}

func (f *stubFeed) SubscribeSession(ctx context.Context, symbol string) (<-chan models.SessionEvent, error) {
	f.subs.Add(1)
	out := make(chan models.SessionEvent)
	close(out)
	return out, nil
}

func schedulerForTest(t *testing.T, tracker *funding.Tracker, feed *stubFeed) *SettlementScheduler {
	t.Helper()
	cfg := config.SettlementConfig{
		TriggerMinute:   59,
		TriggerSecond:   30,
		IdleTick:        200 * time.Millisecond,
		SessionDuration: 50 * time.Millisecond,
	}
	capCfg := config.CaptureConfig{LogDir: t.TempDir(), QueueSize: 16}
	s := NewSettlementScheduler(cfg, capCfg, -0.003, tracker, feed, capture.NewRegistry(), nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(s.cancel)
	return s
}

func TestTickLaunchesSessionsForQualifyingSymbols(t *testing.T) {
	tracker := funding.NewTracker()
	tracker.Update("BTCUSDT", -0.0051)
	tracker.Update("ETHUSDT", -0.0012) // above threshold, never fires
	tracker.Update("XRPUSDT", -0.0043)
	tracker.SetIntervals(map[string]int{"BTCUSDT": 8, "XRPUSDT": 4}, time.Now())

	feed := &stubFeed{}
	s := schedulerForTest(t, tracker, feed)

	// Before 16:00 an 8h symbol is idle but a 4h symbol settles.
	s.tick(time.Date(2026, 2, 19, 15, 59, 30, 100e6, time.UTC))
	s.wg.Wait()
	if got := feed.subs.Load(); got != 1 {
		t.Fatalf("expected 1 session at 15:59:30, got %d", got)
	}

	// Before midnight both intervals settle.
	s.tick(time.Date(2026, 2, 19, 23, 59, 30, 100e6, time.UTC))
	s.wg.Wait()
	if got := feed.subs.Load(); got != 3 {
		t.Fatalf("expected 3 total sessions after 23:59:30, got %d", got)
	}
}

func TestTickFiresOncePerTriggerSecond(t *testing.T) {
	tracker := funding.NewTracker()
	tracker.Update("BTCUSDT", -0.0051)
	tracker.SetIntervals(map[string]int{"BTCUSDT": 8}, time.Now())

	feed := &stubFeed{}
	s := schedulerForTest(t, tracker, feed)

	base := time.Date(2026, 2, 19, 23, 59, 30, 0, time.UTC)
	s.tick(base.Add(50 * time.Millisecond))
	s.tick(base.Add(250 * time.Millisecond))
	s.tick(base.Add(900 * time.Millisecond))
	s.wg.Wait()

	if got := feed.subs.Load(); got != 1 {
		t.Fatalf("expected a single session for one trigger second, got %d", got)
	}
}

func TestTickSkipsUnknownIntervalAndOffTrigger(t *testing.T) {
	tracker := funding.NewTracker()
	tracker.Update("BTCUSDT", -0.0099)

	feed := &stubFeed{}
	s := schedulerForTest(t, tracker, feed)

	// Deeply negative but no cached interval.
	s.tick(time.Date(2026, 2, 19, 23, 59, 30, 0, time.UTC))
	// Right symbol state, wrong second.
	tracker.SetIntervals(map[string]int{"BTCUSDT": 8}, time.Now())
	s.tick(time.Date(2026, 2, 19, 23, 59, 29, 0, time.UTC))
	s.tick(time.Date(2026, 2, 19, 23, 58, 30, 0, time.UTC))
	s.wg.Wait()

	if got := feed.subs.Load(); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}
}

func TestLaunchedSessionWritesCaptureLog(t *testing.T) {
	tracker := funding.NewTracker()
	tracker.Update("BTCUSDT", -0.0051)
	tracker.SetIntervals(map[string]int{"BTCUSDT": 8}, time.Now())

	feed := &stubFeed{}
	s := schedulerForTest(t, tracker, feed)
	s.tick(time.Date(2026, 2, 19, 23, 59, 30, 0, time.UTC))
	s.wg.Wait()

	entries, err := os.ReadDir(s.capCfg.LogDir)
	if err != nil {
		t.Fatalf("failed to list capture dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 capture log, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "log_BTCUSDT_") || !strings.HasSuffix(name, "_fr-0p00510000.txt") {
		t.Errorf("unexpected capture log name: %s", name)
	}
	data, err := os.ReadFile(filepath.Join(s.capCfg.LogDir, name))
	if err != nil {
		t.Fatalf("failed to read capture log: %v", err)
	}
	if !strings.Contains(string(data), "Starting latency logging for BTCUSDT | funding_rate=-0.0051 | interval=8h") {
		t.Errorf("missing header in capture log:\n%s", string(data))
	}
}
