package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"latencyflow/config"
)

type stubTimeProvider struct {
	calls int
	fail  map[int]bool
	skew  int64
}

func (s *stubTimeProvider) ServerTime(ctx context.Context) (int64, error) {
	s.calls++
	if s.fail[s.calls] {
		return 0, errors.New("timeout")
	}
	return time.Now().UnixMilli() + s.skew, nil
}

func TestOffsetSamplerEstimatesSkew(t *testing.T) {
	tp := &stubTimeProvider{skew: 250}
	sampler := NewOffsetSampler(config.OffsetConfig{Samples: 5, Pause: time.Millisecond}, tp)

	res, err := sampler.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(res.Samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(res.Samples))
	}
	// The stub adds 250ms of skew and the local round trip is near zero.
	if res.Best.OffsetMs < 200 || res.Best.OffsetMs > 300 {
		t.Errorf("offset estimate off: %.3f ms", res.Best.OffsetMs)
	}
	for _, s := range res.Samples {
		if s.RTTMs < res.Best.RTTMs {
			t.Errorf("best sample is not minimum RTT: %.3f < %.3f", s.RTTMs, res.Best.RTTMs)
		}
	}
}

func TestOffsetSamplerSkipsFailedSamples(t *testing.T) {
	tp := &stubTimeProvider{fail: map[int]bool{1: true, 3: true}}
	sampler := NewOffsetSampler(config.OffsetConfig{Samples: 4}, tp)

	res, err := sampler.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(res.Samples) != 2 {
		t.Errorf("expected 2 good samples, got %d", len(res.Samples))
	}
}

func TestOffsetSamplerAllFailed(t *testing.T) {
	tp := &stubTimeProvider{fail: map[int]bool{1: true, 2: true}}
	sampler := NewOffsetSampler(config.OffsetConfig{Samples: 2}, tp)

	if _, err := sampler.Sample(context.Background()); err == nil {
		t.Fatal("expected error when every sample fails")
	}
}
