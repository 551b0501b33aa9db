package sched

import (
	"context"
	"fmt"
	"time"

	"latencyflow/config"
	"latencyflow/internal/exchange"
	"latencyflow/logger"
)

// OffsetSample is one round trip against the exchange clock.
type OffsetSample struct {
	OffsetMs float64 `json:"offset_ms"`
	RTTMs    float64 `json:"rtt_ms"`
}

// OffsetResult is a batch of samples plus the lowest-RTT one, which bounds
// the true offset most tightly.
type OffsetResult struct {
	Best    OffsetSample   `json:"best"`
	Samples []OffsetSample `json:"samples"`
}

// OffsetSampler estimates local-clock offset against the exchange server
// clock. The offset feeds interpretation of precision-fire lag; nothing here
// adjusts the local clock.
type OffsetSampler struct {
	cfg  config.OffsetConfig
	time exchange.TimeProvider
	log  *logger.Entry
}

func NewOffsetSampler(cfg config.OffsetConfig, time exchange.TimeProvider) *OffsetSampler {
	return &OffsetSampler{
		cfg:  cfg,
		time: time,
		log:  logger.GetLogger().WithComponent("offset_sampler"),
	}
}

// Sample runs the configured number of round trips. Offset is server time
// minus the request midpoint, so a symmetric network path cancels out.
func (o *OffsetSampler) Sample(ctx context.Context) (OffsetResult, error) {
	if o.cfg.Samples <= 0 {
		return OffsetResult{}, fmt.Errorf("offset sampler needs at least one sample")
	}

	var res OffsetResult
	for i := 0; i < o.cfg.Samples; i++ {
		if i > 0 && o.cfg.Pause > 0 {
			timer := time.NewTimer(o.cfg.Pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res, ctx.Err()
			case <-timer.C:
			}
		}

		before := time.Now()
		serverMs, err := o.time.ServerTime(ctx)
		after := time.Now()
		if err != nil {
			o.log.WithError(err).Warn("server time sample failed")
			continue
		}

		rtt := after.Sub(before)
		midMs := float64(before.UnixNano())/1e6 + float64(rtt.Microseconds())/2000.0
		sample := OffsetSample{
			OffsetMs: float64(serverMs) - midMs,
			RTTMs:    float64(rtt.Microseconds()) / 1000.0,
		}
		res.Samples = append(res.Samples, sample)
	}

	if len(res.Samples) == 0 {
		return res, fmt.Errorf("all %d offset samples failed", o.cfg.Samples)
	}

	res.Best = res.Samples[0]
	for _, s := range res.Samples[1:] {
		if s.RTTMs < res.Best.RTTMs {
			res.Best = s
		}
	}

	o.log.WithFields(logger.Fields{
		"samples":   len(res.Samples),
		"offset_ms": fmt.Sprintf("%.3f", res.Best.OffsetMs),
		"rtt_ms":    fmt.Sprintf("%.3f", res.Best.RTTMs),
	}).Info("clock offset estimated")
	return res, nil
}
