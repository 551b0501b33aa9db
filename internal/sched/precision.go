package sched

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"latencyflow/config"
	"latencyflow/internal/capture"
	"latencyflow/internal/exchange"
	"latencyflow/logger"
)

// PrecisionScheduler fires one timed market order per day at a sub-second
// wall-clock target. The wait is two-phase: a coarse sleep to a margin
// before the target, then a busy spin against the monotonic clock for the
// final stretch. The spin blocks its thread, so the margin stays small.
type PrecisionScheduler struct {
	cfg     config.PrecisionConfig
	gateway exchange.OrderGateway
	log     *logger.Entry
	now     func() time.Time

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

func NewPrecisionScheduler(cfg config.PrecisionConfig, gateway exchange.OrderGateway) *PrecisionScheduler {
	return &PrecisionScheduler{
		cfg:     cfg,
		gateway: gateway,
		log:     logger.GetLogger().WithComponent("precision_scheduler"),
		now:     time.Now,
		wg:      &sync.WaitGroup{},
	}
}

func (p *PrecisionScheduler) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("precision scheduler already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.fireLoop()

	p.log.WithFields(logger.Fields{
		"symbol": p.cfg.Symbol,
		"target": p.cfg.TargetTime().String(),
		"margin": p.cfg.Margin.String(),
	}).Info("precision scheduler started")
	return nil
}

func (p *PrecisionScheduler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("precision scheduler stopped")
}

func (p *PrecisionScheduler) fireLoop() {
	defer p.wg.Done()

	for {
		target := nextTarget(p.now().UTC(), p.cfg.TargetTime())
		p.log.WithFields(logger.Fields{"target": target.Format(time.RFC3339Nano)}).Info("armed for next target")

		if err := p.waitUntil(target); err != nil {
			return
		}
		p.fire(target)
	}
}

// nextTarget resolves the next occurrence of the time-of-day offset. A
// target already passed today rolls to the same time tomorrow.
func nextTarget(now time.Time, offset time.Duration) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	target := midnight.Add(offset)
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

// waitUntil sleeps until margin before target, then spins. Cancellation in
// either phase returns an error without firing.
func (p *PrecisionScheduler) waitUntil(target time.Time) error {
	coarse := time.Until(target) - p.cfg.Margin
	if coarse > 0 {
		timer := time.NewTimer(coarse)
		defer timer.Stop()
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-timer.C:
		}
	}

	spinStart := time.Now()
	for time.Now().Before(target) {
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		default:
		}
	}
	spin := time.Since(spinStart)

	p.log.LogMetric("precision_scheduler", "SpinDurationMs", float64(spin.Microseconds())/1000.0, "Milliseconds", logger.Fields{"symbol": p.cfg.Symbol})
	if spin > p.cfg.SpinLimit {
		logger.IncrementSpinOverrun()
		p.log.WithFields(logger.Fields{
			"spin":  spin.String(),
			"limit": p.cfg.SpinLimit.String(),
		}).Warn("spin phase overran its bound")
	}
	return nil
}

// fire issues the market order and records round-trip latency in a capture
// log next to the session logs.
func (p *PrecisionScheduler) fire(target time.Time) {
	path := filepath.Join(p.cfg.LogDir, fmt.Sprintf("fire_%s_%s.txt", p.cfg.Symbol, target.Format("20060102_150405")))
	capLog := capture.NewLogger(path, 64, false)
	if err := capLog.Start(); err != nil {
		p.log.WithError(err).Error("failed to open fire log")
		capLog = nil
	}

	sendTime := time.Now()
	ack, err := p.gateway.MarketSell(p.ctx, p.cfg.Symbol, p.cfg.Quantity)
	recvTime := time.Now()
	latency := recvTime.Sub(sendTime)
	lag := sendTime.Sub(target)

	if err != nil {
		p.log.WithError(err).WithFields(logger.Fields{"symbol": p.cfg.Symbol}).Error("timed order failed")
		if capLog != nil {
			capLog.Info(fmt.Sprintf("Timed order failed for %s: %v", p.cfg.Symbol, err))
			capLog.Stop()
		}
		return
	}

	logger.IncrementOrderFired()
	p.log.LogMetric("precision_scheduler", "OrderRoundTripMs", float64(latency.Microseconds())/1000.0, "Milliseconds", logger.Fields{"symbol": p.cfg.Symbol})
	p.log.WithFields(logger.Fields{
		"symbol":     p.cfg.Symbol,
		"order_id":   ack.OrderID,
		"status":     ack.Status,
		"fire_lag":   lag.String(),
		"round_trip": latency.String(),
	}).Info("timed order fired")

	if capLog != nil {
		capLog.Info(fmt.Sprintf("Timed order fired for %s | order_id=%d status=%s send=%s recv=%s round_trip_ms=%.3f fire_lag_ms=%.3f",
			p.cfg.Symbol, ack.OrderID, ack.Status,
			sendTime.Format("15:04:05.000000"), recvTime.Format("15:04:05.000000"),
			float64(latency.Microseconds())/1000.0, float64(lag.Microseconds())/1000.0))
		capLog.Stop()
	}
}
