// Package sched holds the two schedulers: the settlement-window detector
// that launches capture sessions, and the precision scheduler that fires a
// single timed action at a sub-second target.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"latencyflow/config"
	"latencyflow/internal/capture"
	"latencyflow/internal/exchange"
	"latencyflow/internal/funding"
	"latencyflow/logger"
	"latencyflow/models"
)

// SettlementScheduler polls wall-clock time and, at the configured trigger
// offset before each settlement boundary, launches one detached capture
// session per qualifying symbol whose interval lands on the coming hour.
type SettlementScheduler struct {
	cfg        config.SettlementConfig
	capCfg     config.CaptureConfig
	threshold  float64
	tracker    *funding.Tracker
	feed       exchange.SessionFeed
	registry   *capture.Registry
	onComplete func(models.SessionMeta)
	log        *logger.Entry
	now        func() time.Time

	mu        sync.RWMutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	lastFired time.Time
}

func NewSettlementScheduler(cfg config.SettlementConfig, capCfg config.CaptureConfig, threshold float64, tracker *funding.Tracker, feed exchange.SessionFeed, registry *capture.Registry, onComplete func(models.SessionMeta)) *SettlementScheduler {
	return &SettlementScheduler{
		cfg:        cfg,
		capCfg:     capCfg,
		threshold:  threshold,
		tracker:    tracker,
		feed:       feed,
		registry:   registry,
		onComplete: onComplete,
		log:        logger.GetLogger().WithComponent("settlement_scheduler"),
		now:        time.Now,
		wg:         &sync.WaitGroup{},
	}
}

func (s *SettlementScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("settlement scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.pollLoop()

	s.log.WithFields(logger.Fields{
		"trigger_minute": s.cfg.TriggerMinute,
		"trigger_second": s.cfg.TriggerSecond,
		"idle_tick":      s.cfg.IdleTick.String(),
	}).Info("settlement scheduler started")
	return nil
}

func (s *SettlementScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("settlement scheduler stopped")
}

func (s *SettlementScheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.IdleTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now().UTC())
		}
	}
}

// tick fires at most once per trigger second. The trigger second lasts
// longer than the idle tick, so without the latch a single window would
// launch duplicate sessions.
func (s *SettlementScheduler) tick(now time.Time) {
	if now.Minute() != s.cfg.TriggerMinute || now.Second() != s.cfg.TriggerSecond {
		return
	}
	sec := now.Truncate(time.Second)
	if sec.Equal(s.lastFired) {
		return
	}
	s.lastFired = sec

	for _, state := range s.tracker.Snapshot(s.threshold) {
		if !state.HasInterval {
			s.log.WithFields(logger.Fields{"symbol": state.Symbol}).Warn("skipping symbol with unknown funding interval")
			continue
		}
		if !settlesNextHour(now, state.IntervalH) {
			continue
		}
		s.launch(state)
	}
}

// settlesNextHour reports whether the hour after now is a settlement hour
// for the given interval. Settlement hours are the multiples of the
// interval within the UTC day.
func settlesNextHour(now time.Time, intervalH int) bool {
	if intervalH <= 0 || intervalH > 24 {
		return false
	}
	next := (now.Hour() + 1) % 24
	return next%intervalH == 0
}

func (s *SettlementScheduler) launch(state funding.SymbolState) {
	session := capture.NewSession(s.feed, s.capCfg, state.Symbol, state.Rate, state.IntervalH, s.cfg.SessionDuration, func(meta models.SessionMeta) {
		if s.registry != nil {
			s.registry.Done(meta.ID)
		}
		if s.onComplete != nil {
			s.onComplete(meta)
		}
	})
	if s.registry != nil {
		s.registry.Add(session.Meta())
	}

	s.log.WithFields(logger.Fields{
		"symbol":       state.Symbol,
		"funding_rate": state.Rate,
		"interval_h":   state.IntervalH,
		"session_id":   session.Meta().ID,
	}).Info("settlement window hit, launching capture session")

	// Detached on purpose. The session outlives the trigger second and the
	// scheduler keeps polling while it runs.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := session.Run(s.ctx); err != nil {
			s.log.WithError(err).WithFields(logger.Fields{"symbol": state.Symbol}).Error("capture session failed")
			if s.registry != nil {
				s.registry.Done(session.Meta().ID)
			}
		}
	}()
}
