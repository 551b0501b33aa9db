package funding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"latencyflow/config"
	"latencyflow/logger"
	"latencyflow/models"
)

// Monitor consumes the funding feed, applies updates to the tracker, and
// drives interval-cache refreshes: once when a qualifying symbol appears
// with no cached interval, and once per hour at the configured refresh
// minute for all qualifying symbols.
type Monitor struct {
	cfg     *config.Config
	tracker *Tracker
	fetcher *IntervalFetcher
	updates <-chan []models.FundingUpdate
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	lastPrintMinute int
	lastRefreshHour int
}

func NewMonitor(cfg *config.Config, tracker *Tracker, fetcher *IntervalFetcher, updates <-chan []models.FundingUpdate) *Monitor {
	return &Monitor{
		cfg:             cfg,
		tracker:         tracker,
		fetcher:         fetcher,
		updates:         updates,
		wg:              &sync.WaitGroup{},
		log:             logger.GetLogger(),
		lastPrintMinute: -1,
		lastRefreshHour: -1,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("funding monitor already running")
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go m.consume()

	m.log.WithComponent("funding_monitor").Info("funding monitor started")
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.log.WithComponent("funding_monitor").Info("funding monitor stopped")
}

func (m *Monitor) consume() {
	defer m.wg.Done()

	log := m.log.WithComponent("funding_monitor")

	for {
		select {
		case <-m.ctx.Done():
			log.Info("consumer stopped due to context cancellation")
			return
		case batch, ok := <-m.updates:
			if !ok {
				log.Warn("funding feed closed")
				return
			}
			m.tracker.Apply(batch)
			m.tick(time.Now())
		}
	}
}

// tick runs the per-update housekeeping: refresh decisions and the once a
// minute qualifying table.
func (m *Monitor) tick(now time.Time) {
	qualifying := m.tracker.QualifyingSymbols(m.cfg.Funding.Threshold)

	periodicRefresh := now.Minute() == m.cfg.Funding.RefreshMinute && m.lastRefreshHour != now.Hour()
	if periodicRefresh {
		m.lastRefreshHour = now.Hour()
	}

	if len(qualifying) > 0 && (periodicRefresh || m.tracker.MissingInterval(qualifying)) {
		m.fetcher.Trigger()
	}

	if m.lastPrintMinute != now.Minute() {
		m.lastPrintMinute = now.Minute()
		// Wait until the snapshot is meaningful before reporting.
		if m.tracker.Size() > m.cfg.Funding.MinSnapshot {
			m.printQualifying(qualifying)
		}
	}
}

func (m *Monitor) printQualifying(qualifying []string) {
	log := m.log.WithComponent("funding_monitor")

	states := m.tracker.Snapshot(m.cfg.Funding.Threshold)
	rows := make([]string, 0, len(states))
	for _, s := range states {
		interval := "?"
		if s.HasInterval {
			interval = fmt.Sprintf("%dh", s.IntervalH)
		}
		rows = append(rows, fmt.Sprintf("%s rate=%.8f interval=%s", s.Symbol, s.Rate, interval))
	}

	log.WithFields(logger.Fields{
		"threshold":  m.cfg.Funding.Threshold,
		"qualifying": len(qualifying),
		"tracked":    m.tracker.Size(),
		"symbols":    rows,
	}).Info("qualifying funding rates")
}
