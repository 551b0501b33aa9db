package funding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"latencyflow/config"
	"latencyflow/internal/exchange"
	"latencyflow/logger"
)

// IntervalFetcher resolves funding intervals off the ingestion path. Triggers
// coalesce into a single-slot request channel; a failed fetch leaves the
// cache untouched and is retried on the next trigger, never in a tight loop.
type IntervalFetcher struct {
	tracker  *Tracker
	provider exchange.IntervalProvider
	limiter  *rate.Limiter
	requests chan struct{}
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewIntervalFetcher(cfg *config.Config, tracker *Tracker, provider exchange.IntervalProvider) *IntervalFetcher {
	burst := cfg.Funding.FetchBurst
	if burst < 1 {
		burst = 1
	}
	return &IntervalFetcher{
		tracker:  tracker,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Funding.FetchesPerSec), burst),
		requests: make(chan struct{}, 1),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches the fetch worker.
func (f *IntervalFetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("interval fetcher already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	f.wg.Add(1)
	go f.worker()

	f.log.WithComponent("interval_fetcher").Info("interval fetcher started")
	return nil
}

// Stop waits for the worker to finish. The context passed to Start must be
// cancelled first.
func (f *IntervalFetcher) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.wg.Wait()
	f.log.WithComponent("interval_fetcher").Info("interval fetcher stopped")
}

// Trigger requests a fetch. Pending triggers coalesce; Trigger never blocks
// the caller.
func (f *IntervalFetcher) Trigger() {
	select {
	case f.requests <- struct{}{}:
	default:
	}
}

func (f *IntervalFetcher) worker() {
	defer f.wg.Done()

	log := f.log.WithComponent("interval_fetcher").WithFields(logger.Fields{"worker": "interval_fetch"})

	for {
		select {
		case <-f.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-f.requests:
			if err := f.limiter.Wait(f.ctx); err != nil {
				return
			}
			f.fetchOnce()
		}
	}
}

func (f *IntervalFetcher) fetchOnce() {
	log := f.log.WithComponent("interval_fetcher")

	intervals, err := f.provider.FetchIntervalInfo(f.ctx)
	if err != nil {
		// Cache keeps its previous values; the next trigger retries.
		log.WithError(err).Error("failed to fetch funding interval info")
		return
	}

	f.tracker.SetIntervals(intervals, time.Now())
	logger.IncrementIntervalFetch()
	log.WithFields(logger.Fields{"symbols": len(intervals)}).Info("funding intervals cached")
}
