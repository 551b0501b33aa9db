package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"latencyflow/config"
	"latencyflow/internal/exchange"
	"latencyflow/logger"
	"latencyflow/models"
)

// Session captures one symbol's session feed into a capture log for a fixed
// duration. Each session owns its capture Logger and runs detached from the
// scheduler that launched it, so overlapping sessions never share state.
type Session struct {
	meta       models.SessionMeta
	feed       exchange.SessionFeed
	cfg        config.CaptureConfig
	duration   time.Duration
	onComplete func(models.SessionMeta)
	log        *logger.Log
}

// NewSession prepares a capture session. onComplete, if set, runs after the
// capture log is fully flushed; it is the hook for analysis and archival.
func NewSession(feed exchange.SessionFeed, cfg config.CaptureConfig, symbol string, rate float64, intervalH int, duration time.Duration, onComplete func(models.SessionMeta)) *Session {
	start := time.Now()
	meta := models.SessionMeta{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		FundingRate: rate,
		IntervalH:   intervalH,
		StartTime:   start,
		Duration:    int(duration.Seconds()),
		LogPath:     filepath.Join(cfg.LogDir, logFileName(symbol, start, rate)),
	}
	return &Session{
		meta:       meta,
		feed:       feed,
		cfg:        cfg,
		duration:   duration,
		onComplete: onComplete,
		log:        logger.GetLogger(),
	}
}

// Meta returns the session descriptor.
func (s *Session) Meta() models.SessionMeta {
	return s.meta
}

// Run subscribes to the session feed and captures until the duration
// elapses, the feed closes, or ctx is cancelled. The capture log is flushed
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	log := s.log.WithComponent("capture_session").WithFields(logger.Fields{
		"session_id": s.meta.ID,
		"symbol":     s.meta.Symbol,
	})

	capLog := NewLogger(s.meta.LogPath, s.cfg.QueueSize, s.cfg.Console)
	if err := capLog.Start(); err != nil {
		return fmt.Errorf("failed to start capture session for %s: %w", s.meta.Symbol, err)
	}

	logger.IncrementSessionStarted()
	log.WithFields(logger.Fields{"path": s.meta.LogPath, "duration_s": s.meta.Duration}).Info("capture session starting")

	capLog.Info(fmt.Sprintf("Starting latency logging for %s | funding_rate=%s | interval=%dh | duration=%ds",
		s.meta.Symbol, strconv.FormatFloat(s.meta.FundingRate, 'f', -1, 64), s.meta.IntervalH, s.meta.Duration))

	sctx, cancel := context.WithTimeout(ctx, s.duration)
	defer cancel()

	events, err := s.feed.SubscribeSession(sctx, s.meta.Symbol)
	if err != nil {
		capLog.Stop()
		return fmt.Errorf("failed to subscribe session feed for %s: %w", s.meta.Symbol, err)
	}

	var captured int64
	for ev := range events {
		switch {
		case ev.Book != nil:
			capLog.CaptureBookTicker(*ev.Book)
			captured++
		case ev.Trade != nil:
			capLog.CaptureAggTrade(*ev.Trade)
			captured++
		}
	}

	capLog.Info("Session ended.")
	capLog.Stop()

	log.WithFields(logger.Fields{"records": captured}).Info("capture session complete")
	logger.LogDataFlowEntry(log, "session_feed", s.meta.LogPath, int(captured), "stream_records")

	if s.onComplete != nil {
		s.onComplete(s.meta)
	}
	return nil
}

// logFileName builds the capture log name, e.g.
// "log_BTCUSDT_20260219_155930_fr-0p00412000.txt". Dots in the funding rate
// are replaced so the rate survives in the file stem.
func logFileName(symbol string, start time.Time, rate float64) string {
	frPart := strings.ReplaceAll(fmt.Sprintf("%+.8f", rate), ".", "p")
	return fmt.Sprintf("log_%s_%s_fr%s.txt", symbol, start.Format("20060102_150405"), frPart)
}
