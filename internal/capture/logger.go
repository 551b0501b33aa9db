// Package capture implements the arrival-stamping capture pipeline. A
// capture Logger is not the application logger: it writes the exact
// line-oriented format the analysis engine parses, and its producer side
// never blocks on I/O.
package capture

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"latencyflow/logger"
	"latencyflow/models"
)

type entryKind int

const (
	kindInfo entryKind = iota
	kindBook
	kindTrade
)

// entry carries one queued record together with its arrival timestamp.
// The arrival timestamp is stamped by the producer and is never touched
// again; the consumer formats with it no matter when the write happens.
type entry struct {
	arrival time.Time
	kind    entryKind
	text    string
	book    models.BookTicker
	trade   models.AggTrade
}

// Logger is a single-producer single-consumer capture sink. The producer
// stamps arrival time and enqueues; one background worker drains the queue
// in FIFO order and persists to file and optionally console.
type Logger struct {
	path    string
	console bool

	queue chan entry
	done  chan struct{}

	mu      sync.RWMutex
	started bool
	stopped bool

	file *os.File
	w    *bufio.Writer
	log  *logger.Log
}

func NewLogger(path string, queueSize int, console bool) *Logger {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Logger{
		path:    path,
		console: console,
		queue:   make(chan entry, queueSize),
		done:    make(chan struct{}),
		log:     logger.GetLogger(),
	}
}

// Path returns the capture log file path.
func (l *Logger) Path() string {
	return l.path
}

// Start opens the log file and launches the consumer worker.
func (l *Logger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("capture logger already started")
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create capture log dir: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open capture log: %w", err)
	}

	l.file = file
	l.w = bufio.NewWriter(file)
	l.started = true

	go l.consume()

	return nil
}

// Stop flushes all queued records and joins the worker. No record enqueued
// before Stop is dropped on a graceful stop.
func (l *Logger) Stop() {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.queue)
	<-l.done
}

// Info records a free-form line such as the session header.
func (l *Logger) Info(text string) {
	arrival := time.Now()
	l.enqueue(entry{arrival: arrival, kind: kindInfo, text: text})
}

// CaptureBookTicker stamps arrival time in the caller's goroutine and
// enqueues the record. It never blocks on I/O.
func (l *Logger) CaptureBookTicker(ev models.BookTicker) {
	arrival := time.Now()
	l.enqueue(entry{arrival: arrival, kind: kindBook, book: ev})
}

// CaptureAggTrade stamps arrival time in the caller's goroutine and
// enqueues the record. It never blocks on I/O.
func (l *Logger) CaptureAggTrade(ev models.AggTrade) {
	arrival := time.Now()
	l.enqueue(entry{arrival: arrival, kind: kindTrade, trade: ev})
}

func (l *Logger) enqueue(e entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.started || l.stopped {
		logger.IncrementRecordDropped()
		return
	}

	select {
	case l.queue <- e:
		logger.IncrementRecordCaptured(1)
	default:
		logger.IncrementRecordDropped()
		l.log.WithComponent("capture_logger").WithFields(logger.Fields{"path": l.path}).Warn("capture queue full, dropping record")
	}
}

func (l *Logger) consume() {
	defer close(l.done)

	for e := range l.queue {
		line := formatEntry(e)
		if _, err := l.w.WriteString(line + "\n"); err != nil {
			l.log.WithComponent("capture_logger").WithError(err).Error("failed to write capture record")
		}
		if l.console {
			fmt.Println(line)
		}
	}

	if err := l.w.Flush(); err != nil {
		l.log.WithComponent("capture_logger").WithError(err).Error("failed to flush capture log")
	}
	if err := l.file.Close(); err != nil {
		l.log.WithComponent("capture_logger").WithError(err).Error("failed to close capture log")
	}
}

// formatEntry renders one record in the exact format the analysis engine
// parses. The timestamp is always the producer's arrival stamp.
func formatEntry(e entry) string {
	ts := formatTimestamp(e.arrival)
	switch e.kind {
	case kindBook:
		b := e.book
		return fmt.Sprintf("%s - INFO - Stream message: e=bookTicker u=%d s=%s b=%s B=%s a=%s A=%s T=%d E=%d",
			ts, b.UpdateID, b.Symbol, b.BidPrice, b.BidQty, b.AskPrice, b.AskQty, b.TransactMs, b.EventTimeMs)
	case kindTrade:
		t := e.trade
		return fmt.Sprintf("%s - INFO - Agg trade: e=aggTrade E=%d s=%s p=%s q=%s T=%d",
			ts, t.EventTimeMs, t.Symbol, t.Price, t.Quantity, t.TradeTimeMs)
	default:
		return fmt.Sprintf("%s - INFO - %s", ts, e.text)
	}
}

// formatTimestamp renders millisecond resolution with a comma separator,
// e.g. "2026-02-19 15:59:30,123".
func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s,%03d", t.Format("2006-01-02 15:04:05"), t.Nanosecond()/1e6)
}
