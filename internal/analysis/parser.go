// Package analysis is the offline consumer of capture logs. It parses the
// line format the capture pipeline writes, computes per-record latency,
// buckets message rate, flags anomalous buckets and correlates rate against
// latency.
package analysis

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"latencyflow/logger"
)

// RecordKind distinguishes the two stream record types.
type RecordKind int

const (
	KindBook RecordKind = iota
	KindTrade
)

// Record is one parsed capture line. EventMs is the exchange-side event
// timestamp the latency computation subtracts from the arrival stamp.
type Record struct {
	Arrival time.Time
	Kind    RecordKind
	EventMs int64
	Bid     float64
	Ask     float64
	Price   float64
	Qty     float64
}

// CaptureLog is one fully parsed capture file.
type CaptureLog struct {
	Path        string
	Symbol      string
	FundingRate float64
	IntervalH   int
	Records     []Record
	Skipped     int
}

const arrivalLayout = "2006-01-02 15:04:05,000"

var (
	bookRe   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3}) - INFO - Stream message: (.+)$`)
	tradeRe  = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3}) - INFO - Agg trade: (.+)$`)
	headerRe = regexp.MustCompile(`Starting latency logging for (\S+) \| funding_rate=([-+]?[0-9.eE-]+) \| interval=(\d+)h`)
	kvRe     = regexp.MustCompile(`(\w+)=['"]?([a-zA-Z0-9.+-]+)['"]?`)
)

// ParseFile reads a capture log. Malformed lines are counted and skipped; a
// parse never aborts the file.
func ParseFile(path string) (*CaptureLog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture log: %w", err)
	}
	defer file.Close()

	out := &CaptureLog{Path: path}
	log := logger.GetLogger().WithComponent("analysis_parser").WithFields(logger.Fields{"path": path})

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case parseBookLine(line, out):
		case parseTradeLine(line, out):
		case parseHeaderLine(line, out):
		default:
			out.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan capture log: %w", err)
	}

	log.WithFields(logger.Fields{"records": len(out.Records), "skipped": out.Skipped}).Debug("capture log parsed")
	return out, nil
}

func parseHeaderLine(line string, out *CaptureLog) bool {
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	rate, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return false
	}
	hours, err := strconv.Atoi(m[3])
	if err != nil {
		return false
	}
	out.Symbol = m[1]
	out.FundingRate = rate
	out.IntervalH = hours
	return true
}

func parseBookLine(line string, out *CaptureLog) bool {
	m := bookRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	arrival, err := time.ParseInLocation(arrivalLayout, m[1], time.Local)
	if err != nil {
		return false
	}
	kv := parseFields(m[2])
	if kv["e"] != "bookTicker" {
		return false
	}
	eventMs, err := strconv.ParseInt(kv["E"], 10, 64)
	if err != nil {
		return false
	}
	bid, err := strconv.ParseFloat(kv["b"], 64)
	if err != nil {
		return false
	}
	ask, err := strconv.ParseFloat(kv["a"], 64)
	if err != nil {
		return false
	}
	out.Records = append(out.Records, Record{
		Arrival: arrival,
		Kind:    KindBook,
		EventMs: eventMs,
		Bid:     bid,
		Ask:     ask,
	})
	return true
}

func parseTradeLine(line string, out *CaptureLog) bool {
	m := tradeRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	arrival, err := time.ParseInLocation(arrivalLayout, m[1], time.Local)
	if err != nil {
		return false
	}
	kv := parseFields(m[2])
	eventMs, err := strconv.ParseInt(kv["T"], 10, 64)
	if err != nil {
		return false
	}
	qty, err := strconv.ParseFloat(kv["q"], 64)
	if err != nil {
		return false
	}
	rec := Record{
		Arrival: arrival,
		Kind:    KindTrade,
		EventMs: eventMs,
		Qty:     qty,
	}
	if p, err := strconv.ParseFloat(kv["p"], 64); err == nil {
		rec.Price = p
	}
	out.Records = append(out.Records, rec)
	return true
}

func parseFields(s string) map[string]string {
	kv := make(map[string]string)
	for _, m := range kvRe.FindAllStringSubmatch(s, -1) {
		kv[m[1]] = m[2]
	}
	return kv
}
