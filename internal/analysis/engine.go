package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Bucket aggregates records whose event timestamp falls into one fixed-width
// window.
type Bucket struct {
	StartMs       int64   `json:"start_ms"`
	Count         int     `json:"count"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	HighLatency   bool    `json:"high_latency"`
	HighCount     bool    `json:"high_count"`
}

// Flag renders the anomaly marker for report output.
func (b Bucket) Flag() string {
	switch {
	case b.HighLatency && b.HighCount:
		return "HIGH_LAT+HIGH_COUNT"
	case b.HighLatency:
		return "HIGH_LAT"
	case b.HighCount:
		return "HIGH_COUNT"
	default:
		return ""
	}
}

// Result is the full analysis of one capture log.
type Result struct {
	Symbol          string
	FundingRate     float64
	IntervalH       int
	Records         int
	Skipped         int
	MaxLatencyMs    float64
	MaxLatencyAt    time.Time
	MaxLatencyIndex int
	BaselineMs      float64
	MeanBucketCount float64
	Buckets         []Bucket
	Correlation     float64
}

// CorrelationLabel classifies the rate/latency Pearson coefficient.
func (r *Result) CorrelationLabel() string {
	abs := math.Abs(r.Correlation)
	switch {
	case abs > 0.6:
		return "strong"
	case abs > 0.3:
		return "moderate"
	default:
		return "weak"
	}
}

// Latency is arrival minus event time in milliseconds. Negative values mean
// the local clock trails the exchange clock and are reported as-is.
func Latency(r Record) float64 {
	return float64(r.Arrival.UnixNano())/1e6 - float64(r.EventMs)
}

// Analyze computes latency, buckets, anomaly flags and the rate/latency
// correlation for a parsed capture log.
func Analyze(capLog *CaptureLog, bucketWidthMs int64) (*Result, error) {
	if bucketWidthMs <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %d", bucketWidthMs)
	}
	if len(capLog.Records) == 0 {
		return nil, fmt.Errorf("capture log %s has no parsable records", capLog.Path)
	}

	res := &Result{
		Symbol:      capLog.Symbol,
		FundingRate: capLog.FundingRate,
		IntervalH:   capLog.IntervalH,
		Records:     len(capLog.Records),
		Skipped:     capLog.Skipped,
	}

	latencies := make([]float64, len(capLog.Records))
	for i, rec := range capLog.Records {
		latencies[i] = Latency(rec)
	}

	// Stable argmax: strict comparison keeps the first occurrence on ties.
	maxIdx := 0
	for i, lat := range latencies {
		if lat > latencies[maxIdx] {
			maxIdx = i
		}
	}
	res.MaxLatencyMs = latencies[maxIdx]
	res.MaxLatencyAt = capLog.Records[maxIdx].Arrival
	res.MaxLatencyIndex = maxIdx

	res.Buckets = bucketize(capLog.Records, latencies, bucketWidthMs)

	means := make([]float64, len(res.Buckets))
	totalCount := 0
	for i, b := range res.Buckets {
		means[i] = b.MeanLatencyMs
		totalCount += b.Count
	}
	res.BaselineMs = median(means)
	res.MeanBucketCount = float64(totalCount) / float64(len(res.Buckets))

	counts := make([]float64, len(res.Buckets))
	for i := range res.Buckets {
		counts[i] = float64(res.Buckets[i].Count)
		res.Buckets[i].HighLatency = res.Buckets[i].MeanLatencyMs > 1.2*res.BaselineMs
		res.Buckets[i].HighCount = counts[i] > 2*res.MeanBucketCount
	}

	res.Correlation = pearson(counts, means)
	return res, nil
}

func bucketize(records []Record, latencies []float64, widthMs int64) []Bucket {
	byStart := make(map[int64]*Bucket)
	for i, rec := range records {
		start := floorDiv(rec.EventMs, widthMs) * widthMs
		b, ok := byStart[start]
		if !ok {
			b = &Bucket{StartMs: start, MaxLatencyMs: math.Inf(-1)}
			byStart[start] = b
		}
		b.Count++
		b.MeanLatencyMs += latencies[i] // running sum, divided below
		if latencies[i] > b.MaxLatencyMs {
			b.MaxLatencyMs = latencies[i]
		}
	}

	out := make([]Bucket, 0, len(byStart))
	for _, b := range byStart {
		b.MeanLatencyMs /= float64(b.Count)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out
}

// floorDiv rounds toward negative infinity so pre-epoch or skewed negative
// timestamps still land in the right bucket.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// pearson returns 0 when either series has zero variance.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
