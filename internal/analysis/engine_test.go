package analysis

import (
	"math"
	"testing"
	"time"
)

// makeRecord builds a book record whose latency is exactly latMs.
func makeRecord(eventMs int64, latMs float64) Record {
	return Record{
		Arrival: time.UnixMilli(eventMs + int64(latMs)),
		Kind:    KindBook,
		EventMs: eventMs,
		Bid:     100,
		Ask:     101,
	}
}

func TestLatencyIsArrivalMinusEvent(t *testing.T) {
	rec := makeRecord(1700000000000, 42)
	if got := Latency(rec); math.Abs(got-42) > 1e-3 {
		t.Errorf("latency = %v, want 42", got)
	}

	// Clock skew must come out negative as-is, never clamped.
	neg := Record{Arrival: time.UnixMilli(1700000000000 - 7), Kind: KindBook, EventMs: 1700000000000}
	if got := Latency(neg); math.Abs(got-(-7)) > 1e-3 {
		t.Errorf("negative latency = %v, want -7", got)
	}
}

func TestMaxLatencyStableArgmax(t *testing.T) {
	lats := []float64{3, 9, 1, 9, 2, 9}
	capLog := &CaptureLog{Path: "test"}
	for i, lat := range lats {
		capLog.Records = append(capLog.Records, makeRecord(int64(i*100), lat))
	}

	res, err := Analyze(capLog, 1000)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Brute-force reference scan.
	wantIdx := 0
	for i, lat := range lats {
		if lat > lats[wantIdx] {
			wantIdx = i
		}
	}
	if res.MaxLatencyIndex != wantIdx || res.MaxLatencyIndex != 1 {
		t.Errorf("argmax = %d, want first occurrence 1", res.MaxLatencyIndex)
	}
	if math.Abs(res.MaxLatencyMs-9) > 1e-6 {
		t.Errorf("max latency = %v, want 9", res.MaxLatencyMs)
	}
}

func TestBucketingIsIdempotent(t *testing.T) {
	capLog := &CaptureLog{Path: "test"}
	for i := 0; i < 50; i++ {
		capLog.Records = append(capLog.Records, makeRecord(int64(i*137), float64(i%7)))
	}

	first, err := Analyze(capLog, 500)
	if err != nil {
		t.Fatalf("first Analyze failed: %v", err)
	}
	second, err := Analyze(capLog, 500)
	if err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}

	if len(first.Buckets) != len(second.Buckets) {
		t.Fatalf("bucket counts differ: %d vs %d", len(first.Buckets), len(second.Buckets))
	}
	for i := range first.Buckets {
		if first.Buckets[i] != second.Buckets[i] {
			t.Errorf("bucket %d differs: %+v vs %+v", i, first.Buckets[i], second.Buckets[i])
		}
	}
}

func TestBucketKeysFloorEventTime(t *testing.T) {
	capLog := &CaptureLog{Path: "test"}
	capLog.Records = append(capLog.Records,
		makeRecord(999, 1),
		makeRecord(1000, 1),
		makeRecord(1999, 1),
		makeRecord(2000, 1),
	)

	res, err := Analyze(capLog, 1000)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(res.Buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(res.Buckets))
	}
	wantStarts := []int64{0, 1000, 2000}
	wantCounts := []int{1, 2, 1}
	for i, b := range res.Buckets {
		if b.StartMs != wantStarts[i] || b.Count != wantCounts[i] {
			t.Errorf("bucket %d = {start %d, count %d}, want {%d, %d}", i, b.StartMs, b.Count, wantStarts[i], wantCounts[i])
		}
	}
}

func TestBurstBucketIsFlaggedAndCorrelated(t *testing.T) {
	// Six one-second buckets: counts [1,1,1,50,1,1], mean latencies
	// [5,5,5,80,5,5]. The burst bucket must carry both flags and the
	// count/latency correlation must come out strong.
	counts := []int{1, 1, 1, 50, 1, 1}
	lats := []float64{5, 5, 5, 80, 5, 5}

	capLog := &CaptureLog{Path: "test", Symbol: "BTCUSDT"}
	for bucket := range counts {
		base := int64(bucket * 1000)
		for j := 0; j < counts[bucket]; j++ {
			capLog.Records = append(capLog.Records, makeRecord(base+int64(j), lats[bucket]))
		}
	}

	res, err := Analyze(capLog, 1000)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(res.Buckets) != 6 {
		t.Fatalf("expected 6 buckets, got %d", len(res.Buckets))
	}

	burst := res.Buckets[3]
	if !burst.HighLatency || !burst.HighCount {
		t.Errorf("burst bucket flags = lat:%v count:%v, want both set", burst.HighLatency, burst.HighCount)
	}
	if burst.Flag() != "HIGH_LAT+HIGH_COUNT" {
		t.Errorf("burst flag = %q", burst.Flag())
	}
	for i, b := range res.Buckets {
		if i != 3 && (b.HighLatency || b.HighCount) {
			t.Errorf("bucket %d unexpectedly flagged: %+v", i, b)
		}
	}

	if res.Correlation <= 0.6 {
		t.Errorf("correlation = %v, want > 0.6", res.Correlation)
	}
	if res.CorrelationLabel() != "strong" {
		t.Errorf("correlation label = %q, want strong", res.CorrelationLabel())
	}
}

func TestPearsonZeroVariance(t *testing.T) {
	if r := pearson([]float64{1, 1, 1}, []float64{2, 5, 9}); r != 0 {
		t.Errorf("zero-variance series should give r=0, got %v", r)
	}
	if r := pearson([]float64{1, 2}, []float64{1, 2, 3}); r != 0 {
		t.Errorf("mismatched series should give r=0, got %v", r)
	}
}

func TestAnalyzeRejectsEmptyLog(t *testing.T) {
	if _, err := Analyze(&CaptureLog{Path: "empty"}, 1000); err == nil {
		t.Fatal("expected error for empty log")
	}
	if _, err := Analyze(&CaptureLog{Path: "x", Records: []Record{makeRecord(0, 1)}}, 0); err == nil {
		t.Fatal("expected error for zero bucket width")
	}
}
