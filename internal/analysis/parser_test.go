package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLog(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log_BTCUSDT_20260219_155930_fr-0p00410000.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	return path
}

func TestParseFileReadsHeaderAndRecords(t *testing.T) {
	path := writeLog(t, []string{
		"2026-02-19 15:59:30,001 - INFO - Starting latency logging for BTCUSDT | funding_rate=-0.0041 | interval=8h | duration=60s",
		"2026-02-19 15:59:30,105 - INFO - Stream message: e=bookTicker u=100 s=BTCUSDT b=42000.10 B=1.5 a=42000.20 A=2.0 T=1755705570050 E=1755705570060",
		"2026-02-19 15:59:30,210 - INFO - Agg trade: e=aggTrade E=1755705570160 s=BTCUSDT p=42000.15 q=0.250 T=1755705570150",
		"2026-02-19 15:59:31,000 - INFO - Session ended.",
	})

	capLog, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if capLog.Symbol != "BTCUSDT" || capLog.IntervalH != 8 {
		t.Errorf("header not parsed: %+v", capLog)
	}
	if capLog.FundingRate != -0.0041 {
		t.Errorf("funding rate = %v, want -0.0041", capLog.FundingRate)
	}
	if len(capLog.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(capLog.Records))
	}

	book := capLog.Records[0]
	if book.Kind != KindBook || book.EventMs != 1755705570060 || book.Bid != 42000.10 || book.Ask != 42000.20 {
		t.Errorf("book record wrong: %+v", book)
	}
	wantArrival := time.Date(2026, 2, 19, 15, 59, 30, 105*1e6, time.Local)
	if !book.Arrival.Equal(wantArrival) {
		t.Errorf("arrival = %v, want %v", book.Arrival, wantArrival)
	}

	trade := capLog.Records[1]
	if trade.Kind != KindTrade || trade.EventMs != 1755705570150 || trade.Qty != 0.250 {
		t.Errorf("trade record wrong: %+v", trade)
	}

	// "Session ended." is not a record line.
	if capLog.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", capLog.Skipped)
	}
}

func TestParseFileSkipsMalformedLines(t *testing.T) {
	path := writeLog(t, []string{
		"garbage",
		"2026-02-19 15:59:30,105 - INFO - Stream message: e=depthUpdate E=1 b=1 a=1",     // wrong event type
		"2026-02-19 15:59:30,106 - INFO - Stream message: e=bookTicker b=1 a=1",          // missing E
		"2026-02-19 15:59:30,107 - INFO - Stream message: e=bookTicker E=notanum b=1 a=1", // bad numeric
		"2026-02-19 15:59:30,108 - INFO - Agg trade: e=aggTrade T=5 p=1",                 // missing q
		"2026-02-19 15:59:30,109 - INFO - Stream message: e=bookTicker u=1 s=X b=1.0 B=1 a=2.0 A=1 T=4 E=5",
	})

	capLog, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if len(capLog.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(capLog.Records))
	}
	if capLog.Skipped != 5 {
		t.Errorf("skipped = %d, want 5", capLog.Skipped)
	}
}

func TestEndToEndOutlierReport(t *testing.T) {
	// Five book lines spaced 100ms apart; line 3 carries an outlier latency.
	baseArrival := time.Date(2026, 2, 19, 15, 59, 30, 0, time.Local)
	baseEvent := baseArrival.UnixMilli()
	lats := []int64{5, 5, 200, 5, 5}

	var lines []string
	for i, lat := range lats {
		arrival := baseArrival.Add(time.Duration(i*100) * time.Millisecond)
		event := baseEvent + int64(i*100) - lat
		lines = append(lines, fmt.Sprintf("%s,%03d - INFO - Stream message: e=bookTicker u=%d s=BTCUSDT b=42000.10 B=1 a=42000.20 A=1 T=%d E=%d",
			arrival.Format("2006-01-02 15:04:05"), arrival.Nanosecond()/1e6, i, event, event))
	}
	path := writeLog(t, lines)

	capLog, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	res, err := Analyze(capLog, 10)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if res.MaxLatencyIndex != 2 {
		t.Errorf("max latency record = %d, want 2", res.MaxLatencyIndex)
	}
	if res.MaxLatencyMs < 199 || res.MaxLatencyMs > 201 {
		t.Errorf("max latency = %v, want ~200", res.MaxLatencyMs)
	}
	if len(res.Buckets) != 5 {
		t.Errorf("expected 5 buckets at 10ms width, got %d", len(res.Buckets))
	}

	report := RenderReport(res)
	if report == "" {
		t.Fatal("empty report")
	}
}

func TestRenderChartWritesDeterministicFile(t *testing.T) {
	capLog := &CaptureLog{Path: "Logs/log_BTCUSDT_20260219_155930_fr-0p00410000.txt", Symbol: "BTCUSDT", IntervalH: 8}
	for i := 0; i < 10; i++ {
		capLog.Records = append(capLog.Records, makeRecord(1755705570000+int64(i*100), float64(5+i)))
	}
	res, err := Analyze(capLog, 1000)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	plotDir := t.TempDir()
	path, err := RenderChart(capLog, res, plotDir)
	if err != nil {
		t.Fatalf("RenderChart failed: %v", err)
	}
	want := filepath.Join(plotDir, "log_BTCUSDT_20260219_155930_fr-0p00410000.html")
	if path != want {
		t.Errorf("chart path = %s, want %s", path, want)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("chart not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("chart file is empty")
	}
}

func TestExportParquetProducesData(t *testing.T) {
	capLog := &CaptureLog{Path: "test", Symbol: "BTCUSDT"}
	for i := 0; i < 20; i++ {
		capLog.Records = append(capLog.Records, makeRecord(int64(i*250), float64(i)))
	}
	res, err := Analyze(capLog, 1000)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	data, err := ExportParquet(res)
	if err != nil {
		t.Fatalf("ExportParquet failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty parquet payload")
	}
	// PAR1 magic at both ends of the file.
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Errorf("payload is not a parquet file")
	}
}
