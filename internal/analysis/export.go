package analysis

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

type bucketParquetRecord struct {
	Symbol        string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	FundingRate   float64 `parquet:"name=funding_rate, type=DOUBLE"`
	BucketStart   int64   `parquet:"name=bucket_start, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Count         int32   `parquet:"name=count, type=INT32"`
	MaxLatencyMs  float64 `parquet:"name=max_latency_ms, type=DOUBLE"`
	MeanLatencyMs float64 `parquet:"name=mean_latency_ms, type=DOUBLE"`
	Flag          string  `parquet:"name=flag, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type bucketMemFile struct {
	buffer *bytes.Buffer
}

func newBucketMemFile() *bucketMemFile {
	return &bucketMemFile{buffer: &bytes.Buffer{}}
}

func (m *bucketMemFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *bucketMemFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *bucketMemFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *bucketMemFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *bucketMemFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *bucketMemFile) Close() error                              { return nil }
func (m *bucketMemFile) Bytes() []byte                             { return m.buffer.Bytes() }

// ExportParquet serializes the per-bucket table as an in-memory parquet
// file, ready for archival next to the raw capture log.
func ExportParquet(res *Result) ([]byte, error) {
	mem := newBucketMemFile()
	pw, err := writer.NewParquetWriter(mem, new(bucketParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, b := range res.Buckets {
		rec := bucketParquetRecord{
			Symbol:        res.Symbol,
			FundingRate:   res.FundingRate,
			BucketStart:   b.StartMs,
			Count:         int32(b.Count),
			MaxLatencyMs:  b.MaxLatencyMs,
			MeanLatencyMs: b.MeanLatencyMs,
			Flag:          b.Flag(),
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write bucket record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize bucket parquet: %w", err)
	}
	return mem.Bytes(), nil
}
