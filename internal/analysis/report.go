package analysis

import (
	"fmt"
	"strings"
	"time"
)

// RenderReport formats the analysis result as a console table with the
// max-latency record, the per-bucket breakdown and the correlation verdict.
func RenderReport(res *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Latency analysis for %s (funding_rate=%g, interval=%dh)\n", res.Symbol, res.FundingRate, res.IntervalH)
	fmt.Fprintf(&b, "Records: %d parsed, %d skipped\n", res.Records, res.Skipped)
	fmt.Fprintf(&b, "Max latency: %.3f ms at %s (record #%d)\n",
		res.MaxLatencyMs, res.MaxLatencyAt.Format("15:04:05.000"), res.MaxLatencyIndex)
	fmt.Fprintf(&b, "Baseline (median bucket mean): %.3f ms, mean bucket count: %.1f\n\n", res.BaselineMs, res.MeanBucketCount)

	fmt.Fprintf(&b, "%-23s %8s %12s %12s  %s\n", "bucket", "count", "max (ms)", "mean (ms)", "flag")
	for _, bucket := range res.Buckets {
		start := time.UnixMilli(bucket.StartMs).UTC().Format("2006-01-02 15:04:05.000")
		fmt.Fprintf(&b, "%-23s %8d %12.3f %12.3f  %s\n",
			start, bucket.Count, bucket.MaxLatencyMs, bucket.MeanLatencyMs, bucket.Flag())
	}

	fmt.Fprintf(&b, "\nRate/latency correlation: r=%.4f (%s)\n", res.Correlation, res.CorrelationLabel())
	return b.String()
}
