package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"latencyflow/logger"
)

// RenderChart writes an HTML chart aligning latency, message rate and price
// over the session. The filename derives from the capture log's base name,
// so re-running analysis on the same log overwrites its chart.
func RenderChart(capLog *CaptureLog, res *Result, plotDir string) (string, error) {
	if err := os.MkdirAll(plotDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plot dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(capLog.Path), filepath.Ext(capLog.Path))
	path := filepath.Join(plotDir, base+".html")

	labels := make([]string, len(res.Buckets))
	latData := make([]opts.LineData, len(res.Buckets))
	countData := make([]opts.LineData, len(res.Buckets))
	for i, b := range res.Buckets {
		labels[i] = time.UnixMilli(b.StartMs).UTC().Format("15:04:05")
		latData[i] = opts.LineData{Value: b.MeanLatencyMs}
		countData[i] = opts.LineData{Value: b.Count}
	}

	latency := charts.NewLine()
	latency.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title: fmt.Sprintf("%s latency vs message rate", res.Symbol),
		Subtitle: fmt.Sprintf("max %.1f ms at %s, r=%.3f (%s)",
			res.MaxLatencyMs, res.MaxLatencyAt.Format("15:04:05.000"), res.Correlation, res.CorrelationLabel()),
	}))
	latency.SetXAxis(labels).
		AddSeries("mean latency (ms)", latData).
		AddSeries("messages per bucket", countData)

	page := components.NewPage()
	page.AddCharts(latency)

	if price := priceChart(capLog, res); price != nil {
		page.AddCharts(price)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}

	logger.GetLogger().WithComponent("analysis_chart").WithFields(logger.Fields{"path": path}).Info("chart written")
	return path, nil
}

// priceChart plots best bid over event time with the settlement boundary in
// the subtitle. Sessions with no book records get no price chart.
func priceChart(capLog *CaptureLog, res *Result) *charts.Line {
	var labels []string
	var bids []opts.LineData
	for _, rec := range capLog.Records {
		if rec.Kind != KindBook {
			continue
		}
		labels = append(labels, time.UnixMilli(rec.EventMs).UTC().Format("15:04:05.000"))
		bids = append(bids, opts.LineData{Value: rec.Bid})
	}
	if len(bids) == 0 {
		return nil
	}

	subtitle := ""
	if res.IntervalH > 0 && len(capLog.Records) > 0 {
		boundary := time.UnixMilli(capLog.Records[0].EventMs).UTC().Truncate(time.Hour).Add(time.Hour)
		subtitle = fmt.Sprintf("settlement boundary %s UTC", boundary.Format("15:04:05"))
	}

	price := charts.NewLine()
	price.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title:    fmt.Sprintf("%s best bid", res.Symbol),
		Subtitle: subtitle,
	}))
	price.SetXAxis(labels).AddSeries("best bid", bids)
	return price
}
