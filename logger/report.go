package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type queueStat struct {
	messages int64
	bytes    int64
}

var (
	errorsCapture   int64
	errorsScheduler int64
	warnsCapture    int64
	warnsScheduler  int64
	fundingUpdates  int64
	intervalFetches int64
	recordsCaptured int64
	recordsDropped  int64
	sessionsStarted int64
	spinOverruns    int64
	ordersFired     int64
	s3Uploads       int64
	queues          sync.Map // map[string]*queueStat
)

func recordWarn(component string) {
	if strings.Contains(component, "capture") {
		atomic.AddInt64(&warnsCapture, 1)
	} else if strings.Contains(component, "sched") {
		atomic.AddInt64(&warnsScheduler, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "capture") {
		atomic.AddInt64(&errorsCapture, 1)
	} else if strings.Contains(component, "sched") {
		atomic.AddInt64(&errorsScheduler, 1)
	}
}

func IncrementFundingUpdate(batch int) {
	atomic.AddInt64(&fundingUpdates, int64(batch))
	recordQueue("funding_ws", batch)
}

func IncrementIntervalFetch() {
	atomic.AddInt64(&intervalFetches, 1)
}

func IncrementRecordCaptured(size int) {
	atomic.AddInt64(&recordsCaptured, 1)
	recordQueue("capture_queue", size)
}

func IncrementRecordDropped() {
	atomic.AddInt64(&recordsDropped, 1)
}

func IncrementSessionStarted() {
	atomic.AddInt64(&sessionsStarted, 1)
}

func IncrementSpinOverrun() {
	atomic.AddInt64(&spinOverruns, 1)
}

func IncrementOrderFired() {
	atomic.AddInt64(&ordersFired, 1)
}

func IncrementS3Upload(size int64) {
	atomic.AddInt64(&s3Uploads, 1)
	recordQueue("s3_upload", int(size))
}

// RecordsDropped exposes the drop counter so shutdown paths can report it.
func RecordsDropped() int64 {
	return atomic.LoadInt64(&recordsDropped)
}

func recordQueue(name string, size int) {
	v, _ := queues.LoadOrStore(name, &queueStat{})
	qs := v.(*queueStat)
	atomic.AddInt64(&qs.messages, 1)
	atomic.AddInt64(&qs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and capture statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	queueData := map[string]map[string]int64{}
	queues.Range(func(k, v any) bool {
		name := k.(string)
		qs := v.(*queueStat)
		queueData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&qs.messages),
			"bytes":    atomic.LoadInt64(&qs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors_capture":   atomic.LoadInt64(&errorsCapture),
		"errors_scheduler": atomic.LoadInt64(&errorsScheduler),
		"warns_capture":    atomic.LoadInt64(&warnsCapture),
		"warns_scheduler":  atomic.LoadInt64(&warnsScheduler),
		"funding_updates":  atomic.LoadInt64(&fundingUpdates),
		"interval_fetches": atomic.LoadInt64(&intervalFetches),
		"records_captured": atomic.LoadInt64(&recordsCaptured),
		"records_dropped":  atomic.LoadInt64(&recordsDropped),
		"sessions_started": atomic.LoadInt64(&sessionsStarted),
		"spin_overruns":    atomic.LoadInt64(&spinOverruns),
		"orders_fired":     atomic.LoadInt64(&ordersFired),
		"s3_uploads":       atomic.LoadInt64(&s3Uploads),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        memMB,
		"queues":           queueData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsCapture"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_capture"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsScheduler"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_scheduler"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FundingUpdates"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["funding_updates"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("IntervalFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["interval_fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RecordsCaptured"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records_captured"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RecordsDropped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["records_dropped"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SessionsStarted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["sessions_started"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SpinOverruns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["spin_overruns"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OrdersFired"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_fired"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("S3Uploads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_uploads"].(int64)))},
	)

	for name, stats := range queueData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("QueueMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Queue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("QueueBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Queue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
