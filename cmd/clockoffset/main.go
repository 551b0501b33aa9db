package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"latencyflow/config"
	"latencyflow/internal/exchange/binance"
	"latencyflow/internal/sched"
	"latencyflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	samples := flag.Int("samples", 0, "Override the configured sample count")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if *samples > 0 {
		cfg.Offset.Samples = *samples
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sampler := sched.NewOffsetSampler(cfg.Offset, binance.NewClient(cfg))
	res, err := sampler.Sample(ctx)
	if err != nil {
		log.WithError(err).Error("offset sampling failed")
		os.Exit(1)
	}

	fmt.Printf("%-8s %12s %12s\n", "sample", "offset (ms)", "rtt (ms)")
	minRTT, maxRTT := res.Samples[0].RTTMs, res.Samples[0].RTTMs
	var sumRTT, sumOffset float64
	for i, s := range res.Samples {
		fmt.Printf("%-8d %12.3f %12.3f\n", i, s.OffsetMs, s.RTTMs)
		if s.RTTMs < minRTT {
			minRTT = s.RTTMs
		}
		if s.RTTMs > maxRTT {
			maxRTT = s.RTTMs
		}
		sumRTT += s.RTTMs
		sumOffset += s.OffsetMs
	}
	n := float64(len(res.Samples))

	fmt.Printf("\nrtt min/avg/max: %.3f / %.3f / %.3f ms over %d samples\n",
		minRTT, sumRTT/n, maxRTT, len(res.Samples))
	fmt.Printf("offset avg: %.3f ms\n", sumOffset/n)
	fmt.Printf("best (min rtt): offset=%.3f ms rtt=%.3f ms\n", res.Best.OffsetMs, res.Best.RTTMs)

	verdict := "local clock is behind the exchange"
	if res.Best.OffsetMs < 0 {
		verdict = "local clock is ahead of the exchange"
	}
	fmt.Printf("%s by %.3f ms\n", verdict, abs(res.Best.OffsetMs))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
