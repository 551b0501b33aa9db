package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"latencyflow/config"
	"latencyflow/internal/capture"
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
	symbol := flag.String("symbol", "", "Override the configured symbol")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if *symbol != "" {
		cfg.Precision.Symbol = *symbol
	}
	if cfg.Precision.Symbol == "" {
		log.Error("precision.symbol is required")
		os.Exit(1)
	}

	// An unsigned client can sample the clock but cannot fire orders. Fail
	// fast in production-like environments instead of failing at the target.
	env := config.AppEnvironment()
	if config.IsProductionLike(env) && os.Getenv("BINANCE_API_KEY") == "" {
		log.WithFields(logger.Fields{"environment": env}).Error("BINANCE_API_KEY is required in this environment")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	if cfg.Metrics.CloudWatchEnabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := binance.NewClient(cfg)

	// Estimate clock skew before arming so the fire lag can be read against
	// the exchange clock.
	sampler := sched.NewOffsetSampler(cfg.Offset, client)
	if _, err := sampler.Sample(ctx); err != nil {
		log.WithError(err).Warn("clock offset estimation failed")
	}

	// Execution reports arrive on the user-data stream; keeping it open
	// gives the fill timestamp for the timed order. Events land in their own
	// capture log so fills can be read against the fire log afterwards.
	userLogPath := filepath.Join(cfg.Precision.LogDir,
		fmt.Sprintf("userdata_%s_%s.txt", cfg.Precision.Symbol, time.Now().UTC().Format("20060102_150405")))
	userLog := capture.NewLogger(userLogPath, cfg.Capture.QueueSize, cfg.Capture.Console)
	if err := userLog.Start(); err != nil {
		log.WithError(err).Error("failed to open user data capture log")
		os.Exit(1)
	}
	defer userLog.Stop()

	if err := client.SubscribeUserData(ctx, func(raw []byte) {
		userLog.Info("User data event: " + string(raw))
	}); err != nil {
		log.WithError(err).Warn("user data stream unavailable")
	}

	scheduler := sched.NewPrecisionScheduler(cfg.Precision, client)
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start precision scheduler")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	cancel()
	scheduler.Stop()
	log.Info("precisionfire stopped")
}
