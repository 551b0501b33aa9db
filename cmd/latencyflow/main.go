package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"latencyflow/config"
	"latencyflow/internal/analysis"
	"latencyflow/internal/archive"
	"latencyflow/internal/capture"
	"latencyflow/internal/exchange/binance"
	"latencyflow/internal/exchange/bybit"
	"latencyflow/internal/funding"
	"latencyflow/internal/sched"
	"latencyflow/internal/status"
	"latencyflow/logger"
	"latencyflow/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Latencyflow.Name,
		"version":     cfg.Latencyflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting latencyflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatchEnabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	binanceClient := binance.NewClient(cfg)

	updates, err := binanceClient.SubscribeFunding(ctx)
	if err != nil {
		log.WithError(err).Error("failed to subscribe funding feed")
		os.Exit(1)
	}

	if cfg.Source.Bybit.Enabled {
		bybitClient := bybit.NewClient(cfg)
		bybitUpdates, err := bybitClient.SubscribeFunding(ctx)
		if err != nil {
			log.WithError(err).Warn("bybit funding feed unavailable, continuing with binance only")
		} else {
			updates = mergeFeeds(ctx, updates, bybitUpdates)
		}
	}

	tracker := funding.NewTracker()
	fetcher := funding.NewIntervalFetcher(cfg, tracker, binanceClient)
	monitor := funding.NewMonitor(cfg, tracker, fetcher, updates)
	registry := capture.NewRegistry()

	var uploader *archive.Uploader
	if cfg.Storage.S3.Enabled {
		uploader, err = archive.NewUploader(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create S3 uploader")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; capture logs stay local")
	}

	scheduler := sched.NewSettlementScheduler(
		cfg.Settlement, cfg.Capture, cfg.Funding.Threshold,
		tracker, binanceClient, registry,
		sessionPipeline(ctx, cfg, uploader),
	)

	if err := fetcher.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start interval fetcher")
		os.Exit(1)
	}
	if err := monitor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start funding monitor")
		os.Exit(1)
	}
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start settlement scheduler")
		os.Exit(1)
	}

	statusServer := status.NewServer(cfg.Status, cfg.Latencyflow.Name, cfg.Latencyflow.Version, cfg.Funding.Threshold, tracker, registry)
	if statusServer != nil {
		go func() {
			if err := statusServer.Run(ctx); err != nil {
				log.WithError(err).Warn("status server exited")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping settlement scheduler")
	scheduler.Stop()

	log.Info("stopping funding monitor")
	monitor.Stop()

	log.Info("stopping interval fetcher")
	fetcher.Stop()

	log.Info("latencyflow stopped")
}

// mergeFeeds fans two funding feeds into one channel for the monitor.
func mergeFeeds(ctx context.Context, a, b <-chan []models.FundingUpdate) <-chan []models.FundingUpdate {
	out := make(chan []models.FundingUpdate, 256)
	forward := func(in <-chan []models.FundingUpdate) {
		for batch := range in {
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
	go forward(a)
	go forward(b)
	return out
}

// sessionPipeline analyzes every finished capture session and archives the
// artifacts when S3 is enabled. Failures are logged and never propagate back
// into the scheduler.
func sessionPipeline(ctx context.Context, cfg *config.Config, uploader *archive.Uploader) func(models.SessionMeta) {
	log := logger.GetLogger().WithComponent("session_pipeline")

	return func(meta models.SessionMeta) {
		capLog, err := analysis.ParseFile(meta.LogPath)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"path": meta.LogPath}).Error("failed to parse capture log")
			return
		}

		res, err := analysis.Analyze(capLog, cfg.Analysis.BucketWidthMs)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"path": meta.LogPath}).Warn("analysis skipped")
			return
		}

		os.Stdout.WriteString(analysis.RenderReport(res))

		chartPath, err := analysis.RenderChart(capLog, res, cfg.Analysis.PlotDir)
		if err != nil {
			log.WithError(err).Warn("failed to render chart")
		}

		parquetPath := ""
		if cfg.Analysis.ParquetEnabled {
			data, err := analysis.ExportParquet(res)
			if err != nil {
				log.WithError(err).Warn("failed to export bucket parquet")
			} else {
				name := strings.TrimSuffix(filepath.Base(meta.LogPath), ".txt") + "_buckets.parquet"
				parquetPath = filepath.Join(cfg.Analysis.PlotDir, name)
				if err := os.MkdirAll(cfg.Analysis.PlotDir, 0o755); err != nil {
					log.WithError(err).Warn("failed to create plot dir")
					parquetPath = ""
				} else if err := os.WriteFile(parquetPath, data, 0o644); err != nil {
					log.WithError(err).Warn("failed to write bucket parquet")
					parquetPath = ""
				}
			}
		}

		if uploader == nil {
			return
		}

		for _, path := range []string{meta.LogPath, chartPath, parquetPath} {
			if path == "" {
				continue
			}
			if _, err := uploader.UploadFile(ctx, meta.Symbol, path); err != nil {
				log.WithError(err).WithFields(logger.Fields{"path": path}).Warn("failed to archive artifact")
			}
		}
	}
}
