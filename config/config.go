package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Latencyflow LatencyflowConfig `yaml:"latencyflow"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Funding     FundingConfig     `yaml:"funding"`
	Settlement  SettlementConfig  `yaml:"settlement"`
	Capture     CaptureConfig     `yaml:"capture"`
	Precision   PrecisionConfig   `yaml:"precision"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Offset      OffsetConfig      `yaml:"offset"`
	Source      SourceConfig      `yaml:"source"`
	Status      StatusConfig      `yaml:"status"`
	Storage     StorageConfig     `yaml:"storage"`
}

type LatencyflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatchEnabled bool   `yaml:"cloudwatch_enabled"`
	Region            string `yaml:"region"`
	Namespace         string `yaml:"namespace"`
	Dashboard         string `yaml:"dashboard"`
}

// FundingConfig controls which symbols qualify for capture and how the
// per-symbol funding interval cache is refreshed.
type FundingConfig struct {
	Threshold       float64 `yaml:"threshold"`
	MinSnapshot     int     `yaml:"min_snapshot"`
	RefreshMinute   int     `yaml:"refresh_minute"`
	FetchesPerSec   float64 `yaml:"fetches_per_sec"`
	FetchBurst      int     `yaml:"fetch_burst"`
	UpdateBuffer    int     `yaml:"update_buffer"`
	RequestBuffer   int     `yaml:"request_buffer"`
	PrintEveryTicks bool    `yaml:"print_every_ticks"`
}

type SettlementConfig struct {
	TriggerMinute   int           `yaml:"trigger_minute"`
	TriggerSecond   int           `yaml:"trigger_second"`
	IdleTick        time.Duration `yaml:"idle_tick"`
	SessionDuration time.Duration `yaml:"session_duration"`
}

type CaptureConfig struct {
	LogDir    string `yaml:"log_dir"`
	QueueSize int    `yaml:"queue_size"`
	Console   bool   `yaml:"console"`
}

type PrecisionConfig struct {
	Symbol      string        `yaml:"symbol"`
	Quantity    string        `yaml:"quantity"`
	TargetHour  int           `yaml:"target_hour"`
	TargetMin   int           `yaml:"target_minute"`
	TargetSec   int           `yaml:"target_second"`
	TargetMilli int           `yaml:"target_millisecond"`
	Margin      time.Duration `yaml:"margin"`
	SpinLimit   time.Duration `yaml:"spin_limit"`
	LogDir      string        `yaml:"log_dir"`
}

type AnalysisConfig struct {
	BucketWidthMs  int64  `yaml:"bucket_width_ms"`
	PlotDir        string `yaml:"plot_dir"`
	ParquetEnabled bool   `yaml:"parquet_enabled"`
}

type OffsetConfig struct {
	Samples int           `yaml:"samples"`
	Pause   time.Duration `yaml:"pause"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
	Bybit   BybitSourceConfig   `yaml:"bybit"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type BinanceSourceConfig struct {
	RestURL        string               `yaml:"rest_url"`
	StreamURL      string               `yaml:"stream_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type BybitSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	IntervalMs     int                  `yaml:"interval_ms"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// yaml.v3 has no native handling for duration strings like "200ms", so the
// structs carrying time.Duration fields decode through a string mirror.
// Seeding the mirror from the current value keeps defaults for absent keys.

func (s *SettlementConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		TriggerMinute   int    `yaml:"trigger_minute"`
		TriggerSecond   int    `yaml:"trigger_second"`
		IdleTick        string `yaml:"idle_tick"`
		SessionDuration string `yaml:"session_duration"`
	}{s.TriggerMinute, s.TriggerSecond, s.IdleTick.String(), s.SessionDuration.String()}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	tick, err := time.ParseDuration(raw.IdleTick)
	if err != nil {
		return fmt.Errorf("settlement.idle_tick: %w", err)
	}
	dur, err := time.ParseDuration(raw.SessionDuration)
	if err != nil {
		return fmt.Errorf("settlement.session_duration: %w", err)
	}
	s.TriggerMinute = raw.TriggerMinute
	s.TriggerSecond = raw.TriggerSecond
	s.IdleTick = tick
	s.SessionDuration = dur
	return nil
}

func (p *PrecisionConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Symbol      string `yaml:"symbol"`
		Quantity    string `yaml:"quantity"`
		TargetHour  int    `yaml:"target_hour"`
		TargetMin   int    `yaml:"target_minute"`
		TargetSec   int    `yaml:"target_second"`
		TargetMilli int    `yaml:"target_millisecond"`
		Margin      string `yaml:"margin"`
		SpinLimit   string `yaml:"spin_limit"`
		LogDir      string `yaml:"log_dir"`
	}{p.Symbol, p.Quantity, p.TargetHour, p.TargetMin, p.TargetSec, p.TargetMilli,
		p.Margin.String(), p.SpinLimit.String(), p.LogDir}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	margin, err := time.ParseDuration(raw.Margin)
	if err != nil {
		return fmt.Errorf("precision.margin: %w", err)
	}
	spin, err := time.ParseDuration(raw.SpinLimit)
	if err != nil {
		return fmt.Errorf("precision.spin_limit: %w", err)
	}
	p.Symbol = raw.Symbol
	p.Quantity = raw.Quantity
	p.TargetHour = raw.TargetHour
	p.TargetMin = raw.TargetMin
	p.TargetSec = raw.TargetSec
	p.TargetMilli = raw.TargetMilli
	p.Margin = margin
	p.SpinLimit = spin
	p.LogDir = raw.LogDir
	return nil
}

func (o *OffsetConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Samples int    `yaml:"samples"`
		Pause   string `yaml:"pause"`
	}{o.Samples, o.Pause.String()}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	pause, err := time.ParseDuration(raw.Pause)
	if err != nil {
		return fmt.Errorf("offset.pause: %w", err)
	}
	o.Samples = raw.Samples
	o.Pause = pause
	return nil
}

func (c *ConnectionPoolConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		MaxConnsPerHost int    `yaml:"max_conns_per_host"`
		IdleConnTimeout string `yaml:"idle_conn_timeout"`
	}{c.MaxIdleConns, c.MaxConnsPerHost, c.IdleConnTimeout.String()}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	timeout, err := time.ParseDuration(raw.IdleConnTimeout)
	if err != nil {
		return fmt.Errorf("connection_pool.idle_conn_timeout: %w", err)
	}
	c.MaxIdleConns = raw.MaxIdleConns
	c.MaxConnsPerHost = raw.MaxConnsPerHost
	c.IdleConnTimeout = timeout
	return nil
}

func (b *BinanceSourceConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		RestURL        string               `yaml:"rest_url"`
		StreamURL      string               `yaml:"stream_url"`
		Timeout        string               `yaml:"timeout"`
		ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	}{b.RestURL, b.StreamURL, b.Timeout.String(), b.ConnectionPool}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	timeout, err := time.ParseDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("source.binance.timeout: %w", err)
	}
	b.RestURL = raw.RestURL
	b.StreamURL = raw.StreamURL
	b.Timeout = timeout
	b.ConnectionPool = raw.ConnectionPool
	return nil
}

func (b *BybitSourceConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Enabled        bool                 `yaml:"enabled"`
		URL            string               `yaml:"url"`
		IntervalMs     int                  `yaml:"interval_ms"`
		Timeout        string               `yaml:"timeout"`
		ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	}{b.Enabled, b.URL, b.IntervalMs, b.Timeout.String(), b.ConnectionPool}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	timeout, err := time.ParseDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("source.bybit.timeout: %w", err)
	}
	b.Enabled = raw.Enabled
	b.URL = raw.URL
	b.IntervalMs = raw.IntervalMs
	b.Timeout = timeout
	b.ConnectionPool = raw.ConnectionPool
	return nil
}

// TargetTime returns the configured precision target as an offset from
// midnight UTC.
func (p PrecisionConfig) TargetTime() time.Duration {
	return time.Duration(p.TargetHour)*time.Hour +
		time.Duration(p.TargetMin)*time.Minute +
		time.Duration(p.TargetSec)*time.Second +
		time.Duration(p.TargetMilli)*time.Millisecond
}

// DefaultConfigPath is the configuration file used when no explicit path is
// given on the command line.
const DefaultConfigPath = "config/config.yml"

var configEnvPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	if resolved := resolveEnvSpecificPath(path, DefaultConfigPath, configEnvPaths); resolved != path {
		if _, err := os.Stat(resolved); err == nil {
			path = resolved
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Funding: FundingConfig{
			Threshold:     -0.003,
			MinSnapshot:   100,
			RefreshMinute: 50,
			FetchesPerSec: 2,
			FetchBurst:    1,
			UpdateBuffer:  256,
			RequestBuffer: 64,
		},
		Settlement: SettlementConfig{
			TriggerMinute:   59,
			TriggerSecond:   30,
			IdleTick:        200 * time.Millisecond,
			SessionDuration: 60 * time.Second,
		},
		Capture: CaptureConfig{
			LogDir:    "Logs",
			QueueSize: 4096,
			Console:   true,
		},
		Precision: PrecisionConfig{
			Margin:    50 * time.Millisecond,
			SpinLimit: 50 * time.Millisecond,
			LogDir:    "Logs",
		},
		Analysis: AnalysisConfig{
			BucketWidthMs: 1000,
			PlotDir:       "Plots",
		},
		Offset: OffsetConfig{
			Samples: 20,
			Pause:   50 * time.Millisecond,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Latencyflow.Name == "" {
		return fmt.Errorf("latencyflow.name is required")
	}

	if cfg.Latencyflow.Version == "" {
		return fmt.Errorf("latencyflow.version is required")
	}

	if cfg.Funding.Threshold >= 0 {
		return fmt.Errorf("funding.threshold must be negative")
	}

	if cfg.Funding.RefreshMinute < 0 || cfg.Funding.RefreshMinute > 59 {
		return fmt.Errorf("funding.refresh_minute must be within [0,59]")
	}

	if cfg.Settlement.TriggerMinute < 0 || cfg.Settlement.TriggerMinute > 59 {
		return fmt.Errorf("settlement.trigger_minute must be within [0,59]")
	}
	if cfg.Settlement.TriggerSecond < 0 || cfg.Settlement.TriggerSecond > 59 {
		return fmt.Errorf("settlement.trigger_second must be within [0,59]")
	}
	if cfg.Settlement.SessionDuration <= 0 {
		return fmt.Errorf("settlement.session_duration must be greater than 0")
	}
	// The poll must observe the trigger second; anything coarser risks
	// skipping it entirely.
	if cfg.Settlement.IdleTick <= 0 || cfg.Settlement.IdleTick > 250*time.Millisecond {
		return fmt.Errorf("settlement.idle_tick must be within (0,250ms]")
	}

	if cfg.Capture.QueueSize <= 0 {
		return fmt.Errorf("capture.queue_size must be greater than 0")
	}
	if cfg.Capture.LogDir == "" {
		return fmt.Errorf("capture.log_dir is required")
	}

	if cfg.Precision.Margin <= 0 {
		return fmt.Errorf("precision.margin must be greater than 0")
	}
	// The spin phase blocks a thread; anything beyond ~50ms is a config error.
	if cfg.Precision.SpinLimit <= 0 || cfg.Precision.SpinLimit > 50*time.Millisecond {
		return fmt.Errorf("precision.spin_limit must be within (0,50ms]")
	}

	if cfg.Analysis.BucketWidthMs <= 0 {
		return fmt.Errorf("analysis.bucket_width_ms must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
