package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `latencyflow:
  name: "TestApp"
  version: "1.0"
funding:
  threshold: -0.003
settlement:
  session_duration: 60s
capture:
  log_dir: Logs
  queue_size: 16
storage:
  s3:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Latencyflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Latencyflow.Name)
	}
	if cfg.Capture.QueueSize != 16 {
		t.Errorf("unexpected queue size: %d", cfg.Capture.QueueSize)
	}
	// Defaults survive partial configs.
	if cfg.Settlement.TriggerMinute != 59 || cfg.Settlement.TriggerSecond != 30 {
		t.Errorf("unexpected trigger defaults: %d:%d", cfg.Settlement.TriggerMinute, cfg.Settlement.TriggerSecond)
	}
	if cfg.Analysis.BucketWidthMs != 1000 {
		t.Errorf("unexpected bucket width: %d", cfg.Analysis.BucketWidthMs)
	}
}

func TestValidateConfigRejectsPositiveThreshold(t *testing.T) {
	cfg := &Config{
		Latencyflow: LatencyflowConfig{Name: "x", Version: "1"},
		Funding:     FundingConfig{Threshold: 0.001, RefreshMinute: 50},
		Settlement: SettlementConfig{
			TriggerMinute:   59,
			TriggerSecond:   30,
			IdleTick:        time.Millisecond,
			SessionDuration: time.Second,
		},
		Capture:   CaptureConfig{LogDir: "Logs", QueueSize: 1},
		Precision: PrecisionConfig{Margin: time.Millisecond, SpinLimit: time.Millisecond},
		Analysis:  AnalysisConfig{BucketWidthMs: 10},
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for positive threshold")
	}
}

func TestValidateConfigRejectsLongSpin(t *testing.T) {
	cfg := &Config{
		Latencyflow: LatencyflowConfig{Name: "x", Version: "1"},
		Funding:     FundingConfig{Threshold: -0.003, RefreshMinute: 50},
		Settlement: SettlementConfig{
			TriggerMinute:   59,
			TriggerSecond:   30,
			IdleTick:        time.Millisecond,
			SessionDuration: time.Second,
		},
		Capture:   CaptureConfig{LogDir: "Logs", QueueSize: 1},
		Precision: PrecisionConfig{Margin: 50 * time.Millisecond, SpinLimit: 200 * time.Millisecond},
		Analysis:  AnalysisConfig{BucketWidthMs: 10},
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for spin limit above 50ms")
	}
}

func TestPrecisionTargetTime(t *testing.T) {
	p := PrecisionConfig{TargetHour: 1, TargetMin: 0, TargetSec: 0, TargetMilli: 200}
	want := time.Hour + 200*time.Millisecond
	if got := p.TargetTime(); got != want {
		t.Fatalf("TargetTime() = %v, want %v", got, want)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
