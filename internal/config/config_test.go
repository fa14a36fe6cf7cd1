package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/types"
)

const validYAML = `
split:
  split_threshold: 50000
  max_leg_value: 50000
  max_splits: 4
  interval_min: 4
  min_lot: 100
  max_retries: 3

scheduler:
  tick_interval_min: 2
  session_start: "09:30"
  session_end: "14:55"
  timezone: "Asia/Shanghai"

broker:
  type: paper
  starting_cash: 1000000
  board_lot: 100
  rate_limit_per_second: 10

persistence:
  enabled: true
  type: sqlite
  path: test.db

metrics:
  enabled: true
  port: 9090
  path: /metrics

alerting:
  enabled: true
  channels:
    - type: console
  events:
    - leg_failed
    - leg_dropped

logging:
  level: info
  format: text
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if cfg.Split.MaxSplits != 4 {
		t.Errorf("max_splits = %d, want 4", cfg.Split.MaxSplits)
	}
	if cfg.Split.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Split.MaxRetries)
	}
	if cfg.TickInterval() != 2*time.Minute {
		t.Errorf("tick interval = %v, want 2m", cfg.TickInterval())
	}
	start, end := cfg.SessionWindow()
	if start != 9*60+30 || end != 14*60+55 {
		t.Errorf("session window = %d..%d, want 570..895", start, end)
	}
}

func TestLoadFromBytes_DefaultsFillGaps(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("broker:\n  type: paper\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if cfg.Split.SplitThreshold != 50000 {
		t.Errorf("split_threshold = %v, want default 50000", cfg.Split.SplitThreshold)
	}
	if cfg.Scheduler.SessionStart != "09:30" {
		t.Errorf("session_start = %q, want default 09:30", cfg.Scheduler.SessionStart)
	}
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative threshold", "split:\n  split_threshold: -1\n"},
		{"single split", "split:\n  max_splits: 1\n"},
		{"bad session time", "scheduler:\n  session_start: \"9am\"\n"},
		{"bad timezone", "scheduler:\n  timezone: \"Mars/Olympus\"\n"},
		{"unsupported broker", "broker:\n  type: ibkr\n"},
		{"sqlite without path", "persistence:\n  enabled: true\n  type: sqlite\n  path: \"\"\n"},
		{"telegram without token", "alerting:\n  channels:\n    - type: telegram\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("LoadFromBytes() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("SPLITFLOW_DB_PATH", "expanded.db")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "persistence:\n  enabled: true\n  type: sqlite\n  path: ${SPLITFLOW_DB_PATH}\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Persistence.Path != "expanded.db" {
		t.Errorf("path = %q, want expanded.db", cfg.Persistence.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestToSplitConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}

	sc := cfg.ToSplitConfig()
	if !sc.SplitThreshold.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("threshold = %s, want 50000", sc.SplitThreshold)
	}
	if sc.Interval != 4*time.Minute {
		t.Errorf("interval = %v, want 4m", sc.Interval)
	}
	if !sc.ForceMinTwo {
		t.Error("force_min_two should default to true")
	}
	if sc.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", sc.MaxRetries)
	}
}

func TestForceMinTwo_ExplicitFalse(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("split:\n  force_min_two: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ToSplitConfig().ForceMinTwo {
		t.Error("explicit false should be honored")
	}
}

func TestIsAlertEventEnabled(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.IsAlertEventEnabled("leg_failed") {
		t.Error("listed event should be enabled")
	}
	if cfg.IsAlertEventEnabled("scheduler_started") {
		t.Error("unlisted event should be disabled")
	}

	cfg.Alerting.Events = nil
	if !cfg.IsAlertEventEnabled("anything") {
		t.Error("empty event list should enable all")
	}

	cfg.Alerting.Enabled = false
	if cfg.IsAlertEventEnabled("leg_failed") {
		t.Error("disabled alerting should disable all events")
	}
}
