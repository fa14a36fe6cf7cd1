// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/quantexec/splitflow/internal/split"
	"github.com/quantexec/splitflow/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Split       SplitConfig       `yaml:"split"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Broker      BrokerConfig      `yaml:"broker"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SplitConfig holds order-splitting parameters.
type SplitConfig struct {
	SplitThreshold float64 `yaml:"split_threshold"`
	MaxLegValue    float64 `yaml:"max_leg_value"`
	MaxSplits      int     `yaml:"max_splits"`
	IntervalMin    int     `yaml:"interval_min"`
	MinLot         int64   `yaml:"min_lot"`
	ForceMinTwo    *bool   `yaml:"force_min_two"`
	MaxRetries     int     `yaml:"max_retries"`
}

// SchedulerConfig holds tick-loop settings.
type SchedulerConfig struct {
	TickIntervalMin int    `yaml:"tick_interval_min"`
	SessionStart    string `yaml:"session_start"` // HH:MM
	SessionEnd      string `yaml:"session_end"`   // HH:MM
	Timezone        string `yaml:"timezone"`
}

// BrokerConfig holds broker settings.
type BrokerConfig struct {
	Type               string  `yaml:"type"` // paper
	StartingCash       float64 `yaml:"starting_cash"`
	BoardLot           int64   `yaml:"board_lot"`
	RateLimitPerSecond int     `yaml:"rate_limit_per_second"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns a configuration with conventional values filled in.
func Default() *Config {
	forceMinTwo := true
	return &Config{
		Split: SplitConfig{
			SplitThreshold: 50000,
			MaxLegValue:    50000,
			MaxSplits:      4,
			IntervalMin:    4,
			MinLot:         100,
			ForceMinTwo:    &forceMinTwo,
		},
		Scheduler: SchedulerConfig{
			TickIntervalMin: 2,
			SessionStart:    "09:30",
			SessionEnd:      "14:55",
			Timezone:        "Asia/Shanghai",
		},
		Broker: BrokerConfig{
			Type:               "paper",
			StartingCash:       1_000_000,
			BoardLot:           100,
			RateLimitPerSecond: 10,
		},
		Persistence: PersistenceConfig{
			Enabled: true,
			Type:    "sqlite",
			Path:    "splitflow.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment
// variables referenced as ${VAR} are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Split.SplitThreshold <= 0 {
		errs = append(errs, "split.split_threshold must be positive")
	}
	if c.Split.MaxLegValue <= 0 {
		errs = append(errs, "split.max_leg_value must be positive")
	}
	if c.Split.MaxSplits < 2 {
		errs = append(errs, "split.max_splits must be at least 2")
	}
	if c.Split.IntervalMin <= 0 {
		errs = append(errs, "split.interval_min must be positive")
	}
	if c.Split.MinLot <= 0 {
		errs = append(errs, "split.min_lot must be positive")
	}
	if c.Split.MaxRetries < 0 {
		errs = append(errs, "split.max_retries must not be negative")
	}

	if c.Scheduler.TickIntervalMin <= 0 {
		errs = append(errs, "scheduler.tick_interval_min must be positive")
	}
	if _, err := parseClock(c.Scheduler.SessionStart); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.session_start: %v", err))
	}
	if _, err := parseClock(c.Scheduler.SessionEnd); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.session_end: %v", err))
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.timezone '%s' is not valid", c.Scheduler.Timezone))
		}
	}

	if c.Broker.Type != "paper" {
		errs = append(errs, fmt.Sprintf("broker.type '%s' is not supported", c.Broker.Type))
	}
	if c.Broker.StartingCash < 0 {
		errs = append(errs, "broker.starting_cash must not be negative")
	}
	if c.Broker.BoardLot <= 0 {
		errs = append(errs, "broker.board_lot must be positive")
	}

	if c.Persistence.Enabled {
		if c.Persistence.Type != "sqlite" {
			errs = append(errs, "persistence.type must be 'sqlite'")
		}
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
	}

	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d]: type '%s' is not supported", i, ch.Type))
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level '%s' is not valid", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format '%s' is not valid", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToSplitConfig converts to split.Config.
func (c *Config) ToSplitConfig() split.Config {
	forceMinTwo := true
	if c.Split.ForceMinTwo != nil {
		forceMinTwo = *c.Split.ForceMinTwo
	}
	return split.Config{
		SplitThreshold: decimal.NewFromFloat(c.Split.SplitThreshold),
		MaxLegValue:    decimal.NewFromFloat(c.Split.MaxLegValue),
		MaxSplits:      c.Split.MaxSplits,
		Interval:       time.Duration(c.Split.IntervalMin) * time.Minute,
		MinLot:         c.Split.MinLot,
		ForceMinTwo:    forceMinTwo,
		MaxRetries:     c.Split.MaxRetries,
	}
}

// TickInterval returns the scheduler tick cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalMin) * time.Minute
}

// Location returns the scheduler timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionWindow returns the trading session bounds as minutes from
// midnight.
func (c *Config) SessionWindow() (start, end int) {
	start, _ = parseClock(c.Scheduler.SessionStart)
	end, _ = parseClock(c.Scheduler.SessionEnd)
	return start, end
}

// StartingCashDecimal returns starting cash as decimal.
func (c *Config) StartingCashDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Broker.StartingCash)
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// No events specified means all are enabled.
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("'%s' is not a valid HH:MM time", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
