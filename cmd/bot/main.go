// Package main is the entry point for the split-order scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantexec/splitflow/internal/alerting"
	"github.com/quantexec/splitflow/internal/broker/paper"
	"github.com/quantexec/splitflow/internal/config"
	"github.com/quantexec/splitflow/internal/metrics"
	"github.com/quantexec/splitflow/internal/persistence"
	"github.com/quantexec/splitflow/internal/scheduler"
	"github.com/quantexec/splitflow/internal/split"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Splitflow - Order Splitting and Scheduled Execution

Usage:
  splitflow <command> [options]

Commands:
  run        Start the split-order scheduler
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  splitflow run --config config.yaml
  splitflow validate --config config.yaml

Use "splitflow <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("splitflow version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Split threshold: %.0f\n", cfg.Split.SplitThreshold)
	fmt.Printf("  Max leg value:   %.0f\n", cfg.Split.MaxLegValue)
	fmt.Printf("  Max splits:      %d\n", cfg.Split.MaxSplits)
	fmt.Printf("  Leg interval:    %dm\n", cfg.Split.IntervalMin)
	fmt.Printf("  Session:         %s-%s %s\n",
		cfg.Scheduler.SessionStart, cfg.Scheduler.SessionEnd, cfg.Scheduler.Timezone)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("splitflow starting",
		"version", Version,
		"broker", cfg.Broker.Type,
		"split_threshold", cfg.Split.SplitThreshold,
		"max_splits", cfg.Split.MaxSplits,
	)

	// Broker gateway.
	gw := paper.NewGateway(paper.Config{
		StartingCash:       cfg.StartingCashDecimal(),
		BoardLot:           cfg.Broker.BoardLot,
		RateLimitPerSecond: cfg.Broker.RateLimitPerSecond,
	}, logger)

	// Manager and projector.
	mgr := split.NewManager(cfg.ToSplitConfig(), gw, logger)
	projector := split.NewProjector(gw, mgr, logger)

	// Metrics.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		recorder := metrics.NewRecorder()
		mgr.SetRecorder(recorder)
		projector.SetRecorder(recorder)
		metrics.SetBuildInfo(Version, GitCommit, BuildTime)

		metricsServer = metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		if err := metricsServer.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// Alerting.
	alerter := buildAlerter(cfg, logger)
	if alerter != nil {
		mgr.SetAlerter(alerter)
	}

	// Persistence.
	var repo persistence.Repository
	if cfg.Persistence.Enabled {
		repo, err = persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open database", "path", cfg.Persistence.Path, "err", err)
			os.Exit(1)
		}
		defer func() { _ = repo.Close() }()
	}

	// Scheduler.
	start, end := cfg.SessionWindow()
	driver := scheduler.NewDriver(scheduler.Config{
		TickInterval:    cfg.TickInterval(),
		SessionStartMin: start,
		SessionEndMin:   end,
		Location:        cfg.Location(),
	}, mgr, logger)
	if repo != nil {
		driver.SetRepository(repo)
	}
	if cfg.Metrics.Enabled {
		driver.SetRecorder(metrics.NewRecorder())
	}
	if alerter != nil {
		driver.SetAlerter(alerter)
	}

	if err := driver.Recover(ctx); err != nil {
		slog.Error("failed to recover pending legs", "err", err)
		os.Exit(1)
	}

	if metricsServer != nil {
		metricsServer.RegisterHealthCheck("scheduler", func() metrics.Check {
			if !driver.IsRunning() {
				return metrics.Check{Status: "unhealthy", Message: "scheduler not running"}
			}
			return metrics.Check{Status: "healthy"}
		})
	}

	if err := driver.Start(ctx); err != nil {
		slog.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.Stop(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	if bal, err := projector.Project(shutdownCtx); err == nil {
		slog.Info("final balance",
			"cash", bal.CurrentCash,
			"available", bal.AvailableCash,
			"pending_buy", bal.PendingBuy,
			"pending_sell", bal.PendingSell,
		)
	}

	slog.Info("splitflow shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled || len(cfg.Alerting.Channels) == 0 {
		return nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}
	return multi
}
