package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/alert"
	"github.com/mtzanidakis/fleetmon/internal/collector"
	"github.com/mtzanidakis/fleetmon/internal/collision"
	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mtzanidakis/fleetmon/internal/janitor"
	"github.com/mtzanidakis/fleetmon/internal/natsbus"
	"github.com/mtzanidakis/fleetmon/internal/store"
	"github.com/mtzanidakis/fleetmon/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("fleetmon %s\n", version)
	case "monitor":
		if err := runMonitor(); err != nil {
			slog.Error("monitor failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: fleetmon <command>\n\nCommands:\n  monitor    Start the collision monitor\n  backup     Archive the data directory\n  restore    Unpack a backup archive\n  version    Print version\n")
}

func runMonitor() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := initLogs(cfg.LogsDir); err != nil {
		return fmt.Errorf("init logs: %w", err)
	}
	slog.Info("starting collision monitor", "version", version,
		"num_agents", cfg.Fleet.NumAgents)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	// Telegram deadlock alerts
	var alerter collector.Alerter
	notifier, err := alert.New(cfg.Telegram)
	if err != nil {
		return fmt.Errorf("init telegram alerts: %w", err)
	}
	if notifier != nil {
		alerter = notifier
		slog.Info("telegram alerts enabled", "chat", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram token not set, deadlock alerts disabled")
	}

	// Batch collector and resolution pipeline
	monitor := collision.NewMonitor(cfg.Fleet.Width, cfg.Fleet.Height, cfg.Fleet.NumAgents, nil)
	coll := collector.New(client, monitor, db, cfg.Fleet.NumAgents, alerter)
	if err := coll.Start(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}
	slog.Info("collector started", "subject", natsbus.SubjectReport)

	// Stale row janitor
	jan, err := janitor.New(db, cfg.Janitor)
	if err != nil {
		return fmt.Errorf("init janitor: %w", err)
	}
	go jan.Run(ctx)
	slog.Info("janitor started", "schedule", cfg.Janitor.Schedule)

	// Query API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, cfg.Web, cfg.Fleet.NumAgents, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}

// initLogs tees structured logs to a per-run file under the logs directory
// in addition to stderr.
func initLogs(logsDir string) error {
	if logsDir == "" {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return err
	}

	name := filepath.Join(logsDir, time.Now().Format("2006-01-02T15-04-05")+".log")
	f, err := os.Create(name)
	if err != nil {
		return err
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), nil)
	slog.SetDefault(slog.New(handler))
	return nil
}
