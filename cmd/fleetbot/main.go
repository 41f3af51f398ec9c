package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mtzanidakis/fleetmon/internal/natsbus"
	"github.com/mtzanidakis/fleetmon/internal/robot"
	"github.com/mtzanidakis/fleetmon/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("fleetbot %s\n", version)
		return
	}

	if err := run(); err != nil {
		slog.Error("fleetbot failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadRobot()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := initLogs(cfg.LogsDir); err != nil {
		return fmt.Errorf("init logs: %w", err)
	}
	slog.Info("starting fleetbot", "version", version, "device", cfg.DeviceID)

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	client, err := natsbus.NewClientFromURL(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer client.Close()
	slog.Info("connected to monitor bus", "url", cfg.NATSURL)

	init, err := robot.LoadInitState(cfg.InitStatePath)
	if err != nil {
		return fmt.Errorf("load init state: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := robot.NewRunner(client, db, *cfg)
	err = runner.Run(ctx, init)
	switch {
	case errors.Is(err, robot.ErrBatteryLow):
		slog.Info("battery below limit, shutting down")
		return nil
	case errors.Is(err, context.Canceled):
		slog.Info("shutting down on signal")
		return nil
	default:
		return err
	}
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
