// Package robot implements the reporting loop a robot process runs against
// the monitor: publish the current state, wait for the resolved state on a
// private reply inbox, persist it, repeat until the battery runs out.
package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mtzanidakis/fleetmon/internal/fleet"
	"github.com/mtzanidakis/fleetmon/internal/natsbus"
	"github.com/mtzanidakis/fleetmon/internal/store"
	"github.com/nats-io/nats.go"
)

// ErrBatteryLow signals a clean shutdown once the state of charge drops
// below the configured limit.
var ErrBatteryLow = errors.New("battery below lower state-of-charge limit")

type Runner struct {
	client *natsbus.Client
	store  *store.Store
	cfg    config.RobotConfig
}

func NewRunner(client *natsbus.Client, s *store.Store, cfg config.RobotConfig) *Runner {
	return &Runner{client: client, store: s, cfg: cfg}
}

// LoadInitState reads the robot's initial state record from a JSON file.
func LoadInitState(path string) (*fleet.Robot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read init state: %w", err)
	}

	var robot fleet.Robot
	if err := json.Unmarshal(data, &robot); err != nil {
		return nil, fmt.Errorf("decode init state: %w", err)
	}
	return &robot, nil
}

// Run drives the reporting loop. It returns ErrBatteryLow when the battery
// level from the last resolved state falls below the configured limit, or
// ctx.Err() on cancellation. A missed or mismatched reply keeps the previous
// state and retries on the next tick.
func (r *Runner) Run(ctx context.Context, init *fleet.Robot) error {
	if init.DeviceID != r.cfg.DeviceID {
		return fmt.Errorf("init state is for device %q, configured as %q",
			init.DeviceID, r.cfg.DeviceID)
	}

	if err := r.store.SaveRobot(init); err != nil {
		return fmt.Errorf("persist init state: %w", err)
	}
	batteryLevel := init.BatteryLevel

	for {
		current, err := r.store.GetRobot(r.cfg.DeviceID)
		if err != nil {
			return fmt.Errorf("load current state: %w", err)
		}
		if current == nil {
			return fmt.Errorf("no stored state for device %q", r.cfg.DeviceID)
		}

		updated, err := r.report(current)
		if err != nil {
			slog.Warn("report not resolved, keeping previous state", "error", err)
		} else {
			// The battery check uses the level from the previous resolved
			// state, so the final reply below the limit is still delivered
			// to the monitor before shutdown.
			if batteryLevel < r.cfg.LowerSOCLimit {
				return ErrBatteryLow
			}
			batteryLevel = updated.BatteryLevel

			if err := r.store.SaveRobot(updated); err != nil {
				return fmt.Errorf("persist resolved state: %w", err)
			}
			slog.Info("resolved state applied",
				"x", updated.X, "y", updated.Y, "state", updated.State)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.ReportInterval):
		}
	}
}

// report publishes one state record and waits for the resolved reply. The
// reply must echo the request's correlation id and carry this robot's
// device id; anything else is discarded.
func (r *Runner) report(current *fleet.Robot) (*fleet.Robot, error) {
	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	corrID := uuid.NewString()
	msg := nats.NewMsg(natsbus.SubjectReport)
	msg.Header.Set(natsbus.HeaderCorrelationID, corrID)
	msg.Data = data

	resp, err := r.client.RequestMsg(msg, r.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("request resolved state: %w", err)
	}

	if got := resp.Header.Get(natsbus.HeaderCorrelationID); got != corrID {
		return nil, fmt.Errorf("correlation id mismatch: sent %q, got %q", corrID, got)
	}

	var updated fleet.Robot
	if err := json.Unmarshal(resp.Data, &updated); err != nil {
		return nil, fmt.Errorf("decode resolved state: %w", err)
	}
	if updated.DeviceID != current.DeviceID {
		return nil, fmt.Errorf("resolved state is for device %q", updated.DeviceID)
	}

	return &updated, nil
}
