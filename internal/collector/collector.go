// Package collector accumulates one state report per robot, triggers a
// resolution cycle once the batch is complete, and replies to every robot
// with its updated state.
package collector

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mtzanidakis/fleetmon/internal/collision"
	"github.com/mtzanidakis/fleetmon/internal/fleet"
	"github.com/mtzanidakis/fleetmon/internal/natsbus"
	"github.com/mtzanidakis/fleetmon/internal/store"
	"github.com/nats-io/nats.go"
)

// Alerter is notified when a cycle ends in a fleet-wide deadlock halt.
type Alerter interface {
	DeadlockAlert(ctx context.Context, conflicts int)
}

// CycleEvent is published on the bus after every completed resolution
// cycle; the web layer forwards it to websocket subscribers.
type CycleEvent struct {
	Deadlock  bool          `json:"deadlock"`
	Conflicts int           `json:"conflicts"`
	Robots    []fleet.Robot `json:"robots"`
}

// Collector owns the batch being filled. Reports are consumed serially, so
// the batch barrier needs no locking: the accumulator is cleared in the
// same step that hands a complete batch to the monitor.
type Collector struct {
	client  *natsbus.Client
	monitor *collision.Monitor
	store   *store.Store
	alerter Alerter

	robots  []fleet.Robot
	replies []string
	corrIDs []string
}

// New builds a collector for a fleet of numAgents robots. alerter may be
// nil.
func New(client *natsbus.Client, monitor *collision.Monitor, s *store.Store, numAgents int, alerter Alerter) *Collector {
	return &Collector{
		client:  client,
		monitor: monitor,
		store:   s,
		alerter: alerter,
		robots:  make([]fleet.Robot, 0, numAgents),
		replies: make([]string, 0, numAgents),
		corrIDs: make([]string, 0, numAgents),
	}
}

// Start subscribes to the report subject and consumes reports in the
// background until the context is cancelled. Reports are processed one at
// a time; an in-flight cycle completes before shutdown.
func (c *Collector) Start(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := c.client.ChanSubscribe(natsbus.SubjectReport, msgs)
	if err != nil {
		return err
	}
	if err := c.client.Flush(); err != nil {
		sub.Unsubscribe()
		return err
	}

	slog.Info("collector listening", "subject", natsbus.SubjectReport)

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				c.handle(ctx, msg)
			}
		}
	}()

	return nil
}

// handle folds one report into the batch and runs a cycle once the batch
// is complete. Malformed reports are dropped rather than taking the
// collector down; the robot simply retries next cycle.
func (c *Collector) handle(ctx context.Context, msg *nats.Msg) {
	if msg.Reply == "" {
		slog.Warn("dropping report without reply inbox")
		return
	}

	var robot fleet.Robot
	if err := json.Unmarshal(msg.Data, &robot); err != nil {
		slog.Warn("dropping malformed report", "error", err)
		return
	}

	c.robots = append(c.robots, robot)
	c.replies = append(c.replies, msg.Reply)
	c.corrIDs = append(c.corrIDs, msg.Header.Get(natsbus.HeaderCorrelationID))

	outcome, err := c.monitor.RunCycle(c.robots)
	if err != nil {
		// Batch not complete yet; keep collecting.
		return
	}

	for idx := range c.robots {
		state := &c.robots[idx]

		reply := nats.NewMsg(c.replies[idx])
		reply.Header.Set(natsbus.HeaderCorrelationID, c.corrIDs[idx])
		data, err := json.Marshal(state)
		if err != nil {
			slog.Error("marshal updated state", "device", state.DeviceID, "error", err)
			continue
		}
		reply.Data = data

		slog.Info("sending updated state", "device", state.DeviceID, "state", state.State.String())
		if err := c.client.PublishMsg(reply); err != nil {
			slog.Error("publish reply", "device", state.DeviceID, "error", err)
		}

		if err := c.store.SaveRobot(state); err != nil {
			slog.Error("persist robot state", "device", state.DeviceID, "error", err)
		}
	}

	c.publishEvents(ctx, outcome)

	// Begin a fresh, empty batch immediately.
	c.robots = c.robots[:0]
	c.replies = c.replies[:0]
	c.corrIDs = c.corrIDs[:0]
}

func (c *Collector) publishEvents(ctx context.Context, outcome collision.Outcome) {
	event := CycleEvent{
		Deadlock:  outcome.Deadlock,
		Conflicts: outcome.Conflicts,
		Robots:    c.robots,
	}
	if err := c.client.PublishJSON(natsbus.SubjectCycleEvents, event); err != nil {
		slog.Error("publish cycle event", "error", err)
	}

	if !outcome.Deadlock {
		return
	}

	slog.Warn("deadlock detected, fleet halted", "conflicts", outcome.Conflicts)
	if err := c.client.PublishJSON(natsbus.SubjectDeadlockEvents, event); err != nil {
		slog.Error("publish deadlock event", "error", err)
	}
	if c.alerter != nil {
		c.alerter.DeadlockAlert(ctx, outcome.Conflicts)
	}
}
