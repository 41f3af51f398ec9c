package collector

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/collision"
	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mtzanidakis/fleetmon/internal/fleet"
	"github.com/mtzanidakis/fleetmon/internal/natsbus"
	"github.com/mtzanidakis/fleetmon/internal/store"
	"github.com/nats-io/nats.go"
)

type testFixture struct {
	bus   *natsbus.Bus
	store *store.Store
}

func startCollector(t *testing.T, numAgents int) *testFixture {
	t.Helper()

	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(bus.Close)

	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(client.Close)

	monitor := collision.NewMonitor(1.0, 1.0, numAgents, nil)
	coll := New(client, monitor, s, numAgents, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	// Start returns once the subscription is flushed, so reports sent from
	// here on are guaranteed to be seen.
	if err := coll.Start(ctx); err != nil {
		t.Fatalf("start collector: %v", err)
	}

	return &testFixture{bus: bus, store: s}
}

func report(t *testing.T, client *natsbus.Client, robot *fleet.Robot, corrID string, timeout time.Duration) (*fleet.Robot, string, error) {
	t.Helper()

	data, err := json.Marshal(robot)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}

	msg := nats.NewMsg(natsbus.SubjectReport)
	msg.Header.Set(natsbus.HeaderCorrelationID, corrID)
	msg.Data = data

	resp, err := client.RequestMsg(msg, timeout)
	if err != nil {
		return nil, "", err
	}

	var updated fleet.Robot
	if err := json.Unmarshal(resp.Data, &updated); err != nil {
		return nil, "", err
	}
	return &updated, resp.Header.Get(natsbus.HeaderCorrelationID), nil
}

func pathRobot(id string, start float64) *fleet.Robot {
	return &fleet.Robot{
		X: start, Y: start,
		Path: []fleet.Waypoint{
			{X: start, Y: start},
			{X: start + 1, Y: start + 1},
			{X: start + 2, Y: start + 2},
		},
		DeviceID:     id,
		State:        fleet.Resume,
		BatteryLevel: 100,
	}
}

func TestBatchCycleRepliesAndPersists(t *testing.T) {
	fx := startCollector(t, 2)

	type result struct {
		robot  *fleet.Robot
		corrID string
		err    error
	}
	results := make(map[string]result)
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Two far-apart robots report concurrently; the second report completes
	// the batch and both receive a conflict-free advance.
	for i, r := range []*fleet.Robot{pathRobot("robot1", 0), pathRobot("robot2", 50)} {
		wg.Add(1)
		corrID := []string{"corr-a", "corr-b"}[i]
		go func(r *fleet.Robot, corrID string) {
			defer wg.Done()
			client, err := natsbus.NewClient(fx.bus)
			if err != nil {
				t.Errorf("client: %v", err)
				return
			}
			defer client.Close()
			updated, echoed, err := report(t, client, r, corrID, 5*time.Second)
			mu.Lock()
			results[r.DeviceID] = result{robot: updated, corrID: echoed, err: err}
			mu.Unlock()
		}(r, corrID)
	}
	wg.Wait()

	for _, id := range []string{"robot1", "robot2"} {
		res := results[id]
		if res.err != nil {
			t.Fatalf("%s: report failed: %v", id, res.err)
		}
		if res.robot.State != fleet.Resume {
			t.Errorf("%s: expected Resume, got %v", id, res.robot.State)
		}
	}
	if results["robot1"].robot.X != 1 {
		t.Errorf("robot1: expected advance to x=1, got %v", results["robot1"].robot.X)
	}
	if results["robot2"].robot.X != 51 {
		t.Errorf("robot2: expected advance to x=51, got %v", results["robot2"].robot.X)
	}
	if results["robot1"].corrID != "corr-a" || results["robot2"].corrID != "corr-b" {
		t.Errorf("correlation ids not echoed: %q / %q",
			results["robot1"].corrID, results["robot2"].corrID)
	}

	// Both rows persisted with the updated state.
	stored, err := fx.store.GetRobot("robot1")
	if err != nil || stored == nil {
		t.Fatalf("stored robot1 missing: %v", err)
	}
	if stored.X != 1 {
		t.Errorf("stored robot1: expected x=1, got %v", stored.X)
	}
}

func TestIncompleteBatchGetsNoReply(t *testing.T) {
	fx := startCollector(t, 2)

	client, err := natsbus.NewClient(fx.bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	// A single report out of two must block until the batch completes;
	// with no second robot the bounded wait times out.
	_, _, err = report(t, client, pathRobot("robot1", 0), "corr-solo", 500*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout waiting for an incomplete batch")
	}
}

func TestDeadlockCyclePausesFleet(t *testing.T) {
	fx := startCollector(t, 2)

	head := pathRobot("robot1", 0)
	tail := &fleet.Robot{
		X: 1, Y: 1,
		Path:         []fleet.Waypoint{{X: 1, Y: 1}, {X: 0, Y: 0}},
		DeviceID:     "robot2",
		State:        fleet.Resume,
		BatteryLevel: 100,
	}

	events, err := natsbus.NewClient(fx.bus)
	if err != nil {
		t.Fatalf("events client: %v", err)
	}
	defer events.Close()

	deadlocks := make(chan CycleEvent, 1)
	if _, err := events.Subscribe(natsbus.SubjectDeadlockEvents, func(msg *nats.Msg) {
		var ev CycleEvent
		if json.Unmarshal(msg.Data, &ev) == nil {
			deadlocks <- ev
		}
	}); err != nil {
		t.Fatalf("subscribe deadlock events: %v", err)
	}
	events.Flush()

	var wg sync.WaitGroup
	states := make(chan fleet.MotionState, 2)
	for _, r := range []*fleet.Robot{head, tail} {
		wg.Add(1)
		go func(r *fleet.Robot) {
			defer wg.Done()
			client, err := natsbus.NewClient(fx.bus)
			if err != nil {
				t.Errorf("client: %v", err)
				return
			}
			defer client.Close()
			updated, _, err := report(t, client, r, "corr", 5*time.Second)
			if err != nil {
				t.Errorf("%s: %v", r.DeviceID, err)
				return
			}
			states <- updated.State
			if updated.X != r.X || updated.Y != r.Y {
				t.Errorf("%s: deadlocked robot must not move", r.DeviceID)
			}
		}(r)
	}
	wg.Wait()
	close(states)

	for state := range states {
		if state != fleet.Pause {
			t.Errorf("expected Pause after deadlock, got %v", state)
		}
	}

	select {
	case ev := <-deadlocks:
		if !ev.Deadlock {
			t.Error("deadlock event not flagged as deadlock")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for deadlock event")
	}
}
