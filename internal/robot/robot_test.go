package robot

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mtzanidakis/fleetmon/internal/fleet"
	"github.com/mtzanidakis/fleetmon/internal/natsbus"
	"github.com/mtzanidakis/fleetmon/internal/store"
	"github.com/nats-io/nats.go"
)

func newTestRunner(t *testing.T, cfg config.RobotConfig) (*Runner, *natsbus.Bus, *store.Store) {
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

	return NewRunner(client, s, cfg), bus, s
}

// respond installs a monitor stand-in that echoes the correlation id and
// replies with the transformed state.
func respond(t *testing.T, bus *natsbus.Bus, transform func(*fleet.Robot)) {
	t.Helper()

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("responder client: %v", err)
	}
	t.Cleanup(client.Close)

	_, err = client.Subscribe(natsbus.SubjectReport, func(msg *nats.Msg) {
		var robot fleet.Robot
		if err := json.Unmarshal(msg.Data, &robot); err != nil {
			return
		}
		transform(&robot)

		data, _ := json.Marshal(&robot)
		reply := nats.NewMsg(msg.Reply)
		reply.Header.Set(natsbus.HeaderCorrelationID, msg.Header.Get(natsbus.HeaderCorrelationID))
		reply.Data = data
		_ = msg.RespondMsg(reply)
	})
	if err != nil {
		t.Fatalf("responder subscribe: %v", err)
	}
	client.Flush()
}

func testRobot(id string, battery float64) *fleet.Robot {
	return &fleet.Robot{
		X: 0, Y: 0,
		Path:         []fleet.Waypoint{{X: 0, Y: 0}, {X: 1, Y: 1}},
		DeviceID:     id,
		State:        fleet.Resume,
		BatteryLevel: battery,
	}
}

func TestLoadInitState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.json")
	body := `{"x":1.5,"y":2.5,"theta":0,"loaded":true,"timestamp":0,` +
		`"path":[{"x":1.5,"y":2.5,"theta":0}],"device_id":"robot1",` +
		`"state":"Resume","battery_level":80}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write init file: %v", err)
	}

	robot, err := LoadInitState(path)
	if err != nil {
		t.Fatalf("load init state: %v", err)
	}
	if robot.DeviceID != "robot1" || robot.X != 1.5 || !robot.Loaded {
		t.Errorf("unexpected init state: %+v", robot)
	}

	if _, err := LoadInitState(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunStopsOnLowBattery(t *testing.T) {
	cfg := config.RobotConfig{
		DeviceID:       "robot1",
		LowerSOCLimit:  50,
		ReportInterval: 10 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}
	runner, bus, s := newTestRunner(t, cfg)

	// Each resolved reply drains the battery past the limit on the second
	// exchange: the check uses the previous reply's level.
	respond(t, bus, func(r *fleet.Robot) {
		r.BatteryLevel -= 10
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runner.Run(ctx, testRobot("robot1", 52))
	if !errors.Is(err, ErrBatteryLow) {
		t.Fatalf("expected ErrBatteryLow, got %v", err)
	}

	// The last resolved state before shutdown was persisted.
	stored, err := s.GetRobot("robot1")
	if err != nil || stored == nil {
		t.Fatalf("stored state missing: %v", err)
	}
	if stored.BatteryLevel != 42 {
		t.Errorf("expected battery 42 persisted, got %v", stored.BatteryLevel)
	}
}

func TestRunRejectsForeignInitState(t *testing.T) {
	cfg := config.RobotConfig{DeviceID: "robot1"}
	runner, _, _ := newTestRunner(t, cfg)

	err := runner.Run(context.Background(), testRobot("robot2", 100))
	if err == nil {
		t.Fatal("expected error for init state with a foreign device id")
	}
}

func TestRunKeepsStateOnMismatchedReply(t *testing.T) {
	cfg := config.RobotConfig{
		DeviceID:       "robot1",
		LowerSOCLimit:  10,
		ReportInterval: 10 * time.Millisecond,
		RequestTimeout: 200 * time.Millisecond,
	}
	runner, bus, s := newTestRunner(t, cfg)

	// Replies carry the wrong device id, so no resolved state is applied.
	respond(t, bus, func(r *fleet.Robot) {
		r.DeviceID = "impostor"
		r.X = 99
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := runner.Run(ctx, testRobot("robot1", 100))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	stored, err := s.GetRobot("robot1")
	if err != nil || stored == nil {
		t.Fatalf("stored state missing: %v", err)
	}
	if stored.X != 0 {
		t.Errorf("mismatched reply must not be applied, got x=%v", stored.X)
	}
}
