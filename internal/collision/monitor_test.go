package collision

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/mtzanidakis/fleetmon/internal/fleet"
)

func TestRunCycleRejectsIncompleteBatch(t *testing.T) {
	m := NewMonitor(1.0, 1.0, 3, nil)

	robots := []fleet.Robot{
		diagonalRobot("robot1", 0, 3),
		diagonalRobot("robot2", 10, 3),
	}
	before, err := json.Marshal(robots)
	if err != nil {
		t.Fatalf("marshal batch: %v", err)
	}

	_, err = m.RunCycle(robots)
	if !errors.Is(err, ErrIncompleteBatch) {
		t.Fatalf("expected ErrIncompleteBatch, got %v", err)
	}

	after, _ := json.Marshal(robots)
	if string(before) != string(after) {
		t.Error("rejected batch must be left byte-for-byte unchanged")
	}
}

func TestRunCycleRejectsOversizedBatch(t *testing.T) {
	m := NewMonitor(1.0, 1.0, 2, nil)

	robots := []fleet.Robot{
		diagonalRobot("robot1", 0, 3),
		diagonalRobot("robot2", 10, 3),
		diagonalRobot("robot3", 20, 3),
	}
	if _, err := m.RunCycle(robots); !errors.Is(err, ErrIncompleteBatch) {
		t.Fatalf("expected ErrIncompleteBatch for oversized batch, got %v", err)
	}
}

func TestRunCycleCompleteBatch(t *testing.T) {
	m := NewMonitor(1.0, 1.0, 4, nil)

	robots := []fleet.Robot{
		diagonalRobot("robot1", 0, 3),
		diagonalRobot("robot2", 10, 3),
		diagonalRobot("robot3", 50, 3),
		diagonalRobot("robot4", 3, 2),
	}

	out, err := m.RunCycle(robots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Deadlock || out.Conflicts != 0 {
		t.Fatalf("expected clean cycle, got %+v", out)
	}

	wantX := []float64{1, 11, 51, 4}
	for i, want := range wantX {
		if robots[i].X != want || robots[i].Y != want {
			t.Errorf("robot %d: expected (%v, %v), got (%v, %v)",
				i, want, want, robots[i].X, robots[i].Y)
		}
		if robots[i].State != fleet.Resume {
			t.Errorf("robot %d: expected Resume, got %v", i, robots[i].State)
		}
	}
}

func TestRunCycleStateless(t *testing.T) {
	// Identical input batches resolve identically across calls; the monitor
	// carries nothing between cycles.
	m := NewMonitor(1.0, 1.0, 2, nil)

	mk := func() []fleet.Robot {
		return []fleet.Robot{
			diagonalRobot("robot1", 0, 3),
			diagonalRobot("robot2", 1, 3),
		}
	}

	a := mk()
	b := mk()
	outA, _ := m.RunCycle(a)
	outB, _ := m.RunCycle(b)

	if outA != outB {
		t.Errorf("outcomes differ across identical cycles: %+v vs %+v", outA, outB)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical batches must resolve identically")
	}
}
