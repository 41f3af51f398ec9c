// Package fleet holds the shared robot state records exchanged between the
// robot processes and the collision monitor, and persisted in the store.
package fleet

import (
	"encoding/json"
	"fmt"
)

// MotionState is the authoritative motion decision for a robot. It is only
// ever assigned by the collision monitor, once per resolution cycle.
type MotionState int

const (
	// Pause holds the robot at its current position.
	Pause MotionState = iota
	// Resume permits the robot to advance one waypoint along its path.
	Resume
)

const (
	pauseWire  = "Pause"
	resumeWire = "Resume"
)

func (s MotionState) String() string {
	if s == Resume {
		return resumeWire
	}
	return pauseWire
}

// MarshalJSON writes the wire form ("Pause" / "Resume") used by both the
// message bus and the store.
func (s MotionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *MotionState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case pauseWire:
		*s = Pause
	case resumeWire:
		*s = Resume
	default:
		return fmt.Errorf("unknown motion state %q", raw)
	}
	return nil
}

// Waypoint is one point of a robot's precomputed path. Immutable once the
// path is built.
type Waypoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Robot is the state record one robot reports each cycle and receives back
// updated. Only X, Y and State are mutated by the monitor; everything else
// is carried through untouched.
type Robot struct {
	X            float64     `json:"x"`
	Y            float64     `json:"y"`
	Theta        float64     `json:"theta"`
	Loaded       bool        `json:"loaded"`
	Timestamp    int64       `json:"timestamp"`
	Path         []Waypoint  `json:"path"`
	DeviceID     string      `json:"device_id"`
	State        MotionState `json:"state"`
	BatteryLevel float64     `json:"battery_level"`
}

// Clone returns a deep copy. The path slice is copied so callers can hold a
// snapshot across a resolution cycle.
func (r *Robot) Clone() Robot {
	out := *r
	out.Path = make([]Waypoint, len(r.Path))
	copy(out.Path, r.Path)
	return out
}
