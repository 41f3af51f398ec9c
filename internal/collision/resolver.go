// Package collision implements the conflict detection and resolution engine
// driven once per complete batch of robot reports.
package collision

import (
	"github.com/mtzanidakis/fleetmon/internal/fleet"
)

// Conflict is an unordered pair of batch indices (I < J) whose bounding
// boxes overlap at the reported poses.
type Conflict struct {
	I, J int
}

// Policy decides the motion states for the two sides of a fresh conflict.
// It is the single extension point for priority or right-of-way rules; the
// default policy is maximally conservative and always answers Pause/Pause,
// leaving deadlock breaking to the paused-side rule and, ultimately, the
// fleet-wide halt.
type Policy func(a, b *fleet.Robot) (fleet.MotionState, fleet.MotionState)

// PauseBoth is the default Policy: neither side of a fresh conflict may
// proceed.
func PauseBoth(_, _ *fleet.Robot) (fleet.MotionState, fleet.MotionState) {
	return fleet.Pause, fleet.Pause
}

// Outcome summarizes one resolution cycle.
type Outcome struct {
	// Conflicts is the number of pairs in conflict at the reported poses.
	Conflicts int
	// Deadlock is set when no safe assignment existed and the whole fleet
	// was forced to Pause.
	Deadlock bool
}

// Resolver mutates a batch of robot states in place. It holds no state
// between calls; every conflict set and deadlock flag is scoped to a single
// Update.
type Resolver struct {
	width  float64
	height float64
	policy Policy
}

// NewResolver builds a resolver for robots of the given bounding-box size.
// A nil policy selects PauseBoth.
func NewResolver(width, height float64, policy Policy) *Resolver {
	if policy == nil {
		policy = PauseBoth
	}
	return &Resolver{width: width, height: height, policy: policy}
}

// Update runs one resolution cycle over the batch: detect pairwise
// conflicts, resolve or declare deadlock, and advance permitted robots one
// waypoint. The batch is mutated in place; only X, Y and State change.
func (r *Resolver) Update(robots []fleet.Robot) Outcome {
	conflicts := r.detect(robots)
	out := Outcome{Conflicts: len(conflicts)}
	deadlock := false

	// No conflicts anywhere: every Resume robot simply advances.
	if len(conflicts) == 0 {
		for i := range robots {
			advanceWaypoint(&robots[i])
		}
	}

	// The resolution loop runs while conflicts remain and no mutual stop has
	// been declared. Under the default Pause/Pause policy the first conflict
	// declares deadlock in the first pass; an injected policy that grants
	// Resume keeps the loop alive until the conflicts clear. Each pass must
	// retire at least one pair; the pass bound covers stuck assignments
	// (a Resume robot pinned off-path) that would otherwise never settle.
	maxPasses := len(robots) * len(robots)
	for pass := 0; len(conflicts) > 0 && !deadlock; pass++ {
		if pass >= maxPasses {
			deadlock = true
			break
		}
		for _, c := range conflicts {
			// Earlier pauses in this same pass suppress reprocessing.
			if robots[c.I].State == fleet.Pause || robots[c.J].State == fleet.Pause {
				continue
			}

			stateI, stateJ := r.policy(&robots[c.I], &robots[c.J])

			if stateI == fleet.Pause && stateJ == fleet.Pause {
				deadlock = true
				break
			}

			// Advance before the state write: the move is gated on the
			// robot's state from the previous cycle.
			if stateI == fleet.Resume {
				advanceWaypoint(&robots[c.I])
			}
			if stateJ == fleet.Resume {
				advanceWaypoint(&robots[c.J])
			}

			robots[c.I].State = stateI
			robots[c.J].State = stateJ
		}

		conflicts = r.detect(robots)

		if len(conflicts) > 0 {
			r.breakDeadlock(robots, conflicts)
		}
	}

	// Any unresolved mutual stop halts the whole fleet, including robots
	// that were never party to a conflict.
	if deadlock {
		for i := range robots {
			robots[i].State = fleet.Pause
		}
		out.Deadlock = true
	}

	return out
}

// detect builds the conflict list over all pairs in ascending (i, j) order.
func (r *Resolver) detect(robots []fleet.Robot) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(robots); i++ {
		for j := i + 1; j < len(robots); j++ {
			if Overlaps(&robots[i], &robots[j], r.width, r.height) {
				conflicts = append(conflicts, Conflict{I: i, J: j})
			}
		}
	}
	return conflicts
}

// breakDeadlock processes each unique conflict pair once. A side that is
// already paused yields right of way: the other side resumes and advances.
// Pairs where neither side has paused yet fall back to the policy, which by
// default offers no resolution and leaves the fleet-wide halt to Update.
func (r *Resolver) breakDeadlock(robots []fleet.Robot, conflicts []Conflict) {
	handled := make(map[Conflict]struct{}, len(conflicts))

	for _, c := range conflicts {
		if _, ok := handled[c]; ok {
			continue
		}

		var stateI, stateJ fleet.MotionState
		switch {
		case robots[c.I].State == fleet.Pause:
			advanceWaypoint(&robots[c.J])
			stateI, stateJ = fleet.Pause, fleet.Resume
		case robots[c.J].State == fleet.Pause:
			advanceWaypoint(&robots[c.I])
			stateI, stateJ = fleet.Resume, fleet.Pause
		default:
			stateI, stateJ = r.policy(&robots[c.I], &robots[c.J])
		}

		robots[c.I].State = stateI
		robots[c.J].State = stateJ

		handled[c] = struct{}{}
	}
}
