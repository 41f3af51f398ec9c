package collision

import (
	"errors"

	"github.com/mtzanidakis/fleetmon/internal/fleet"
)

// ErrIncompleteBatch is returned when a cycle is triggered before exactly
// the configured number of robot reports has been collected. The batch is
// left untouched; the caller keeps collecting and retries.
var ErrIncompleteBatch = errors.New("not yet received all agent records")

// Monitor validates that a complete batch has arrived and drives the
// resolver once per batch. It carries no state across calls.
type Monitor struct {
	numAgents int
	resolver  *Resolver
}

// NewMonitor builds a monitor for a fleet of numAgents robots with the
// given bounding-box size. A nil policy selects the default PauseBoth.
func NewMonitor(width, height float64, numAgents int, policy Policy) *Monitor {
	return &Monitor{
		numAgents: numAgents,
		resolver:  NewResolver(width, height, policy),
	}
}

// RunCycle resolves one complete batch in place. A batch whose size is not
// exactly the configured agent count is rejected without mutation.
func (m *Monitor) RunCycle(robots []fleet.Robot) (Outcome, error) {
	if len(robots) != m.numAgents {
		return Outcome{}, ErrIncompleteBatch
	}
	return m.resolver.Update(robots), nil
}
