package collision

import "github.com/mtzanidakis/fleetmon/internal/fleet"

// advanceWaypoint moves a Resume robot one waypoint along its path. The
// robot must currently sit exactly on one of its path points (exact float
// equality, no tolerance); otherwise, or at the last waypoint, it stays
// put. Heading is not updated by the advance.
func advanceWaypoint(r *fleet.Robot) {
	if r.State != fleet.Resume {
		return
	}
	for i, wp := range r.Path {
		if wp.X == r.X && wp.Y == r.Y {
			if i+1 < len(r.Path) {
				r.X = r.Path[i+1].X
				r.Y = r.Path[i+1].Y
			}
			return
		}
	}
}
