package pathfinding

import (
	"github.com/go-gl/mathgl/mgl64"

	"voxelnav/internal/world"
)

// Waypoint is a point along a route: the centre of a block at feet height.
type Waypoint struct {
	Coord world.BlockCoord
	Pos   mgl64.Vec3
}

// WaypointAt returns the waypoint standing in block c.
func WaypointAt(c world.BlockCoord) Waypoint {
	return Waypoint{
		Coord: c,
		Pos:   mgl64.Vec3{float64(c.X) + 0.5, float64(c.Y) + 0.5, float64(c.Z)},
	}
}

// Move is one edge of the unsimplified route.
type Move struct {
	From   world.BlockCoord
	To     world.BlockCoord
	Action Action
	Cost   float64
}

// Path is an immutable route produced by FindPath.
type Path struct {
	Waypoints  []Waypoint
	Moves      []Move
	Cost       float64
	Iterations int
	// Partial is set when the route ends at the best node found rather
	// than within the arrival radius of the goal.
	Partial bool
}

func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Waypoints)
}

// End returns the final waypoint.
func (p *Path) End() Waypoint {
	return p.Waypoints[len(p.Waypoints)-1]
}

// CountActions returns how many raw moves used action a.
func (p *Path) CountActions(a Action) int {
	n := 0
	for _, m := range p.Moves {
		if m.Action == a {
			n++
		}
	}
	return n
}
