package pathfinding

import (
	"math"

	"voxelnav/internal/world"
)

// Heuristic estimates the cost of moving from a to b. It never exceeds the
// cheapest sequence of actions in costs.go, whatever the terrain.
//
// Horizontal distance is octile. Climbing costs at least CostSwimUp per
// block, and each climbed block may carry one cardinal step for another
// half unit (a jump). Carried steps first shorten the longer horizontal axis
// and then both axes in pairs, which is only a saving when done in pairs.
// Descending costs at least CostDropLiquidPerBlock per block on top of the
// horizontal distance.
func Heuristic(a, b world.BlockCoord) float64 {
	dx := absInt(b.X - a.X)
	dy := absInt(b.Y - a.Y)
	dz := b.Z - a.Z
	long, short := dx, dy
	if short > long {
		long, short = short, long
	}

	switch {
	case dz > 0:
		carried := minInt(dz, long-short)
		long -= carried
		pairs := minInt((dz-carried)/2, short)
		long -= pairs
		short -= pairs
		carried += 2 * pairs
		climbCarry := (CostJump - CostSwimUp) * float64(carried)
		return CostSwimUp*float64(dz) + climbCarry + octile(long, short)
	case dz < 0:
		return octile(long, short) + CostDropLiquidPerBlock*float64(-dz)
	default:
		return octile(long, short)
	}
}

// HeuristicWithin bounds the cost from a to any cell within radius of goal.
// Every such cell lies in the cube of half-width floor(radius) around goal,
// and Heuristic never shrinks as an axis offset grows, so the cube cell
// nearest to a on each axis gives the bound.
func HeuristicWithin(a, goal world.BlockCoord, radius float64) float64 {
	r := int(math.Floor(radius))
	if r <= 0 {
		return Heuristic(a, goal)
	}
	near := world.BlockCoord{
		X: clampInt(a.X, goal.X-r, goal.X+r),
		Y: clampInt(a.Y, goal.Y-r, goal.Y+r),
		Z: clampInt(a.Z, goal.Z-r, goal.Z+r),
	}
	return Heuristic(a, near)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func octile(long, short int) float64 {
	return float64(long) + (math.Sqrt2-1)*float64(short)
}

func distance(a, b world.BlockCoord) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	dz := float64(a.Z - b.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
