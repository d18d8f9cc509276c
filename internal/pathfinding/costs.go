package pathfinding

import (
	"math"

	"voxelnav/internal/world"
)

// Action identifies the kind of move between two search nodes.
type Action uint8

const (
	ActionStart Action = iota
	ActionWalk
	ActionDiagonal
	ActionJump
	ActionJumpHigh
	ActionDrop
	ActionSwimUp
	ActionSwimDiagonal
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionWalk:
		return "walk"
	case ActionDiagonal:
		return "diagonal"
	case ActionJump:
		return "jump"
	case ActionJumpHigh:
		return "jump-high"
	case ActionDrop:
		return "drop"
	case ActionSwimUp:
		return "swim-up"
	case ActionSwimDiagonal:
		return "swim-diagonal"
	default:
		return "unknown"
	}
}

// Action costs. Every upward action costs at least CostSwimUp per block
// climbed plus half a unit per horizontal block it carries; the heuristic
// relies on that.
const (
	CostWalk               = 1.0
	CostDiagonal           = math.Sqrt2
	CostJump               = 2.0
	CostJumpHigh           = 4.5
	CostDropBase           = 1.0
	CostDropPerBlock       = 0.5
	CostDropLiquidPerBlock = 0.25
	CostSwimUp             = 1.5
	CostSwimDiagonal       = 2.0
	CostLiquidSurcharge    = 1.0

	MaxDrop = 4
)

var cardinalOffsets = [...]world.BlockCoord{
	{X: 1}, {X: -1}, {Y: 1}, {Y: -1},
}

var diagonalOffsets = [...]world.BlockCoord{
	{X: 1, Y: 1}, {X: 1, Y: -1}, {X: -1, Y: 1}, {X: -1, Y: -1},
}

type neighbor struct {
	coord  world.BlockCoord
	cost   float64
	action Action
}

// neighbors appends every move available from c to out.
func (t *terrainView) neighbors(c world.BlockCoord, out []neighbor) []neighbor {
	swimming := t.inLiquid(c)
	headroom := t.passable(c.Up(2))

	for _, d := range cardinalOffsets {
		n := c.Add(d)
		switch {
		case t.standable(n):
			out = append(out, neighbor{coord: n, cost: t.horizontalCost(CostWalk, c, n), action: ActionWalk})
		case t.canOccupy(n):
			out = t.appendDrop(out, n)
		case headroom && t.standable(n.Up(1)):
			out = append(out, neighbor{coord: n.Up(1), cost: CostJump, action: ActionJump})
		case headroom && t.passable(c.Up(3)) &&
			t.solid(n) && t.solid(n.Up(1)) && t.standable(n.Up(2)):
			out = append(out, neighbor{coord: n.Up(2), cost: CostJumpHigh, action: ActionJumpHigh})
		}

		if swimming && headroom {
			up := n.Up(1)
			if t.canOccupy(up) && (t.liquid(up) || t.liquid(n)) {
				out = append(out, neighbor{coord: up, cost: CostSwimDiagonal, action: ActionSwimDiagonal})
			}
		}
	}

	for _, d := range diagonalOffsets {
		n := c.Add(d)
		if !t.standable(n) {
			continue
		}
		cornerA := world.BlockCoord{X: c.X + d.X, Y: c.Y, Z: c.Z}
		cornerB := world.BlockCoord{X: c.X, Y: c.Y + d.Y, Z: c.Z}
		if !t.canOccupy(cornerA) && !t.canOccupy(cornerB) {
			continue
		}
		out = append(out, neighbor{coord: n, cost: t.horizontalCost(CostDiagonal, c, n), action: ActionDiagonal})
	}

	if swimming && t.canOccupy(c.Up(1)) {
		out = append(out, neighbor{coord: c.Up(1), cost: CostSwimUp, action: ActionSwimUp})
	}
	return out
}

// appendDrop steps off a ledge into n and falls to the first standable
// cell at most MaxDrop blocks below it.
func (t *terrainView) appendDrop(out []neighbor, n world.BlockCoord) []neighbor {
	for depth := 1; depth <= MaxDrop; depth++ {
		landing := n.Down(depth)
		if !t.passable(landing) {
			return out
		}
		if !t.standable(landing) {
			continue
		}
		perBlock := CostDropPerBlock
		if t.liquid(landing) || t.liquid(landing.Down(1)) {
			perBlock = CostDropLiquidPerBlock
		}
		return append(out, neighbor{
			coord:  landing,
			cost:   CostDropBase + float64(depth)*perBlock,
			action: ActionDrop,
		})
	}
	return out
}

func (t *terrainView) horizontalCost(base float64, from, to world.BlockCoord) float64 {
	if t.inLiquid(from) || t.inLiquid(to) {
		return base + CostLiquidSurcharge
	}
	return base
}
