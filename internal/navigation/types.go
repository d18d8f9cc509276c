package navigation

import (
	"context"
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnav/internal/pathfinding"
	"voxelnav/internal/world"
)

// Control is one of the movement inputs the controller drives.
type Control uint8

const (
	ControlForward Control = iota
	ControlBack
	ControlLeft
	ControlRight
	ControlJump
	ControlSprint

	controlCount
)

func (c Control) String() string {
	switch c {
	case ControlForward:
		return "forward"
	case ControlBack:
		return "back"
	case ControlLeft:
		return "left"
	case ControlRight:
		return "right"
	case ControlJump:
		return "jump"
	case ControlSprint:
		return "sprint"
	default:
		return "unknown"
	}
}

// Actuator applies movement inputs to an agent. SetControl with an unchanged
// state must be a no-op. LookAt turns toward point by at most maxTurnDegrees
// on each axis.
type Actuator interface {
	SetControl(c Control, pressed bool)
	LookAt(point mgl64.Vec3, maxTurnDegrees float64)
}

// Target is a live reference to whatever the agent is walking to.
type Target interface {
	Position() mgl64.Vec3
	Valid() bool
}

// FixedTarget is a target that never moves and never becomes invalid.
type FixedTarget struct {
	Point mgl64.Vec3
}

func (t FixedTarget) Position() mgl64.Vec3 { return t.Point }
func (t FixedTarget) Valid() bool          { return true }

// Input is the feedback snapshot for one tick.
type Input struct {
	Position            mgl64.Vec3
	TouchingLiquid      bool
	HorizontalCollision bool
	ScreenOpen          bool
}

// Planner resolves block routes. *pathfinding.VoxelPathfinder implements it.
type Planner interface {
	FindPath(ctx context.Context, start, goal world.BlockCoord, arrivalRadius float64) *pathfinding.Path
}

// Mode is how the controller is currently moving.
type Mode int

const (
	ModeIdle Mode = iota
	ModeDirect
	ModePath
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModePath:
		return "A*"
	default:
		return "idle"
	}
}

// Outcome records how a navigation session ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeArrived
	OutcomeStopped
	OutcomeTimedOut
	OutcomeTargetLost
	OutcomeStuck
	OutcomePlanningFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeArrived:
		return "arrived"
	case OutcomeStopped:
		return "stopped"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeTargetLost:
		return "target lost"
	case OutcomeStuck:
		return "stuck"
	case OutcomePlanningFailed:
		return "planning failed"
	default:
		return "none"
	}
}

var (
	ErrPlanningFailed = errors.New("navigation: no usable path")
	ErrStuck          = errors.New("navigation: replan budget exhausted")
	ErrTimedOut       = errors.New("navigation: session timed out")
	ErrTargetLost     = errors.New("navigation: target no longer valid")
	ErrInterrupted    = errors.New("navigation: interrupted")
)

// BlockAt returns the block containing a continuous position.
func BlockAt(p mgl64.Vec3) world.BlockCoord {
	return world.BlockCoord{
		X: int(math.Floor(p.X())),
		Y: int(math.Floor(p.Y())),
		Z: int(math.Floor(p.Z() + 1e-6)),
	}
}

func horizontalDistance(a, b mgl64.Vec3) float64 {
	return math.Hypot(a.X()-b.X(), a.Y()-b.Y())
}
