package navigation

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"voxelnav/internal/config"
	"voxelnav/internal/pathfinding"
	"voxelnav/internal/world"
)

type fakeActuator struct {
	pressed map[Control]bool
	calls   int
	looks   []mgl64.Vec3
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{pressed: make(map[Control]bool)}
}

func (a *fakeActuator) SetControl(c Control, pressed bool) {
	a.calls++
	a.pressed[c] = pressed
}

func (a *fakeActuator) LookAt(point mgl64.Vec3, maxTurnDegrees float64) {
	a.looks = append(a.looks, point)
}

func (a *fakeActuator) anyPressed() bool {
	for _, p := range a.pressed {
		if p {
			return true
		}
	}
	return false
}

type fakePlanner struct {
	calls int
	plan  func(start, goal world.BlockCoord) *pathfinding.Path
}

func (p *fakePlanner) FindPath(ctx context.Context, start, goal world.BlockCoord, arrivalRadius float64) *pathfinding.Path {
	p.calls++
	if p.plan == nil {
		return nil
	}
	return p.plan(start, goal)
}

// straightPlanner returns a level path along +X from start to the goal column.
func straightPlanner() *fakePlanner {
	return &fakePlanner{plan: func(start, goal world.BlockCoord) *pathfinding.Path {
		path := &pathfinding.Path{}
		for x := start.X; x <= goal.X; x++ {
			path.Waypoints = append(path.Waypoints, pathfinding.WaypointAt(world.BlockCoord{X: x, Y: start.Y, Z: start.Z}))
		}
		return path
	}}
}

func testParams() Params {
	return Params{
		ArrivalRadius:             1.5,
		DirectRange:               4,
		WaypointTolerance:         0.5,
		WaypointVerticalTolerance: 1.5,
		TargetMoveThreshold:       3,
		StuckTimeoutTicks:         10,
		SessionTimeoutTicks:       1000,
		ReplanCooldownTicks:       5,
		MaxReplans:                3,
		BlockedEscalateTicks:      6,
		CollisionStrafeTicks:      4,
		StrafeCommitTicks:         8,
		SprintLookahead:           3,
		TurnRateDegrees:           30,
	}
}

func newTestController(planner Planner, params Params) (*Controller, *fakeActuator) {
	actuator := newFakeActuator()
	return NewController(planner, actuator, params, WithLogger(log.New(&bytes.Buffer{}, "", 0))), actuator
}

var farTarget = FixedTarget{Point: mgl64.Vec3{20.5, 0.5, 1}}

func atFeet(x float64) Input {
	return Input{Position: mgl64.Vec3{x, 0.5, 1}}
}

func TestStuckTriggersSingleReplanThenAborts(t *testing.T) {
	planner := straightPlanner()
	params := testParams()
	ctrl, actuator := newTestController(planner, params)
	require.NoError(t, ctrl.Start(farTarget))

	stuck := Input{Position: mgl64.Vec3{0.5, 0.5, 1}, HorizontalCollision: true}
	ctx := context.Background()

	// one tick past the stuck timeout, but short of a second timeout
	for i := 0; i < params.StuckTimeoutTicks+2; i++ {
		ctrl.Tick(ctx, stuck)
	}
	require.Equal(t, 2, planner.calls, "expected the initial plan plus exactly one replan")
	require.Equal(t, 1, ctrl.Status().Replans)
	require.True(t, ctrl.IsActive())

	for i := 0; i < 10*params.StuckTimeoutTicks && ctrl.IsActive(); i++ {
		ctrl.Tick(ctx, stuck)
	}
	require.False(t, ctrl.IsActive())
	require.ErrorIs(t, ctrl.Err(), ErrStuck)
	require.Equal(t, OutcomeStuck, ctrl.Outcome())
	require.Equal(t, params.MaxReplans+1, planner.calls)
	require.False(t, ctrl.HasTimedOut())
	require.False(t, actuator.anyPressed())
}

func TestFailedReplanChargesBudgetOnce(t *testing.T) {
	straight := straightPlanner()
	planner := &fakePlanner{plan: func(start, goal world.BlockCoord) *pathfinding.Path {
		if straight.calls > 0 {
			return nil
		}
		straight.calls++
		return straight.plan(start, goal)
	}}
	params := testParams()
	params.ReplanCooldownTicks = 1000
	ctrl, _ := newTestController(planner, params)
	require.NoError(t, ctrl.Start(farTarget))

	ctx := context.Background()
	ctrl.Tick(ctx, atFeet(0.5))
	require.Equal(t, 1, planner.calls)

	stuck := Input{Position: mgl64.Vec3{0.5, 0.5, 1}, HorizontalCollision: true}
	for i := 0; i < params.StuckTimeoutTicks+1; i++ {
		ctrl.Tick(ctx, stuck)
	}
	require.Equal(t, 2, planner.calls, "one replan after the stuck timeout")
	require.Equal(t, 1, ctrl.Status().Replans)
	require.True(t, ctrl.IsActive())
}

func TestSessionTimeoutReleasesInputsSameTick(t *testing.T) {
	params := testParams()
	params.SessionTimeoutTicks = 15
	ctrl, actuator := newTestController(straightPlanner(), params)
	require.NoError(t, ctrl.Start(farTarget))

	ctx := context.Background()
	x := 0.5
	for i := 0; i < params.SessionTimeoutTicks; i++ {
		ctrl.Tick(ctx, atFeet(x))
		x += 0.3
	}
	require.True(t, ctrl.IsActive())
	require.False(t, ctrl.HasTimedOut())
	require.True(t, actuator.pressed[ControlForward])
	require.Zero(t, ctrl.Status().Replans)

	ctrl.Tick(ctx, atFeet(x))
	require.True(t, ctrl.HasTimedOut())
	require.False(t, ctrl.IsActive())
	require.False(t, actuator.anyPressed())
	require.ErrorIs(t, ctrl.Err(), ErrTimedOut)
	require.Equal(t, "idle (timed out)", ctrl.StatusDisplay())
}

func TestStopIsIdempotent(t *testing.T) {
	ctrl, actuator := newTestController(straightPlanner(), testParams())

	ctrl.Stop()
	require.Zero(t, actuator.calls)
	require.False(t, actuator.anyPressed())
	require.False(t, ctrl.IsActive())

	require.NoError(t, ctrl.Start(farTarget))
	ctrl.Tick(context.Background(), atFeet(0.5))
	require.True(t, actuator.pressed[ControlForward])

	ctrl.Stop()
	require.False(t, actuator.anyPressed())
	require.ErrorIs(t, ctrl.Err(), ErrInterrupted)

	calls := actuator.calls
	ctrl.Stop()
	require.Equal(t, calls, actuator.calls)
	require.False(t, actuator.anyPressed())
}

func TestArrivalEndsSession(t *testing.T) {
	var finished []Summary
	planner := straightPlanner()
	actuator := newFakeActuator()
	ctrl := NewController(planner, actuator, testParams(),
		WithLogger(log.New(&bytes.Buffer{}, "", 0)),
		WithFinishHook(func(s Summary) { finished = append(finished, s) }))

	require.NoError(t, ctrl.Start(FixedTarget{Point: mgl64.Vec3{1.5, 0.5, 1}}))
	ctrl.Tick(context.Background(), atFeet(0.5))

	require.False(t, ctrl.IsActive())
	require.Equal(t, OutcomeArrived, ctrl.Outcome())
	require.NoError(t, ctrl.Err())
	require.Zero(t, planner.calls)
	require.Len(t, finished, 1)
	require.Equal(t, 1, finished[0].Ticks)
	require.False(t, actuator.anyPressed())
}

func TestDirectModeSkipsPlanner(t *testing.T) {
	planner := straightPlanner()
	ctrl, actuator := newTestController(planner, testParams())
	target := mgl64.Vec3{4.0, 0.5, 1}
	require.NoError(t, ctrl.Start(FixedTarget{Point: target}))

	ctrl.Tick(context.Background(), atFeet(0.5))
	require.Zero(t, planner.calls)
	require.True(t, actuator.pressed[ControlForward])
	require.False(t, actuator.pressed[ControlSprint])
	require.Equal(t, target, actuator.looks[len(actuator.looks)-1])
	require.Equal(t, "walking, 3.5 units, mode=direct", ctrl.StatusDisplay())
}

func TestDirectModeEscalatesWhenBlocked(t *testing.T) {
	planner := straightPlanner()
	params := testParams()
	ctrl, _ := newTestController(planner, params)
	require.NoError(t, ctrl.Start(FixedTarget{Point: mgl64.Vec3{4.0, 0.5, 1}}))

	blocked := Input{Position: mgl64.Vec3{0.5, 0.5, 1}, HorizontalCollision: true}
	for i := 0; i < params.BlockedEscalateTicks-1; i++ {
		ctrl.Tick(context.Background(), blocked)
	}
	require.Zero(t, planner.calls)
	require.Equal(t, ModeDirect, ctrl.Status().Mode)

	ctrl.Tick(context.Background(), blocked)
	require.Equal(t, 1, planner.calls)
	require.Equal(t, ModePath, ctrl.Status().Mode)

	ctrl.Tick(context.Background(), blocked)
	require.Equal(t, 1, planner.calls, "escalation plans once, not every tick")
	require.Equal(t, ModePath, ctrl.Status().Mode)
}

func TestPathModeFollowsWaypoints(t *testing.T) {
	planner := straightPlanner()
	ctrl, actuator := newTestController(planner, testParams())
	require.NoError(t, ctrl.Start(farTarget))
	ctx := context.Background()

	ctrl.Tick(ctx, atFeet(0.5))
	require.Equal(t, 1, planner.calls)
	st := ctrl.Status()
	require.Equal(t, ModePath, st.Mode)
	require.Equal(t, 1, st.Waypoint)
	require.Equal(t, mgl64.Vec3{1.5, 0.5, 1}, actuator.looks[len(actuator.looks)-1])
	require.True(t, actuator.pressed[ControlForward])
	require.True(t, actuator.pressed[ControlSprint], "flat path ahead should sprint")
	require.False(t, actuator.pressed[ControlJump])
	require.Equal(t, "walking, 20.0 units, mode=A*", ctrl.StatusDisplay())

	ctrl.Tick(ctx, atFeet(1.4))
	require.Equal(t, 2, ctrl.Status().Waypoint)
	require.Equal(t, mgl64.Vec3{2.5, 0.5, 1}, actuator.looks[len(actuator.looks)-1])
}

func TestPathModeJumpsAndSuppressesSprintNearClimb(t *testing.T) {
	planner := &fakePlanner{plan: func(start, goal world.BlockCoord) *pathfinding.Path {
		return &pathfinding.Path{Waypoints: []pathfinding.Waypoint{
			pathfinding.WaypointAt(world.BlockCoord{X: 0, Y: 0, Z: 1}),
			pathfinding.WaypointAt(world.BlockCoord{X: 1, Y: 0, Z: 1}),
			pathfinding.WaypointAt(world.BlockCoord{X: 2, Y: 0, Z: 2}),
			pathfinding.WaypointAt(world.BlockCoord{X: 20, Y: 0, Z: 2}),
		}}
	}}
	ctrl, actuator := newTestController(planner, testParams())
	require.NoError(t, ctrl.Start(farTarget))
	ctx := context.Background()

	ctrl.Tick(ctx, atFeet(0.5))
	require.False(t, actuator.pressed[ControlSprint], "climb within lookahead")
	require.False(t, actuator.pressed[ControlJump])

	ctrl.Tick(ctx, atFeet(1.5))
	require.Equal(t, 2, ctrl.Status().Waypoint)
	require.True(t, actuator.pressed[ControlJump], "next waypoint is a block higher")
}

func TestCollisionCommitsToOneStrafeDirection(t *testing.T) {
	params := testParams()
	params.StuckTimeoutTicks = 100
	ctrl, actuator := newTestController(straightPlanner(), params)
	require.NoError(t, ctrl.Start(farTarget))
	ctx := context.Background()

	blocked := Input{Position: mgl64.Vec3{0.5, 0.5, 1}, HorizontalCollision: true}
	for i := 0; i < params.CollisionStrafeTicks-1; i++ {
		ctrl.Tick(ctx, blocked)
		require.False(t, actuator.pressed[ControlLeft] || actuator.pressed[ControlRight])
		require.True(t, actuator.pressed[ControlJump])
	}

	ctrl.Tick(ctx, blocked)
	first := ControlLeft
	if actuator.pressed[ControlRight] {
		first = ControlRight
	}
	require.True(t, actuator.pressed[first])

	// the side holds for the whole commitment even once the collision clears
	for i := 1; i < params.StrafeCommitTicks; i++ {
		ctrl.Tick(ctx, atFeet(0.5))
		require.True(t, actuator.pressed[first], "tick %d", i)
	}
	ctrl.Tick(ctx, atFeet(0.5))
	require.False(t, actuator.pressed[ControlLeft] || actuator.pressed[ControlRight])

	for i := 0; i < params.CollisionStrafeTicks; i++ {
		ctrl.Tick(ctx, blocked)
	}
	second := ControlLeft
	if first == ControlLeft {
		second = ControlRight
	}
	require.True(t, actuator.pressed[second], "next commitment takes the other side")
	require.False(t, actuator.pressed[first])
}

type movingTarget struct {
	pos   mgl64.Vec3
	valid bool
}

func (m *movingTarget) Position() mgl64.Vec3 { return m.pos }
func (m *movingTarget) Valid() bool          { return m.valid }

func TestTargetMovementTriggersReplan(t *testing.T) {
	planner := straightPlanner()
	ctrl, _ := newTestController(planner, testParams())
	target := &movingTarget{pos: mgl64.Vec3{20.5, 0.5, 1}, valid: true}
	require.NoError(t, ctrl.Start(target))
	ctx := context.Background()

	ctrl.Tick(ctx, atFeet(0.5))
	target.pos = mgl64.Vec3{22.5, 0.5, 1}
	ctrl.Tick(ctx, atFeet(0.6))
	require.Equal(t, 1, planner.calls, "moving less than the threshold keeps the path")

	target.pos = mgl64.Vec3{24.0, 0.5, 1}
	ctrl.Tick(ctx, atFeet(0.7))
	require.Equal(t, 2, planner.calls)
	require.Equal(t, 1, ctrl.Status().Replans)
}

func TestTargetLossAbortsImmediately(t *testing.T) {
	ctrl, actuator := newTestController(straightPlanner(), testParams())
	target := &movingTarget{pos: mgl64.Vec3{20.5, 0.5, 1}, valid: true}
	require.NoError(t, ctrl.Start(target))

	ctrl.Tick(context.Background(), atFeet(0.5))
	require.True(t, actuator.anyPressed())

	target.valid = false
	ctrl.Tick(context.Background(), atFeet(0.6))
	require.False(t, ctrl.IsActive())
	require.False(t, actuator.anyPressed())
	require.ErrorIs(t, ctrl.Err(), ErrTargetLost)
	require.False(t, ctrl.HasTimedOut())

	require.ErrorIs(t, ctrl.Start(target), ErrTargetLost)
	require.False(t, ctrl.IsActive())
}

func TestScreenOpenInterrupts(t *testing.T) {
	ctrl, actuator := newTestController(straightPlanner(), testParams())
	require.NoError(t, ctrl.Start(farTarget))

	ctrl.Tick(context.Background(), atFeet(0.5))
	in := atFeet(0.6)
	in.ScreenOpen = true
	ctrl.Tick(context.Background(), in)

	require.False(t, ctrl.IsActive())
	require.False(t, actuator.anyPressed())
	require.ErrorIs(t, ctrl.Err(), ErrInterrupted)
}

func TestPlanningFailureOutOfRangeSpendsReplanBudget(t *testing.T) {
	planner := &fakePlanner{}
	params := testParams()
	ctrl, actuator := newTestController(planner, params)
	require.NoError(t, ctrl.Start(farTarget))

	for i := 0; i < 200 && ctrl.IsActive(); i++ {
		ctrl.Tick(context.Background(), atFeet(0.5))
	}
	require.False(t, ctrl.IsActive())
	require.ErrorIs(t, ctrl.Err(), ErrPlanningFailed)
	require.Equal(t, params.MaxReplans+1, planner.calls)
	require.False(t, actuator.anyPressed())
}

func TestPlanningFailureInRangeFallsBackToDirect(t *testing.T) {
	planner := &fakePlanner{}
	params := testParams()
	ctrl, actuator := newTestController(planner, params)
	require.NoError(t, ctrl.Start(FixedTarget{Point: mgl64.Vec3{4.0, 0.5, 1}}))

	blocked := Input{Position: mgl64.Vec3{0.5, 0.5, 1}, HorizontalCollision: true}
	for i := 0; i < params.BlockedEscalateTicks; i++ {
		ctrl.Tick(context.Background(), blocked)
	}
	require.Equal(t, 1, planner.calls)
	require.True(t, ctrl.IsActive())
	require.Equal(t, ModeDirect, ctrl.Status().Mode)
	require.Zero(t, ctrl.Status().Replans)
	require.True(t, actuator.pressed[ControlForward])
}

func TestRestartReplacesSession(t *testing.T) {
	var outcomes []Outcome
	ctrl := NewController(straightPlanner(), newFakeActuator(), testParams(),
		WithLogger(log.New(&bytes.Buffer{}, "", 0)),
		WithFinishHook(func(s Summary) { outcomes = append(outcomes, s.Outcome) }))

	require.NoError(t, ctrl.Start(farTarget))
	ctrl.Tick(context.Background(), atFeet(0.5))
	require.NoError(t, ctrl.Start(FixedTarget{Point: mgl64.Vec3{10.5, 0.5, 1}}))

	require.True(t, ctrl.IsActive())
	require.Equal(t, []Outcome{OutcomeStopped}, outcomes)
	require.Equal(t, "walking, starting", ctrl.StatusDisplay())
}

func TestSetParamsAppliesFromNextSession(t *testing.T) {
	ctrl, _ := newTestController(straightPlanner(), testParams())

	idle := testParams()
	idle.ArrivalRadius = 2
	ctrl.SetParams(idle)
	require.Equal(t, 2.0, ctrl.Params().ArrivalRadius)

	require.NoError(t, ctrl.Start(farTarget))
	busy := testParams()
	busy.ArrivalRadius = 3
	ctrl.SetParams(busy)
	require.Equal(t, 2.0, ctrl.params.ArrivalRadius, "running session keeps its tuning")
	require.Equal(t, 3.0, ctrl.Params().ArrivalRadius)

	ctrl.Stop()
	require.NoError(t, ctrl.Start(farTarget))
	require.Equal(t, 3.0, ctrl.params.ArrivalRadius)
}

func TestParamsFromConfigConvertsDurations(t *testing.T) {
	cfg := config.Default().Navigation
	cfg.StuckTimeout = config.Duration(3 * time.Second)
	cfg.SessionTimeout = config.Duration(60 * time.Second)
	cfg.ReplanCooldown = config.Duration(120 * time.Millisecond)

	p := ParamsFromConfig(cfg, 50*time.Millisecond)
	require.Equal(t, 60, p.StuckTimeoutTicks)
	require.Equal(t, 1200, p.SessionTimeoutTicks)
	require.Equal(t, 3, p.ReplanCooldownTicks)
	require.Equal(t, cfg.MaxReplans, p.MaxReplans)

	cfg.ReplanCooldown = 0
	require.Zero(t, ParamsFromConfig(cfg, 50*time.Millisecond).ReplanCooldownTicks)
}

func TestBlockAt(t *testing.T) {
	require.Equal(t, world.BlockCoord{X: -1, Y: 2, Z: 1}, BlockAt(mgl64.Vec3{-0.2, 2.9, 0.9999999}))
	require.Equal(t, world.BlockCoord{X: 3, Y: 0, Z: 4}, BlockAt(mgl64.Vec3{3.5, 0.5, 4}))
}
