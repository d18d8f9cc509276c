package navigation

import (
	"context"
	"fmt"
	"log"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnav/internal/pathfinding"
)

// session is the state of one navigation, owned by the Controller and
// discarded when it ends.
type session struct {
	target Target
	path   *pathfinding.Path
	// cursor indexes the waypoint being walked to. It only runs past the
	// end of path transiently, which forces a replan.
	cursor int
	mode   Mode

	ticks            int
	lastProgressTick int
	nextPlanTick     int
	plans            int
	replans          int
	// replanCharged is set when a trigger has already spent budget on the
	// next planner call.
	replanCharged bool

	blockedTicks   int
	collisionTicks int
	strafeDir      int
	strafeTicks    int

	lastTargetPos mgl64.Vec3
	forcePath     bool
	distance      float64
}

// Summary describes a finished session.
type Summary struct {
	Outcome  Outcome
	Err      error
	Target   mgl64.Vec3
	Ticks    int
	Plans    int
	Replans  int
	Distance float64
}

// Status is a point-in-time view of the controller.
type Status struct {
	Active    bool
	Mode      Mode
	Distance  float64
	Waypoint  int
	Waypoints []mgl64.Vec3
	Ticks     int
	Replans   int
	TimedOut  bool
	Last      Outcome
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger routes controller diagnostics to logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFinishHook registers fn to be called synchronously whenever a session ends.
func WithFinishHook(fn func(Summary)) Option {
	return func(c *Controller) {
		c.onFinish = fn
	}
}

// Controller drives an Actuator along routes from a Planner, one Tick per
// simulation step. It is not safe for concurrent use.
type Controller struct {
	planner  Planner
	actuator Actuator
	params   Params
	logger   *log.Logger
	onFinish func(Summary)

	session  *session
	next     *Params
	pressed  [controlCount]bool
	timedOut bool
	last     Summary
}

func NewController(planner Planner, actuator Actuator, params Params, opts ...Option) *Controller {
	c := &Controller{
		planner:  planner,
		actuator: actuator,
		params:   params,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins navigating to target, ending any session already running.
func (c *Controller) Start(target Target) error {
	if target == nil || !target.Valid() {
		return ErrTargetLost
	}
	if c.session != nil {
		c.finish(OutcomeStopped, ErrInterrupted)
	}
	if c.next != nil {
		c.params, c.next = *c.next, nil
	}
	c.timedOut = false
	c.session = &session{
		target:    target,
		mode:      ModeIdle,
		strafeDir: 1,
		distance:  -1,
	}
	c.logger.Printf("navigation started toward %s", formatVec(target.Position()))
	return nil
}

// SetParams replaces the tuning. A running session finishes with the values
// it started with; the new ones apply from the next Start.
func (c *Controller) SetParams(p Params) {
	if c.session == nil {
		c.params, c.next = p, nil
		return
	}
	c.next = &p
}

// Params returns the tuning the current or next session runs with.
func (c *Controller) Params() Params {
	if c.next != nil {
		return *c.next
	}
	return c.params
}

// Stop cancels the active session and releases every input. It does nothing
// when no session is active.
func (c *Controller) Stop() {
	if c.session == nil {
		return
	}
	c.finish(OutcomeStopped, ErrInterrupted)
}

func (c *Controller) IsActive() bool {
	return c.session != nil
}

// HasTimedOut reports whether the most recent session ended on the session
// timeout. It resets on Start.
func (c *Controller) HasTimedOut() bool {
	return c.timedOut
}

// Outcome returns how the most recent finished session ended.
func (c *Controller) Outcome() Outcome {
	return c.last.Outcome
}

// Err returns the failure of the most recent finished session, or nil.
func (c *Controller) Err() error {
	return c.last.Err
}

// LastSummary returns the summary of the most recent finished session.
func (c *Controller) LastSummary() Summary {
	return c.last
}

// StatusDisplay returns a one-line human readable status.
func (c *Controller) StatusDisplay() string {
	s := c.session
	if s == nil {
		if c.last.Outcome == OutcomeNone {
			return "idle"
		}
		return fmt.Sprintf("idle (%s)", c.last.Outcome)
	}
	if s.distance < 0 {
		return "walking, starting"
	}
	mode := s.mode
	if mode == ModeIdle {
		mode = ModePath
	}
	return fmt.Sprintf("walking, %.1f units, mode=%s", s.distance, mode)
}

func (c *Controller) Status() Status {
	st := Status{TimedOut: c.timedOut, Last: c.last.Outcome}
	s := c.session
	if s == nil {
		return st
	}
	st.Active = true
	st.Mode = s.mode
	st.Distance = s.distance
	st.Ticks = s.ticks
	st.Replans = s.replans
	st.Waypoint = s.cursor
	if s.path != nil {
		for _, wp := range s.path.Waypoints {
			st.Waypoints = append(st.Waypoints, wp.Pos)
		}
	}
	return st
}

// Tick advances the active session by one simulation step.
func (c *Controller) Tick(ctx context.Context, in Input) {
	s := c.session
	if s == nil {
		return
	}
	s.ticks++

	if s.ticks > c.params.SessionTimeoutTicks {
		c.timedOut = true
		c.finish(OutcomeTimedOut, ErrTimedOut)
		return
	}
	if !s.target.Valid() {
		c.finish(OutcomeTargetLost, ErrTargetLost)
		return
	}
	if in.ScreenOpen {
		c.finish(OutcomeStopped, ErrInterrupted)
		return
	}

	targetPos := s.target.Position()
	s.distance = in.Position.Sub(targetPos).Len()
	if s.distance <= c.params.ArrivalRadius {
		c.finish(OutcomeArrived, nil)
		return
	}

	if s.distance <= c.params.DirectRange && !s.forcePath {
		if c.tickDirect(in, targetPos) {
			return
		}
	}
	c.tickPath(ctx, in, targetPos)
}

// tickDirect walks straight at the target. It returns false when the agent
// has been blocked long enough to hand over to path following.
func (c *Controller) tickDirect(in Input, targetPos mgl64.Vec3) bool {
	s := c.session
	if in.HorizontalCollision {
		s.blockedTicks++
	} else {
		s.blockedTicks = 0
	}
	if s.blockedTicks >= c.params.BlockedEscalateTicks {
		c.logger.Printf("direct approach blocked for %d ticks, planning a path", s.blockedTicks)
		s.blockedTicks = 0
		s.forcePath = true
		s.path = nil
		s.nextPlanTick = 0
		return false
	}

	s.mode = ModeDirect
	s.path = nil
	s.lastProgressTick = s.ticks
	c.actuator.LookAt(targetPos, c.params.TurnRateDegrees)
	c.set(ControlForward, true)
	c.set(ControlJump, in.TouchingLiquid || in.HorizontalCollision || targetPos.Z()-in.Position.Z() > 0.5)
	c.set(ControlSprint, false)
	c.set(ControlLeft, false)
	c.set(ControlRight, false)
	return true
}

func (c *Controller) tickPath(ctx context.Context, in Input, targetPos mgl64.Vec3) {
	s := c.session
	s.mode = ModePath

	if s.path != nil {
		c.advance(in)
		if reason := c.replanReason(targetPos); reason != "" {
			if s.forcePath && reason == "path exhausted" && s.distance <= c.params.DirectRange {
				s.forcePath = false
				s.path = nil
				c.tickDirect(in, targetPos)
				return
			}
			s.path = nil
			s.replans++
			s.replanCharged = true
			if s.replans > c.params.MaxReplans {
				c.logger.Printf("giving up after %d replans (%s)", s.replans-1, reason)
				c.finish(OutcomeStuck, ErrStuck)
				return
			}
			c.logger.Printf("replanning (%s), attempt %d/%d", reason, s.replans, c.params.MaxReplans)
		}
	}

	if s.path == nil {
		if s.ticks < s.nextPlanTick {
			c.hold(targetPos)
			return
		}
		charged := s.replanCharged
		s.replanCharged = false
		if !c.plan(ctx, in, targetPos) {
			s.nextPlanTick = s.ticks + c.params.ReplanCooldownTicks
			if s.distance <= c.params.DirectRange {
				s.forcePath = false
				c.tickDirect(in, targetPos)
				return
			}
			if !charged {
				s.replans++
			}
			if s.replans > c.params.MaxReplans {
				c.logger.Printf("giving up: no path after %d attempts", s.plans)
				c.finish(OutcomePlanningFailed, ErrPlanningFailed)
				return
			}
			c.hold(targetPos)
			return
		}
	}

	c.drive(in)
}

func (c *Controller) replanReason(targetPos mgl64.Vec3) string {
	s := c.session
	switch {
	case targetPos.Sub(s.lastTargetPos).Len() > c.params.TargetMoveThreshold:
		return "target moved"
	case s.ticks-s.lastProgressTick >= c.params.StuckTimeoutTicks:
		return "stuck"
	case s.cursor >= s.path.Len():
		return "path exhausted"
	}
	return ""
}

func (c *Controller) plan(ctx context.Context, in Input, targetPos mgl64.Vec3) bool {
	s := c.session
	s.plans++
	start, goal := BlockAt(in.Position), BlockAt(targetPos)
	path := c.planner.FindPath(ctx, start, goal, c.params.ArrivalRadius)
	if path == nil || path.Len() == 0 {
		c.logger.Printf("no path from %v to %v", start, goal)
		return false
	}
	s.path = path
	s.cursor = 0
	if path.Len() > 1 {
		s.cursor = 1
	}
	s.lastTargetPos = targetPos
	s.lastProgressTick = s.ticks
	s.collisionTicks = 0
	s.strafeTicks = 0
	c.logger.Printf("planned %d waypoints (cost %.1f, %d iterations, partial=%t)",
		path.Len(), path.Cost, path.Iterations, path.Partial)
	return true
}

// advance moves the cursor past every waypoint the agent has reached.
func (c *Controller) advance(in Input) {
	s := c.session
	wps := s.path.Waypoints
	for s.cursor < len(wps) && c.reached(in.Position, wps[s.cursor].Pos) {
		s.cursor++
		s.lastProgressTick = s.ticks
		s.collisionTicks = 0
	}
}

func (c *Controller) reached(pos, wp mgl64.Vec3) bool {
	dz := wp.Z() - pos.Z()
	if dz < 0 {
		dz = -dz
	}
	return horizontalDistance(pos, wp) <= c.params.WaypointTolerance &&
		dz <= c.params.WaypointVerticalTolerance
}

func (c *Controller) drive(in Input) {
	s := c.session
	wps := s.path.Waypoints
	if s.cursor >= len(wps) {
		c.releaseMovement()
		return
	}
	wp := wps[s.cursor].Pos

	c.actuator.LookAt(wp, c.params.TurnRateDegrees)
	c.set(ControlForward, true)
	c.set(ControlBack, false)

	if in.HorizontalCollision {
		s.collisionTicks++
	} else {
		s.collisionTicks = 0
	}
	strafing := c.strafe()

	rise := wp.Z() - in.Position.Z()
	c.set(ControlJump, in.TouchingLiquid || rise > 0.5 || in.HorizontalCollision || strafing)
	c.set(ControlSprint, !in.TouchingLiquid && !in.HorizontalCollision && !strafing && c.flatAhead())
}

// strafe commits to one lateral direction for StrafeCommitTicks once the
// agent has collided for CollisionStrafeTicks, alternating the side each time.
func (c *Controller) strafe() bool {
	s := c.session
	if s.strafeTicks == 0 && c.params.CollisionStrafeTicks > 0 && s.collisionTicks >= c.params.CollisionStrafeTicks {
		s.strafeTicks = c.params.StrafeCommitTicks
		s.strafeDir = -s.strafeDir
		s.collisionTicks = 0
	}
	if s.strafeTicks > 0 {
		s.strafeTicks--
		c.set(ControlRight, s.strafeDir > 0)
		c.set(ControlLeft, s.strafeDir < 0)
		return true
	}
	c.set(ControlLeft, false)
	c.set(ControlRight, false)
	return false
}

// flatAhead reports whether the next SprintLookahead waypoints stay on the
// level of the current one.
func (c *Controller) flatAhead() bool {
	s := c.session
	wps := s.path.Waypoints
	level := wps[s.cursor].Coord.Z
	if s.cursor > 0 {
		level = wps[s.cursor-1].Coord.Z
	}
	for i := s.cursor; i < len(wps) && i <= s.cursor+c.params.SprintLookahead; i++ {
		if wps[i].Coord.Z != level {
			return false
		}
	}
	return true
}

// hold keeps facing the target without moving while waiting to plan.
func (c *Controller) hold(targetPos mgl64.Vec3) {
	c.actuator.LookAt(targetPos, c.params.TurnRateDegrees)
	c.releaseMovement()
}

func (c *Controller) set(ctrl Control, pressed bool) {
	if c.pressed[ctrl] == pressed {
		return
	}
	c.pressed[ctrl] = pressed
	c.actuator.SetControl(ctrl, pressed)
}

func (c *Controller) releaseMovement() {
	for ctrl := Control(0); ctrl < controlCount; ctrl++ {
		c.set(ctrl, false)
	}
}

func (c *Controller) finish(outcome Outcome, err error) {
	s := c.session
	c.releaseMovement()
	c.session = nil
	c.last = Summary{
		Outcome:  outcome,
		Err:      err,
		Target:   s.target.Position(),
		Ticks:    s.ticks,
		Plans:    s.plans,
		Replans:  s.replans,
		Distance: s.distance,
	}
	c.logger.Printf("navigation finished: %s after %d ticks (%d plans, %d replans)", outcome, s.ticks, s.plans, s.replans)
	if c.onFinish != nil {
		c.onFinish(c.last)
	}
}

func formatVec(v mgl64.Vec3) string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", v.X(), v.Y(), v.Z())
}
