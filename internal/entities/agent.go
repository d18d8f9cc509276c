package entities

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnav/internal/navigation"
	"voxelnav/internal/world"
)

// BodyParams describes the simulated agent body. Speeds are blocks per
// second, accelerations blocks per second squared.
type BodyParams struct {
	HalfWidth    float64
	Height       float64
	EyeHeight    float64
	WalkSpeed    float64
	SprintSpeed  float64
	SwimSpeed    float64
	JumpVelocity float64
	SwimUpSpeed  float64
	Gravity      float64
	MaxFallSpeed float64
	LiquidSink   float64
	MaxSinkSpeed float64
}

func DefaultBodyParams() BodyParams {
	return BodyParams{
		HalfWidth:    0.3,
		Height:       1.8,
		EyeHeight:    1.62,
		WalkSpeed:    4.3,
		SprintSpeed:  5.6,
		SwimSpeed:    2.0,
		JumpVelocity: 8.5,
		SwimUpSpeed:  2.0,
		Gravity:      28,
		MaxFallSpeed: 40,
		LiquidSink:   4,
		MaxSinkSpeed: 1.5,
	}
}

// maxSubstep bounds how far one collision substep moves along an axis.
const maxSubstep = 0.25

// Agent is a simulated body that a navigation controller can drive. It is
// not safe for concurrent use; the entity it moves is.
type Agent struct {
	entity *Entity
	oracle world.Oracle
	params BodyParams

	controls  map[navigation.Control]bool
	collided  bool
	inLiquid  bool
	onGround  bool
	screenOff bool
}

func NewAgent(entity *Entity, oracle world.Oracle, params BodyParams) *Agent {
	a := &Agent{
		entity:   entity,
		oracle:   oracle,
		params:   params,
		controls: make(map[navigation.Control]bool),
	}
	a.inLiquid = a.touches(entity.PositionVec(), oracle.IsLiquid)
	return a
}

func (a *Agent) Entity() *Entity { return a.entity }

func (a *Agent) SetControl(c navigation.Control, pressed bool) {
	a.controls[c] = pressed
}

// Pressed reports the current state of control c.
func (a *Agent) Pressed(c navigation.Control) bool {
	return a.controls[c]
}

// LookAt turns the eyes toward point, moving yaw and pitch by at most
// maxTurnDegrees each. A non-positive limit turns instantly.
func (a *Agent) LookAt(point mgl64.Vec3, maxTurnDegrees float64) {
	eye := a.entity.PositionVec().Add(mgl64.Vec3{0, 0, a.params.EyeHeight})
	d := point.Sub(eye)
	if math.Hypot(d.X(), d.Y()) < 1e-9 && math.Abs(d.Z()) < 1e-9 {
		return
	}
	wantYaw := mgl64.RadToDeg(math.Atan2(d.Y(), d.X()))
	wantPitch := mgl64.RadToDeg(math.Atan2(d.Z(), math.Hypot(d.X(), d.Y())))

	cur := a.entity.Facing()
	a.entity.SetFacing(Rotation{
		Yaw:   normalizeDegrees(cur.Yaw + clampTurn(normalizeDegrees(wantYaw-cur.Yaw), maxTurnDegrees)),
		Pitch: cur.Pitch + clampTurn(wantPitch-cur.Pitch, maxTurnDegrees),
	})
}

// Input reports the feedback of the most recent Step.
func (a *Agent) Input() navigation.Input {
	return navigation.Input{
		Position:            a.entity.PositionVec(),
		TouchingLiquid:      a.inLiquid,
		HorizontalCollision: a.collided,
		ScreenOpen:          a.screenOff,
	}
}

// SetScreenOpen simulates a UI screen grabbing the agent's input.
func (a *Agent) SetScreenOpen(open bool) {
	a.screenOff = open
}

// Step integrates one tick of movement from the current control state.
func (a *Agent) Step(dt time.Duration) {
	secs := dt.Seconds()
	if secs <= 0 {
		return
	}
	p := a.params
	pos := a.entity.PositionVec()
	vel := a.entity.VelocityVec()
	yaw := mgl64.DegToRad(a.entity.Facing().Yaw)

	forward := mgl64.Vec2{math.Cos(yaw), math.Sin(yaw)}
	right := mgl64.Vec2{math.Sin(yaw), -math.Cos(yaw)}
	var move mgl64.Vec2
	if a.controls[navigation.ControlForward] {
		move = move.Add(forward)
	}
	if a.controls[navigation.ControlBack] {
		move = move.Sub(forward)
	}
	if a.controls[navigation.ControlRight] {
		move = move.Add(right)
	}
	if a.controls[navigation.ControlLeft] {
		move = move.Sub(right)
	}
	if move.Len() > 1e-9 {
		move = move.Normalize()
	}

	speed := p.WalkSpeed
	switch {
	case a.inLiquid:
		speed = p.SwimSpeed
	case a.controls[navigation.ControlSprint] && a.controls[navigation.ControlForward]:
		speed = p.SprintSpeed
	}
	vel[0], vel[1] = move.X()*speed, move.Y()*speed

	jump := a.controls[navigation.ControlJump]
	switch {
	case a.inLiquid && jump:
		vel[2] = p.SwimUpSpeed
	case a.inLiquid:
		vel[2] = math.Max(vel[2]-p.LiquidSink*secs, -p.MaxSinkSpeed)
	case a.onGround && jump:
		vel[2] = p.JumpVelocity
	default:
		vel[2] = math.Max(vel[2]-p.Gravity*secs, -p.MaxFallSpeed)
	}

	var blockedX, blockedY, blockedZ bool
	pos, blockedX = a.moveAxis(pos, 0, vel.X()*secs)
	pos, blockedY = a.moveAxis(pos, 1, vel.Y()*secs)
	pos, blockedZ = a.moveAxis(pos, 2, vel.Z()*secs)
	if blockedX {
		vel[0] = 0
	}
	if blockedY {
		vel[1] = 0
	}
	a.onGround = false
	if blockedZ {
		a.onGround = vel.Z() < 0
		vel[2] = 0
	}

	a.collided = blockedX || blockedY
	a.inLiquid = a.touches(pos, a.oracle.IsLiquid)
	a.entity.applyMotion(pos, vel, a.onGround, time.Now())
}

// moveAxis moves pos by d along one axis in bounded substeps, stopping at the
// first solid block. A blocked fall rests the feet on top of the block.
func (a *Agent) moveAxis(pos mgl64.Vec3, axis int, d float64) (mgl64.Vec3, bool) {
	if d == 0 {
		return pos, false
	}
	steps := int(math.Ceil(math.Abs(d) / maxSubstep))
	step := d / float64(steps)
	for i := 0; i < steps; i++ {
		next := pos
		next[axis] += step
		if !a.touches(next, a.oracle.IsSolid) {
			pos = next
			continue
		}
		if axis == 2 && step < 0 {
			next[2] = math.Floor(next[2]) + 1
			if next[2] <= pos[2] && !a.touches(next, a.oracle.IsSolid) {
				pos = next
			}
		}
		return pos, true
	}
	return pos, false
}

// touches reports whether any block overlapped by the body at pos matches.
func (a *Agent) touches(pos mgl64.Vec3, match func(world.BlockCoord) bool) bool {
	const eps = 1e-9
	hw := a.params.HalfWidth
	minX, maxX := int(math.Floor(pos.X()-hw)), int(math.Floor(pos.X()+hw-eps))
	minY, maxY := int(math.Floor(pos.Y()-hw)), int(math.Floor(pos.Y()+hw-eps))
	minZ, maxZ := int(math.Floor(pos.Z())), int(math.Floor(pos.Z()+a.params.Height-eps))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				if match(world.BlockCoord{X: x, Y: y, Z: z}) {
					return true
				}
			}
		}
	}
	return false
}

func clampTurn(delta, limit float64) float64 {
	if limit <= 0 {
		return delta
	}
	return math.Max(-limit, math.Min(limit, delta))
}

// normalizeDegrees maps an angle into (-180, 180].
func normalizeDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	} else if a <= -180 {
		a += 360
	}
	return a
}
