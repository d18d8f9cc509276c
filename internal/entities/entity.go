package entities

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

type ID string

type Kind string

const (
	// KindAgent is a body driven by a navigation controller.
	KindAgent Kind = "agent"
	// KindMarker is a passive point other agents can walk to or follow.
	KindMarker Kind = "marker"
)

// Rotation is a view direction in degrees. Yaw 0 faces +X, 90 faces +Y.
type Rotation struct {
	Yaw   float64
	Pitch float64
}

// Entity positions are feet positions in world blocks.
type Entity struct {
	mu sync.RWMutex

	ID          ID
	Kind        Kind
	Name        string
	Position    mgl64.Vec3
	Velocity    mgl64.Vec3
	Orientation Rotation
	OnGround    bool

	LastTick time.Time
	Dying    bool
}

// State is an immutable copy of an entity.
type State struct {
	ID          ID
	Kind        Kind
	Name        string
	Position    mgl64.Vec3
	Velocity    mgl64.Vec3
	Orientation Rotation
	OnGround    bool
	Dying       bool
}

func (e *Entity) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		ID:          e.ID,
		Kind:        e.Kind,
		Name:        e.Name,
		Position:    e.Position,
		Velocity:    e.Velocity,
		Orientation: e.Orientation,
		OnGround:    e.OnGround,
		Dying:       e.Dying,
	}
}

func (e *Entity) SetPosition(pos mgl64.Vec3) {
	e.mu.Lock()
	e.Position = pos
	e.mu.Unlock()
}

func (e *Entity) SetVelocity(vel mgl64.Vec3) {
	e.mu.Lock()
	e.Velocity = vel
	e.mu.Unlock()
}

func (e *Entity) PositionVec() mgl64.Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Position
}

func (e *Entity) VelocityVec() mgl64.Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Velocity
}

func (e *Entity) Facing() Rotation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Orientation
}

func (e *Entity) SetFacing(r Rotation) {
	e.mu.Lock()
	e.Orientation = r
	e.mu.Unlock()
}

// applyMotion stores the result of one physics step.
func (e *Entity) applyMotion(pos, vel mgl64.Vec3, onGround bool, at time.Time) {
	e.mu.Lock()
	e.Position = pos
	e.Velocity = vel
	e.OnGround = onGround
	e.LastTick = at
	e.mu.Unlock()
}

// FlagDying marks the entity for removal on the next Sweep. Targets referring
// to it become invalid immediately.
func (e *Entity) FlagDying() {
	e.mu.Lock()
	e.Dying = true
	e.mu.Unlock()
}

func (e *Entity) IsDying() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Dying
}
