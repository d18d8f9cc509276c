package entities

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

type Manager struct {
	mu       sync.RWMutex
	entities map[ID]*Entity
}

func NewManager() *Manager {
	return &Manager{entities: make(map[ID]*Entity)}
}

func (m *Manager) Add(entity *Entity) error {
	if entity == nil {
		return fmt.Errorf("nil entity")
	}
	if entity.ID == "" {
		return fmt.Errorf("entity missing id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entities[entity.ID]; exists {
		return fmt.Errorf("entity %s already registered", entity.ID)
	}
	m.entities[entity.ID] = entity
	return nil
}

func (m *Manager) Remove(id ID) {
	m.mu.Lock()
	delete(m.entities, id)
	m.mu.Unlock()
}

func (m *Manager) Entity(id ID) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.entities[id]
	return ent, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// Snapshots returns a copy of every entity ordered by ID.
func (m *Manager) Snapshots() []State {
	m.mu.RLock()
	out := make([]State, 0, len(m.entities))
	for _, ent := range m.entities {
		out = append(out, ent.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep removes entities flagged as dying and returns their IDs.
func (m *Manager) Sweep() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []ID
	for id, ent := range m.entities {
		if ent.IsDying() {
			delete(m.entities, id)
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// Target returns a live reference to entity id suitable for navigation. It
// stays valid while the entity is registered and not dying.
func (m *Manager) Target(id ID) *EntityTarget {
	t := &EntityTarget{manager: m, id: id}
	if ent, ok := m.Entity(id); ok {
		t.last = ent.PositionVec()
	}
	return t
}

type EntityTarget struct {
	manager *Manager
	id      ID
	last    mgl64.Vec3
}

func (t *EntityTarget) ID() ID { return t.id }

// Position reports the entity's current position, or the last one seen once
// the entity is gone.
func (t *EntityTarget) Position() mgl64.Vec3 {
	if ent, ok := t.manager.Entity(t.id); ok {
		t.last = ent.PositionVec()
	}
	return t.last
}

func (t *EntityTarget) Valid() bool {
	ent, ok := t.manager.Entity(t.id)
	return ok && !ent.IsDying()
}
