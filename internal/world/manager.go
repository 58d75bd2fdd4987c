package world

import (
	"sort"
	"sync"

	"github.com/annel0/mistborn/internal/vec"
)

// DefaultDrag доля скорости, сохраняемая за секунду
const DefaultDrag = 0.1

// Manager управляет всеми сущностями в мире
type Manager struct {
	entities     map[uint64]*Entity // Хранилище всех сущностей
	byPlayer     map[uint64]uint64  // PlayerID -> EntityID
	nextEntityID uint64             // Счетчик для генерации ID
	drag         float64
	mu           sync.RWMutex
}

// NewManager создаёт новый менеджер сущностей
func NewManager() *Manager {
	return &Manager{
		entities:     make(map[uint64]*Entity),
		byPlayer:     make(map[uint64]uint64),
		nextEntityID: 1,
		drag:         DefaultDrag,
	}
}

// Spawn создаёт новую сущность в мире
func (m *Manager) Spawn(entityType EntityType, position vec.Vec3, maxHealth float64) *Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextEntityID
	m.nextEntityID++

	entity := NewEntity(id, entityType, position)
	if maxHealth > 0 {
		entity.Health = NewHealth(maxHealth)
	}
	m.entities[id] = entity
	return entity
}

// SpawnPlayer создаёт сущность игрока, привязанную к постоянному PlayerID.
// Если игрок уже в мире, возвращается существующая сущность.
func (m *Manager) SpawnPlayer(playerID uint64, position vec.Vec3, maxHealth float64) (*Entity, bool) {
	m.mu.RLock()
	if id, ok := m.byPlayer[playerID]; ok {
		e := m.entities[id]
		m.mu.RUnlock()
		return e, false
	}
	m.mu.RUnlock()

	entity := m.Spawn(EntityTypePlayer, position, maxHealth)

	m.mu.Lock()
	entity.PlayerID = playerID
	m.byPlayer[playerID] = entity.ID
	m.mu.Unlock()
	return entity, true
}

// Despawn удаляет сущность из мира
func (m *Manager) Despawn(entityID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, exists := m.entities[entityID]
	if !exists {
		return false
	}
	if entity.PlayerID != 0 {
		delete(m.byPlayer, entity.PlayerID)
	}
	delete(m.entities, entityID)
	return true
}

// Get возвращает сущность по ID
func (m *Manager) Get(entityID uint64) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entity, exists := m.entities[entityID]
	return entity, exists
}

// ByPlayer возвращает сущность игрока
func (m *Manager) ByPlayer(playerID uint64) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	return m.entities[id], true
}

// Count количество сущностей
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// Sorted возвращает сущности в порядке возрастания ID (детерминированный обход тика)
func (m *Manager) Sorted() []*Entity {
	m.mu.RLock()
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Integrate сдвигает живые сущности по их скорости и гасит скорость сопротивлением
func (m *Manager) Integrate(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := 1 - (1-m.drag)*dt
	if keep < 0 {
		keep = 0
	}
	for _, e := range m.entities {
		if !e.Alive {
			continue
		}
		e.Position = e.Position.Add(e.Motion.Mul(dt))
		e.Motion = e.Motion.Mul(keep)
	}
}
