// Package world содержит хост-сторону симуляции: сущности, их позицию, ориентацию
// и подсистему здоровья. Алломантия накладывается поверх этих сущностей.
package world

import "github.com/annel0/mistborn/internal/vec"

// EntityType представляет тип сущности
type EntityType uint16

const (
	EntityTypePlayer EntityType = iota
	EntityTypeNPC
)

// String возвращает имя типа
func (t EntityType) String() string {
	switch t {
	case EntityTypePlayer:
		return "player"
	case EntityTypeNPC:
		return "npc"
	default:
		return "unknown"
	}
}

// Entity представляет сущность в мире
type Entity struct {
	ID       uint64     // Уникальный идентификатор сущности
	Type     EntityType // Тип сущности
	PlayerID uint64     // Постоянный идентификатор игрока (0 для NPC)
	Position vec.Vec3   // Текущая позиция
	Motion   vec.Vec3   // Текущая скорость
	Yaw      float64    // Рыскание, радианы
	Pitch    float64    // Тангаж, радианы
	Health   *Health    // nil если у сущности нет подсистемы здоровья
	Alive    bool

	walkSpeedModifiers map[string]float64
}

// NewEntity создаёт новую живую сущность
func NewEntity(id uint64, entityType EntityType, position vec.Vec3) *Entity {
	return &Entity{
		ID:                 id,
		Type:               entityType,
		Position:           position,
		Alive:              true,
		walkSpeedModifiers: make(map[string]float64),
	}
}

// AddMotion добавляет импульс к скорости
func (e *Entity) AddMotion(impulse vec.Vec3) {
	e.Motion = e.Motion.Add(impulse)
}

// SetWalkSpeedModifier задаёт именованный модификатор скорости ходьбы
func (e *Entity) SetWalkSpeedModifier(key string, value float64) {
	if value == 0 {
		delete(e.walkSpeedModifiers, key)
		return
	}
	if e.walkSpeedModifiers == nil {
		e.walkSpeedModifiers = make(map[string]float64)
	}
	e.walkSpeedModifiers[key] = value
}

// WalkSpeedModifier возвращает модификатор по ключу
func (e *Entity) WalkSpeedModifier(key string) float64 {
	return e.walkSpeedModifiers[key]
}

// WalkSpeed итоговый множитель скорости ходьбы
func (e *Entity) WalkSpeed() float64 {
	speed := 1.0
	for _, m := range e.walkSpeedModifiers {
		speed += m
	}
	return speed
}

// MaxHealth максимальное здоровье или 0, если подсистемы нет
func (e *Entity) MaxHealth() float64 {
	if e.Health == nil {
		return 0
	}
	return e.Health.Max
}
