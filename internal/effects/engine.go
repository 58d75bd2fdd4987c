// Package effects исполняет эффекты горящих металлов на каждом тике симуляции.
package effects

import (
	"math"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/vec"
	"github.com/annel0/mistborn/internal/world"
)

const (
	// FlareSurcharge добавочный расход при вспышке
	FlareSurcharge = 1.0 / 50
	// FlareImpulse добавочная сила толчка при вспышке
	FlareImpulse = 0.2
	// ImpulseDivider делитель уровня для силы толчка
	ImpulseDivider = 23.0
	// HealDivider делитель уровня для лечения пьютером
	HealDivider = 50.0
	// MovementFatigueDivider делитель пройденного пути для усталости
	MovementFatigueDivider = 16.0

	// PewterSpeedKey ключ модификатора скорости ходьбы
	PewterSpeedKey = "allomancy-pewter"
)

// Config параметры движка эффектов
type Config struct {
	PushThrottleTicks uint64  // Толчки/притяжения срабатывают раз в N тиков (кроме вспышки)
	PewterSpeedBonus  float64 // Бонус скорости на максимальном уровне пьютера
	PewterFlareHeal   float64 // Фиксированное лечение при вспышке пьютера
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		PushThrottleTicks: 15,
		PewterSpeedBonus:  0.3,
		PewterFlareHeal:   1.0,
	}
}

// Observer получает уведомления о сработавших эффектах (метрики)
type Observer interface {
	EffectExecuted(metal allomancy.Metal, flare bool)
}

// Engine исполняет эффекты горения. Не потокобезопасен: вызывается только
// из тика симуляции.
type Engine struct {
	cfg      Config
	tick     uint64
	lastPos  map[uint64]vec.Vec3
	resync   []uint64
	queued   map[uint64]struct{}
	observer Observer
}

// NewEngine создаёт движок эффектов
func NewEngine(cfg Config, observer Observer) *Engine {
	if cfg.PushThrottleTicks == 0 {
		cfg.PushThrottleTicks = 1
	}
	return &Engine{
		cfg:      cfg,
		lastPos:  make(map[uint64]vec.Vec3),
		queued:   make(map[uint64]struct{}),
		observer: observer,
	}
}

// Advance переводит счётчик тиков мира; вызывается один раз за тик
func (e *Engine) Advance() {
	e.tick++
}

// CurrentTick номер текущего тика
func (e *Engine) CurrentTick() uint64 {
	return e.tick
}

// Forget забывает сущность (деспаун)
func (e *Engine) Forget(entityID uint64) {
	delete(e.lastPos, entityID)
}

// TickEntity выполняет один тик для сущности: затухание усталости, пассив пьютера
// и эффекты всех включённых металлов
func (e *Engine) TickEntity(ent *world.Entity, st *allomancy.State, dt float64) {
	st.DecayFatigue(dt)
	e.pewterPassive(ent, st)

	for m := allomancy.Metal(0); m < allomancy.MetalCount; m++ {
		if st.Toggled(m) {
			e.Execute(ent, st, m, st.Intensity(m), false)
		}
	}
}

// Flare разовая вспышка металла на текущем уровне
func (e *Engine) Flare(ent *world.Entity, st *allomancy.State, m allomancy.Metal) bool {
	return e.Execute(ent, st, m, st.Intensity(m), true)
}

// Activate разовый эффект при включении горения
func (e *Engine) Activate(ent *world.Entity, st *allomancy.State, m allomancy.Metal) bool {
	if m != allomancy.WipeMetal {
		return false
	}
	if !st.Power(m) || st.Reserve(m) <= 0 {
		return false
	}
	st.WipeReserves()
	e.notify(m, false)
	return true
}

// Execute пытается исполнить эффект металла. Без силы или запаса эффект не
// срабатывает и ничего не расходует.
func (e *Engine) Execute(ent *world.Entity, st *allomancy.State, m allomancy.Metal, strength int, flare bool) bool {
	if !st.Power(m) || st.Reserve(m) <= 0 {
		return false
	}

	consumption := float64(strength) / 100
	if flare {
		consumption += FlareSurcharge
	}
	st.IncrementReserve(m, -consumption)

	switch m {
	case allomancy.PushMetal, allomancy.PullMetal:
		if flare || e.tick%e.cfg.PushThrottleTicks == 0 {
			e.impulse(ent, m, strength, flare)
		}
	case allomancy.MitigationMetal:
		e.heal(ent, st, strength, flare)
	case allomancy.WipeMetal:
		if flare {
			st.WipeReserves()
		}
	}

	e.notify(m, flare)
	return true
}

// DrainResyncs возвращает и очищает очередь синхронизации позиций
func (e *Engine) DrainResyncs() []uint64 {
	if len(e.resync) == 0 {
		return nil
	}
	out := e.resync
	e.resync = nil
	for k := range e.queued {
		delete(e.queued, k)
	}
	return out
}

func (e *Engine) impulse(ent *world.Entity, m allomancy.Metal, strength int, flare bool) {
	magnitude := float64(strength) / ImpulseDivider
	if flare {
		magnitude += FlareImpulse
	}
	if magnitude == 0 {
		return
	}
	ent.AddMotion(Direction(ent.Yaw, ent.Pitch, m == allomancy.PullMetal).Mul(magnitude))

	if _, ok := e.queued[ent.ID]; !ok {
		e.queued[ent.ID] = struct{}{}
		e.resync = append(e.resync, ent.ID)
	}
}

func (e *Engine) heal(ent *world.Entity, st *allomancy.State, strength int, flare bool) {
	if ent.Health == nil || ent.Health.Current >= ent.Health.Max {
		return
	}
	amount := float64(strength) / HealDivider
	if flare {
		amount = e.cfg.PewterFlareHeal
	}
	healed := ent.Health.Heal(amount)
	st.AddFatigue(healed)
}

func (e *Engine) pewterPassive(ent *world.Entity, st *allomancy.State) {
	level := st.EffectiveLevel(allomancy.MitigationMetal)
	ent.SetWalkSpeedModifier(PewterSpeedKey, e.cfg.PewterSpeedBonus*float64(level)/allomancy.MaxIntensity)

	prev, seen := e.lastPos[ent.ID]
	e.lastPos[ent.ID] = ent.Position
	if level > 0 && seen {
		if moved := prev.DistanceTo(ent.Position); moved > 0 {
			st.AddFatigue(moved / MovementFatigueDivider)
		}
	}
}

func (e *Engine) notify(m allomancy.Metal, flare bool) {
	if e.observer != nil {
		e.observer.EffectExecuted(m, flare)
	}
}

// Direction единичный вектор толчка: вперёд по взгляду или в обратную сторону
func Direction(yaw, pitch float64, inverse bool) vec.Vec3 {
	y := yaw + math.Pi/2
	if inverse {
		y += math.Pi
	}
	return vec.FromYawPitch(y, -pitch)
}
