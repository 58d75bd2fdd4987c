package allomancy

import "math/rand"

// State состояние алломантии одной сущности.
//
// Инварианты: запасы >= 0, уровни в [0, MaxIntensity], усталость >= 0.
// Любой мутатор помечает состояние грязным для репликации.
// Идентификаторы металлов проверяет вызывающий код (Metal.Valid).
type State struct {
	powers    [MetalCount]bool
	reserves  [MetalCount]float64
	intensity [MetalCount]int
	toggle    [MetalCount]bool
	selected  Metal
	fatigue   float64
	dirty     bool
}

// NewState создаёт состояние «туманщика»: ровно одна случайная сила
func NewState(rng *rand.Rand) *State {
	s := NewEmptyState()
	s.powers[Metal(rng.Intn(MetalCount))] = true
	s.dirty = true
	return s
}

// NewEmptyState создаёт состояние без сил
func NewEmptyState() *State {
	return &State{selected: NoMetal}
}

// Dirty сообщает, изменялось ли состояние с последней репликации
func (s *State) Dirty() bool { return s.dirty }

// MarkDirty помечает состояние для репликации
func (s *State) MarkDirty() { s.dirty = true }

// ClearDirty сбрасывает флаг после репликации
func (s *State) ClearDirty() { s.dirty = false }

// ===== Силы =====

func (s *State) Power(m Metal) bool { return s.powers[m] }

func (s *State) SetPower(m Metal, value bool) {
	s.powers[m] = value
	s.dirty = true
}

func (s *State) GrantPower(m Metal) { s.SetPower(m, true) }

func (s *State) RevokePower(m Metal) { s.SetPower(m, false) }

// GrantAllPowers делает сущность рождённым туманом
func (s *State) GrantAllPowers() {
	for m := Metal(0); m < MetalCount; m++ {
		s.powers[m] = true
	}
	s.dirty = true
}

// PowerCount количество доступных сил
func (s *State) PowerCount() int {
	n := 0
	for _, p := range s.powers {
		if p {
			n++
		}
	}
	return n
}

// ===== Запасы =====

func (s *State) Reserve(m Metal) float64 { return s.reserves[m] }

// SetReserve устанавливает запас, отрицательные значения обрезаются до 0
func (s *State) SetReserve(m Metal, amount float64) {
	if amount < 0 {
		amount = 0
	}
	s.reserves[m] = amount
	s.dirty = true
}

func (s *State) IncrementReserve(m Metal, delta float64) {
	s.SetReserve(m, s.reserves[m]+delta)
}

// WipeReserves обнуляет все запасы
func (s *State) WipeReserves() {
	for i := range s.reserves {
		s.reserves[i] = 0
	}
	s.dirty = true
}

// ===== Уровни горения =====

func (s *State) Intensity(m Metal) int { return s.intensity[m] }

// SetIntensity устанавливает уровень, ограничивая его [0, MaxIntensity]
func (s *State) SetIntensity(m Metal, level int) {
	if level < 0 {
		level = 0
	}
	if level > MaxIntensity {
		level = MaxIntensity
	}
	s.intensity[m] = level
	s.dirty = true
}

func (s *State) IncrementIntensity(m Metal, delta int) {
	s.SetIntensity(m, s.intensity[m]+delta)
}

// ===== Переключатели =====

func (s *State) Toggled(m Metal) bool { return s.toggle[m] }

func (s *State) SetToggle(m Metal, value bool) {
	s.toggle[m] = value
	s.dirty = true
}

// FlipToggle переключает горение и возвращает новое значение
func (s *State) FlipToggle(m Metal) bool {
	s.SetToggle(m, !s.toggle[m])
	return s.toggle[m]
}

// ===== Выбранный металл =====

// Selected возвращает выбранный металл; false если ничего не выбрано
func (s *State) Selected() (Metal, bool) {
	return s.selected, s.selected.Valid()
}

func (s *State) SetSelected(m Metal) {
	if !m.Valid() {
		m = NoMetal
	}
	s.selected = m
	s.dirty = true
}

func (s *State) ClearSelected() { s.SetSelected(NoMetal) }

// SelectedIndex сетевой индекс выбранного металла (-1 если нет)
func (s *State) SelectedIndex() int32 {
	if !s.selected.Valid() {
		return -1
	}
	return int32(s.selected)
}

// ===== Эффективный уровень =====

// EffectiveLevel уровень, который реально действует после проверки силы, переключателя и запаса
func (s *State) EffectiveLevel(m Metal) int {
	if !s.powers[m] || !s.toggle[m] || s.reserves[m] <= 0 {
		return 0
	}
	return s.intensity[m]
}

// ===== Усталость =====

func (s *State) Fatigue() float64 { return s.fatigue }

func (s *State) SetFatigue(v float64) {
	if v < 0 {
		v = 0
	}
	s.fatigue = v
	s.dirty = true
}

func (s *State) AddFatigue(delta float64) {
	s.SetFatigue(s.fatigue + delta)
}

// DecayFatigue уменьшает усталость: f -= f/15 * dt
func (s *State) DecayFatigue(dt float64) {
	if s.fatigue <= 0 {
		return
	}
	next := s.fatigue - s.fatigue/15*dt
	if next < fatigueEpsilon {
		next = 0
	}
	s.SetFatigue(next)
}

// ниже этого порога усталость считается нулевой, чтобы не реплицировать хвост затухания
const fatigueEpsilon = 1e-4

// ResetOnDeath обнуляет запасы и уровни; силы и переключатели не трогаем
func (s *State) ResetOnDeath() {
	for i := range s.reserves {
		s.reserves[i] = 0
		s.intensity[i] = 0
	}
	s.dirty = true
}

// Clone возвращает независимую копию
func (s *State) Clone() *State {
	c := *s
	return &c
}
