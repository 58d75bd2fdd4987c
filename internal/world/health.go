package world

// Health подсистема здоровья, принадлежащая хосту
type Health struct {
	Current float64
	Max     float64
}

// NewHealth создаёт здоровье с полным запасом
func NewHealth(max float64) *Health {
	return &Health{Current: max, Max: max}
}

// Damage применяет итоговый урон; возвращает true, если сущность погибла
func (h *Health) Damage(amount float64) bool {
	if amount <= 0 {
		return false
	}
	h.Current -= amount
	if h.Current <= 0 {
		h.Current = 0
		return true
	}
	return false
}

// Heal лечит не выше максимума и возвращает реально восстановленное количество
func (h *Health) Heal(amount float64) float64 {
	if amount <= 0 || h.Current >= h.Max {
		return 0
	}
	if h.Current+amount > h.Max {
		amount = h.Max - h.Current
	}
	h.Current += amount
	return amount
}

// Dead проверяет, что здоровье исчерпано
func (h *Health) Dead() bool {
	return h.Current <= 0
}

// Restore восстанавливает здоровье до максимума (возрождение)
func (h *Health) Restore() {
	h.Current = h.Max
}
