package allomancy

// RecordNamespace имя записи, под которой хранится состояние сущности
const RecordNamespace = "allomancy"

// noneSelected значение поля selected, когда металл не выбран
const noneSelected = "none"

// Record сохраняемое/реплицируемое представление состояния.
// Подполя индексируются именами металлов.
type Record struct {
	Powers    map[string]bool    `json:"powers"`
	Reserves  map[string]float64 `json:"reserves"`
	Intensity map[string]int     `json:"intensity"`
	Toggle    map[string]bool    `json:"toggle"`
	Selected  string             `json:"selected"`
	Fatigue   float64            `json:"fatigue"`
}

// Record снимает запись с состояния. Нулевые значения не пишутся.
func (s *State) Record() Record {
	r := Record{
		Powers:    make(map[string]bool),
		Reserves:  make(map[string]float64),
		Intensity: make(map[string]int),
		Toggle:    make(map[string]bool),
		Selected:  noneSelected,
		Fatigue:   s.fatigue,
	}
	for m := Metal(0); m < MetalCount; m++ {
		name := m.String()
		if s.powers[m] {
			r.Powers[name] = true
		}
		if s.reserves[m] > 0 {
			r.Reserves[name] = s.reserves[m]
		}
		if s.intensity[m] > 0 {
			r.Intensity[name] = s.intensity[m]
		}
		if s.toggle[m] {
			r.Toggle[name] = true
		}
	}
	if s.selected.Valid() {
		r.Selected = s.selected.String()
	}
	return r
}

// StateFromRecord восстанавливает состояние. Неизвестные металлы игнорируются,
// значения приводятся к инвариантам.
func StateFromRecord(r Record) *State {
	s := NewEmptyState()
	for name, v := range r.Powers {
		if m, ok := ParseMetal(name); ok {
			s.powers[m] = v
		}
	}
	for name, v := range r.Reserves {
		if m, ok := ParseMetal(name); ok {
			s.SetReserve(m, v)
		}
	}
	for name, v := range r.Intensity {
		if m, ok := ParseMetal(name); ok {
			s.SetIntensity(m, v)
		}
	}
	for name, v := range r.Toggle {
		if m, ok := ParseMetal(name); ok {
			s.toggle[m] = v
		}
	}
	if m, ok := ParseMetal(r.Selected); ok {
		s.selected = m
	}
	s.SetFatigue(r.Fatigue)
	s.dirty = false
	return s
}

// Clone глубокая копия записи
func (r Record) Clone() Record {
	out := Record{
		Powers:    make(map[string]bool, len(r.Powers)),
		Reserves:  make(map[string]float64, len(r.Reserves)),
		Intensity: make(map[string]int, len(r.Intensity)),
		Toggle:    make(map[string]bool, len(r.Toggle)),
		Selected:  r.Selected,
		Fatigue:   r.Fatigue,
	}
	for k, v := range r.Powers {
		out.Powers[k] = v
	}
	for k, v := range r.Reserves {
		out.Reserves[k] = v
	}
	for k, v := range r.Intensity {
		out.Intensity[k] = v
	}
	for k, v := range r.Toggle {
		out.Toggle[k] = v
	}
	return out
}
