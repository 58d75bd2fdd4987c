package allomancy

// Senses производные величины для клиентских эффектов (виньетка, ночное зрение, FOV).
// Сервер только считает их; отображение остаётся на клиенте.
type Senses struct {
	Vignette    float64 `json:"vignette"`
	NightVision float64 `json:"night_vision"`
	// FieldOfView 0 означает «оставить настройку клиента»
	FieldOfView int `json:"field_of_view"`
}

// DeriveSenses считает производные величины по состоянию и максимальному здоровью.
// maxHealth <= 0 означает, что подсистема здоровья отсутствует.
func DeriveSenses(s *State, maxHealth float64) Senses {
	var out Senses
	if maxHealth > 0 {
		out.Vignette = s.Fatigue() / maxHealth
		if out.Vignette > 1 {
			out.Vignette = 1
		}
	}
	tin := s.EffectiveLevel(SensesMetal)
	out.NightVision = float64(tin) / MaxIntensity
	if tin > 0 {
		out.FieldOfView = 100 - tin*18
	}
	return out
}
