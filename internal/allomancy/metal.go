// Package allomancy хранит состояние алломантии сущности: силы, запасы металлов,
// уровни горения, переключатели, выбранный металл и усталость.
package allomancy

// Metal идентификатор металла. Значение совпадает с индексом в сетевом протоколе.
type Metal int8

const (
	Copper Metal = iota
	Zinc
	TinBronze
	Brass
	Electrum
	Bendalloy
	Gold
	Cadmium
	Aluminium
	Nicrosil
	Duraluminium
	Chromium
	Pewter
	Steel
	Tin
	Iron

	// MetalCount количество металлов
	MetalCount = 16
)

// NoMetal означает отсутствие выбранного металла
const NoMetal Metal = -1

// MaxIntensity верхняя граница уровня горения
const MaxIntensity = 5

// Роли металлов в симуляции
const (
	PushMetal       = Steel
	PullMetal       = Iron
	MitigationMetal = Pewter
	WipeMetal       = Aluminium
	DrainMetal      = Chromium
	SensesMetal     = Tin
)

var metalNames = [MetalCount]string{
	"copper", "zinc", "tinbronze", "brass", "electrum",
	"bendalloy", "gold", "cadmium", "aluminium", "nicrosil",
	"duraluminium", "chromium", "pewter", "steel", "tin", "iron",
}

// Metals возвращает все металлы в порядке индексов
func Metals() []Metal {
	out := make([]Metal, MetalCount)
	for i := range out {
		out[i] = Metal(i)
	}
	return out
}

// Valid проверяет, что идентификатор входит в фиксированный диапазон
func (m Metal) Valid() bool {
	return m >= 0 && m < MetalCount
}

// String возвращает имя металла
func (m Metal) String() string {
	if !m.Valid() {
		return "none"
	}
	return metalNames[m]
}

// ParseMetal ищет металл по имени
func ParseMetal(name string) (Metal, bool) {
	for i, n := range metalNames {
		if n == name {
			return Metal(i), true
		}
	}
	return NoMetal, false
}

// MetalFromIndex преобразует сетевой индекс в металл
func MetalFromIndex(index int32) (Metal, bool) {
	m := Metal(index)
	if index < 0 || index >= MetalCount {
		return NoMetal, false
	}
	return m, true
}
