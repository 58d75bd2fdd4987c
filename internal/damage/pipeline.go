// Package damage реализует цепочку модификаторов урона вокруг внешнего
// разрешения урона: смягчение пьютером, экстренное спасение, выжигание хромом.
package damage

import (
	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/world"
)

// Kind тип события урона
type Kind int

const (
	KindGeneric Kind = iota
	KindHeal
)

// String возвращает имя типа
func (k Kind) String() string {
	if k == KindHeal {
		return "heal"
	}
	return "generic"
}

// ParseKind разбирает тип события
func ParseKind(s string) Kind {
	if s == "heal" {
		return KindHeal
	}
	return KindGeneric
}

// Participant участник события: сущность и её алломантия (State может быть nil)
type Participant struct {
	Entity *world.Entity
	State  *allomancy.State
}

// Event событие урона, проходящее через стадии
type Event struct {
	Victim Participant
	Source *Participant // nil: урон от окружения
	Amount float64
	Kind   Kind

	overrideFired bool
}

// Stage стадия модификации урона. Apply возвращает true, если стадия сработала.
type Stage interface {
	Name() string
	Apply(ev *Event) bool
}

// ResolveFunc внешнее разрешение урона; возвращает true при гибели жертвы
type ResolveFunc func(victim *world.Entity, amount float64, kind Kind) bool

// Observer получает уведомления о сработавших стадиях (метрики)
type Observer interface {
	StageFired(stage string)
}

// Result итог обработки события
type Result struct {
	Amount float64  // Урон после всех стадий
	Died   bool     // Жертва погибла
	Fired  []string // Сработавшие стадии по порядку
}

// Pipeline статически упорядоченная цепочка стадий
type Pipeline struct {
	stages   []Stage
	resolve  ResolveFunc
	observer Observer
}

// NewPipeline создаёт цепочку; порядок стадий фиксируется здесь и не меняется
func NewPipeline(resolve ResolveFunc, observer Observer, stages ...Stage) *Pipeline {
	if resolve == nil {
		resolve = ResolveHealth
	}
	return &Pipeline{
		stages:   append([]Stage(nil), stages...),
		resolve:  resolve,
		observer: observer,
	}
}

// NewDefaultPipeline смягчение → экстренное спасение → выжигание
func NewDefaultPipeline(resolve ResolveFunc, observer Observer) *Pipeline {
	return NewPipeline(resolve, observer,
		MitigationStage{},
		EmergencyOverrideStage{},
		AdversarialDrainStage{},
	)
}

// Stages имена стадий в порядке исполнения
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Apply прогоняет событие через все стадии ровно один раз и разрешает урон
func (p *Pipeline) Apply(ev *Event) Result {
	var res Result
	for _, stage := range p.stages {
		if stage.Apply(ev) {
			res.Fired = append(res.Fired, stage.Name())
			if p.observer != nil {
				p.observer.StageFired(stage.Name())
			}
		}
	}
	if ev.Amount < 0 {
		ev.Amount = 0
	}
	res.Amount = ev.Amount
	if ev.Victim.Entity != nil {
		res.Died = p.resolve(ev.Victim.Entity, ev.Amount, ev.Kind)
	}
	return res
}

// ResolveHealth разрешение по умолчанию через компонент здоровья
func ResolveHealth(victim *world.Entity, amount float64, kind Kind) bool {
	if victim.Health == nil {
		return false
	}
	if kind == KindHeal {
		victim.Health.Heal(amount)
		return false
	}
	// мёртвый ждёт возрождения и второй раз не умирает
	if victim.Health.Dead() {
		return false
	}
	return victim.Health.Damage(amount)
}
