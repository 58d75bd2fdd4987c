package damage

import "github.com/annel0/mistborn/internal/allomancy"

// MitigationStage снижает урон на долю level/5 горящего пьютера жертвы
// и добавляет удвоенное поглощённое в усталость.
// Уровень берётся у жертвы, а не у атакующего: смягчает тот, кого бьют.
type MitigationStage struct{}

func (MitigationStage) Name() string { return "mitigation" }

func (MitigationStage) Apply(ev *Event) bool {
	st := ev.Victim.State
	if st == nil || ev.Kind == KindHeal || ev.Amount <= 0 {
		return false
	}
	level := st.EffectiveLevel(allomancy.MitigationMetal)
	if level <= 0 {
		return false
	}
	reduced := ev.Amount * float64(level) / allomancy.MaxIntensity
	ev.Amount -= reduced
	st.AddFatigue(2 * reduced)
	return true
}

// EmergencyOverrideStage не даёт смертельному удару убить владельца пьютера:
// включает пьютер, поднимает уровень и режет урон до половины текущего здоровья.
// Срабатывает не более одного раза за событие.
type EmergencyOverrideStage struct{}

func (EmergencyOverrideStage) Name() string { return "emergency_override" }

func (EmergencyOverrideStage) Apply(ev *Event) bool {
	if ev.overrideFired || ev.Kind == KindHeal {
		return false
	}
	ent, st := ev.Victim.Entity, ev.Victim.State
	if ent == nil || st == nil || ent.Health == nil {
		return false
	}
	health := ent.Health.Current
	if ev.Amount < health {
		return false
	}
	m := allomancy.MitigationMetal
	if !st.Power(m) || st.Reserve(m) <= 0 {
		return false
	}

	st.SetToggle(m, true)
	st.IncrementIntensity(m, 1)

	capped := health / 2
	prevented := ev.Amount - capped
	st.AddFatigue(prevented * float64(st.EffectiveLevel(m)) / allomancy.MaxIntensity)

	ev.Amount = capped
	ev.overrideFired = true
	return true
}

// AdversarialDrainStage: удар от сущности с горящим хромом обнуляет все запасы жертвы.
// Урон не меняет.
type AdversarialDrainStage struct{}

func (AdversarialDrainStage) Name() string { return "adversarial_drain" }

func (AdversarialDrainStage) Apply(ev *Event) bool {
	if ev.Source == nil || ev.Source.State == nil || ev.Victim.State == nil {
		return false
	}
	if ev.Source.State.EffectiveLevel(allomancy.DrainMetal) <= 0 {
		return false
	}
	ev.Victim.State.WipeReserves()
	return true
}
