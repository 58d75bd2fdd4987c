package damage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/vec"
	"github.com/annel0/mistborn/internal/world"
)

type stageRecorder struct {
	fired []string
}

func (r *stageRecorder) StageFired(stage string) {
	r.fired = append(r.fired, stage)
}

func participant(id uint64, health float64) Participant {
	ent := world.NewEntity(id, world.EntityTypePlayer, vec.Vec3{})
	if health > 0 {
		ent.Health = world.NewHealth(health)
	}
	return Participant{Entity: ent, State: allomancy.NewEmptyState()}
}

func TestStageOrderIsFixed(t *testing.T) {
	p := NewDefaultPipeline(nil, nil)
	assert.Equal(t, []string{"mitigation", "emergency_override", "adversarial_drain"}, p.Stages())
}

func TestPlainDamage(t *testing.T) {
	p := NewDefaultPipeline(nil, nil)
	victim := participant(1, 20)

	res := p.Apply(&Event{Victim: victim, Amount: 5})
	assert.Equal(t, 5.0, res.Amount)
	assert.False(t, res.Died)
	assert.Empty(t, res.Fired)
	assert.Equal(t, 15.0, victim.Entity.Health.Current)
}

func TestDeadVictimDoesNotDieTwice(t *testing.T) {
	victim := participant(1, 20)
	victim.Entity.Health.Current = 0

	assert.False(t, ResolveHealth(victim.Entity, 5, KindGeneric), "Уже мёртвая сущность не умирает повторно")
	assert.Zero(t, victim.Entity.Health.Current)

	victim.Entity.Health.Current = 3
	assert.True(t, ResolveHealth(victim.Entity, 5, KindGeneric))
	assert.True(t, victim.Entity.Health.Dead())
}

// TestDrainWipesVictimReserves удар от горящего хрома обнуляет все запасы жертвы
func TestDrainWipesVictimReserves(t *testing.T) {
	rec := &stageRecorder{}
	p := NewDefaultPipeline(nil, rec)

	attacker := participant(1, 20)
	attacker.State.GrantPower(allomancy.Chromium)
	attacker.State.SetReserve(allomancy.Chromium, 1)
	attacker.State.SetIntensity(allomancy.Chromium, 1)
	attacker.State.SetToggle(allomancy.Chromium, true)

	victim := participant(2, 20)
	for _, m := range allomancy.Metals() {
		victim.State.SetReserve(m, 3)
	}

	res := p.Apply(&Event{Victim: victim, Source: &attacker, Amount: 0.5})

	for _, m := range allomancy.Metals() {
		assert.Zero(t, victim.State.Reserve(m), m.String())
	}
	assert.Equal(t, 0.5, res.Amount, "Выжигание не меняет урон")
	assert.Equal(t, []string{"adversarial_drain"}, rec.fired)
	assert.Equal(t, 1.0, attacker.State.Reserve(allomancy.Chromium))
}

func TestDrainNeedsBurningChromium(t *testing.T) {
	p := NewDefaultPipeline(nil, nil)
	attacker := participant(1, 20)
	attacker.State.GrantPower(allomancy.Chromium)
	attacker.State.SetReserve(allomancy.Chromium, 1)
	attacker.State.SetIntensity(allomancy.Chromium, 3)

	victim := participant(2, 20)
	victim.State.SetReserve(allomancy.Iron, 3)

	p.Apply(&Event{Victim: victim, Source: &attacker, Amount: 1})
	assert.Equal(t, 3.0, victim.State.Reserve(allomancy.Iron))
}

// TestEmergencyOverride смертельный удар по владельцу пьютера режется до половины здоровья
func TestEmergencyOverride(t *testing.T) {
	p := NewDefaultPipeline(nil, nil)
	victim := participant(1, 20)
	victim.Entity.Health.Current = 8
	victim.State.GrantPower(allomancy.Pewter)
	victim.State.SetReserve(allomancy.Pewter, 2)

	res := p.Apply(&Event{Victim: victim, Amount: 100})

	assert.Equal(t, 4.0, res.Amount)
	assert.False(t, res.Died)
	assert.True(t, victim.State.Toggled(allomancy.Pewter))
	assert.Equal(t, 1, victim.State.Intensity(allomancy.Pewter))
	assert.InDelta(t, 96.0/5, victim.State.Fatigue(), 1e-9)
	assert.Equal(t, 4.0, victim.Entity.Health.Current)
	assert.Equal(t, []string{"emergency_override"}, res.Fired)
}

func TestOverrideSkippedWithoutReserveOrHealth(t *testing.T) {
	p := NewDefaultPipeline(nil, nil)

	victim := participant(1, 20)
	victim.State.GrantPower(allomancy.Pewter)
	res := p.Apply(&Event{Victim: victim, Amount: 50})
	assert.True(t, res.Died)
	assert.False(t, victim.State.Toggled(allomancy.Pewter))

	noHealth := participant(2, 0)
	noHealth.State.GrantPower(allomancy.Pewter)
	noHealth.State.SetReserve(allomancy.Pewter, 1)
	res = p.Apply(&Event{Victim: noHealth, Amount: 50})
	assert.False(t, res.Died)
	assert.Empty(t, res.Fired)
}

func TestMitigationReducesAndTires(t *testing.T) {
	p := NewDefaultPipeline(nil, nil)
	victim := participant(1, 20)
	victim.State.GrantPower(allomancy.Pewter)
	victim.State.SetReserve(allomancy.Pewter, 2)
	victim.State.SetIntensity(allomancy.Pewter, 2)
	victim.State.SetToggle(allomancy.Pewter, true)

	res := p.Apply(&Event{Victim: victim, Amount: 10})

	assert.InDelta(t, 6, res.Amount, 1e-9)
	assert.InDelta(t, 8, victim.State.Fatigue(), 1e-9)
	assert.Equal(t, []string{"mitigation"}, res.Fired)
}

func TestOverrideFiresOncePerEvent(t *testing.T) {
	victim := participant(1, 20)
	victim.State.GrantPower(allomancy.Pewter)
	victim.State.SetReserve(allomancy.Pewter, 2)

	ev := &Event{Victim: victim, Amount: 100}
	// стадия повторена дважды: второй раз не срабатывает
	p := NewPipeline(nil, nil, EmergencyOverrideStage{}, EmergencyOverrideStage{})
	res := p.Apply(ev)

	assert.Equal(t, []string{"emergency_override"}, res.Fired)
	assert.Equal(t, 1, victim.State.Intensity(allomancy.Pewter))
}

func TestHealEventSkipsModifiers(t *testing.T) {
	p := NewDefaultPipeline(nil, nil)
	victim := participant(1, 20)
	victim.Entity.Health.Current = 5
	victim.State.GrantPower(allomancy.Pewter)
	victim.State.SetReserve(allomancy.Pewter, 2)

	res := p.Apply(&Event{Victim: victim, Amount: 30, Kind: KindHeal})
	require.Empty(t, res.Fired)
	assert.Equal(t, 20.0, victim.Entity.Health.Current)
	assert.Equal(t, KindHeal, ParseKind("heal"))
	assert.Equal(t, KindGeneric, ParseKind("fall"))
}

func TestCustomResolve(t *testing.T) {
	var got float64
	p := NewDefaultPipeline(func(_ *world.Entity, amount float64, _ Kind) bool {
		got = amount
		return true
	}, nil)

	res := p.Apply(&Event{Victim: participant(1, 0), Amount: 3})
	assert.True(t, res.Died)
	assert.Equal(t, 3.0, got)
}
