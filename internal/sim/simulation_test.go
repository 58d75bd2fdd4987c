package sim

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/damage"
	"github.com/annel0/mistborn/internal/eventbus"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/metrics"
	"github.com/annel0/mistborn/internal/replication"
	"github.com/annel0/mistborn/internal/storage"
	"github.com/annel0/mistborn/internal/vec"
)

type recordingOutbox struct {
	mu        sync.Mutex
	selected  map[uint64][]int32
	respawned []uint64
	positions map[uint64]vec.Vec3
}

func newRecordingOutbox() *recordingOutbox {
	return &recordingOutbox{
		selected:  make(map[uint64][]int32),
		positions: make(map[uint64]vec.Vec3),
	}
}

func (o *recordingOutbox) SendSelected(id uint64, index int32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selected[id] = append(o.selected[id], index)
}

func (o *recordingOutbox) NotifyRespawn(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.respawned = append(o.respawned, id)
}

func (o *recordingOutbox) SyncPosition(id uint64, pos, _ vec.Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.positions[id] = pos
}

// counterValue значение счётчика с заданными метками из регистра
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func commandCount(t *testing.T, reg *prometheus.Registry, kind, result string) float64 {
	return counterValue(t, reg, "mistborn_commands_total", map[string]string{"kind": kind, "result": result})
}

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger("sim-test", io.Discard, logging.ERROR)
}

func newTestSim(t *testing.T, mutate func(*Options)) (*Simulation, *recordingOutbox) {
	t.Helper()
	opts := DefaultOptions()
	opts.Logger = quietLogger()
	if mutate != nil {
		mutate(&opts)
	}
	s := New(opts)
	out := newRecordingOutbox()
	s.SetOutbox(out)
	return s, out
}

func TestJoinCreatesFreshState(t *testing.T) {
	s, _ := newTestSim(t, nil)
	ctx := context.Background()

	ent, err := s.Join(ctx, 100)
	require.NoError(t, err)

	st, ok := s.EntityState(ent.ID)
	require.True(t, ok)
	assert.Equal(t, 1, st.PowerCount())
	assert.Equal(t, int32(-1), st.SelectedIndex())

	again, err := s.Join(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, again.ID, "Повторный вход возвращает ту же сущность")

	_, err = s.Join(ctx, 0)
	assert.Error(t, err)
}

func TestCommandsApplyOnNextTick(t *testing.T) {
	s, _ := newTestSim(t, nil)
	ent := s.AddEntity(vec.Vec3{}, 20, allomancy.NewEmptyState())

	require.True(t, s.Submit(IncreaseIntensity(ent.ID, allomancy.Steel)))
	require.True(t, s.Submit(IncreaseIntensity(ent.ID, allomancy.Steel)))

	st, _ := s.EntityState(ent.ID)
	assert.Zero(t, st.Intensity(allomancy.Steel), "До тика команда не применена")

	s.Step(context.Background(), 0.05)
	assert.Equal(t, 2, st.Intensity(allomancy.Steel))

	s.Submit(DecreaseIntensity(ent.ID, allomancy.Steel))
	s.Step(context.Background(), 0.05)
	assert.Equal(t, 1, st.Intensity(allomancy.Steel))
	assert.Equal(t, uint64(2), s.Tick())
}

func TestInvalidCommandsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSimMetrics(reg)
	s, _ := newTestSim(t, func(o *Options) { o.Metrics = m })
	ent := s.AddEntity(vec.Vec3{}, 20, allomancy.NewEmptyState())

	assert.False(t, s.Submit(Flare(ent.ID, allomancy.Metal(16))))
	assert.False(t, s.Submit(ToggleBurn(ent.ID, allomancy.NoMetal)))
	assert.False(t, s.Submit(FeedReserve(ent.ID, allomancy.Iron, -1)))
	assert.True(t, s.Submit(SetSelected(ent.ID, allomancy.NoMetal)))

	// неизвестная сущность отбрасывается при применении
	assert.True(t, s.Submit(GrantPower(999, allomancy.Iron)))
	s.Step(context.Background(), 0.05)

	for _, kind := range []string{"flare", "toggle", "feed_reserve", "grant_power"} {
		assert.Equal(t, 1.0, commandCount(t, reg, kind, metrics.ResultDropped), kind)
	}
	assert.Equal(t, 1.0, commandCount(t, reg, "set_selected", metrics.ResultApplied))
}

func TestQueueOverflowDrops(t *testing.T) {
	s, _ := newTestSim(t, func(o *Options) { o.QueueSize = 2 })
	ent := s.AddEntity(vec.Vec3{}, 20, nil)

	assert.True(t, s.Submit(QuerySelected(ent.ID)))
	assert.True(t, s.Submit(QuerySelected(ent.ID)))
	assert.False(t, s.Submit(QuerySelected(ent.ID)))
}

func TestSelectedQueryReplies(t *testing.T) {
	s, out := newTestSim(t, nil)
	ent := s.AddEntity(vec.Vec3{}, 20, allomancy.NewEmptyState())

	s.Submit(QuerySelected(ent.ID))
	s.Step(context.Background(), 0.05)

	s.Submit(SetSelected(ent.ID, allomancy.Pewter))
	s.Step(context.Background(), 0.05)

	s.Submit(QuerySelected(ent.ID))
	s.Step(context.Background(), 0.05)

	s.Submit(SetSelected(ent.ID, allomancy.NoMetal))
	s.Submit(QuerySelected(ent.ID))
	s.Step(context.Background(), 0.05)

	assert.Equal(t, []int32{-1, 12, -1}, out.selected[ent.ID], "Установка выбора не отвечает, запрос отвечает")
}

func TestToggleOnAluminiumWipes(t *testing.T) {
	s, _ := newTestSim(t, nil)
	st := allomancy.NewEmptyState()
	st.GrantPower(allomancy.Aluminium)
	st.SetReserve(allomancy.Aluminium, 1)
	st.SetReserve(allomancy.Steel, 6)
	ent := s.AddEntity(vec.Vec3{}, 20, st)

	s.Submit(ToggleBurn(ent.ID, allomancy.Aluminium))
	s.Step(context.Background(), 0.05)

	for _, m := range allomancy.Metals() {
		assert.Zero(t, st.Reserve(m), m.String())
	}
	assert.True(t, st.Toggled(allomancy.Aluminium))
}

func TestFlarePushSyncsPosition(t *testing.T) {
	s, out := newTestSim(t, nil)
	ent, err := s.Join(context.Background(), 7)
	require.NoError(t, err)

	s.Submit(GrantPower(ent.ID, allomancy.Steel))
	s.Submit(FeedReserve(ent.ID, allomancy.Steel, 2))
	s.Submit(IncreaseIntensity(ent.ID, allomancy.Steel))
	s.Submit(Flare(ent.ID, allomancy.Steel))
	s.Step(context.Background(), 0.05)

	pos, ok := out.positions[ent.ID]
	require.True(t, ok, "Толчок должен синхронизировать позицию владельцу")
	assert.Equal(t, ent.Position, pos)
	assert.Greater(t, ent.Position.Length(), 0.0)
}

func TestLethalDamageResetsState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSimMetrics(reg)
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()

	ctx := context.Background()
	var respawns sync.WaitGroup
	respawns.Add(1)
	_, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventEntityRespawned}}, func(context.Context, *eventbus.Envelope) {
		respawns.Done()
	})
	require.NoError(t, err)

	s, out := newTestSim(t, func(o *Options) {
		o.Metrics = m
		o.Bus = bus
	})
	ent, err := s.Join(ctx, 5)
	require.NoError(t, err)

	st, _ := s.EntityState(ent.ID)
	st.GrantPower(allomancy.Iron)
	st.SetReserve(allomancy.Iron, 4)
	st.SetIntensity(allomancy.Iron, 3)
	st.SetToggle(allomancy.Iron, true)

	res, err := s.ApplyDamage(ctx, ent.ID, 0, 50, damage.KindGeneric)
	require.NoError(t, err)
	assert.True(t, res.Died)

	assert.Zero(t, st.Reserve(allomancy.Iron))
	assert.Zero(t, st.Intensity(allomancy.Iron))
	assert.True(t, st.Power(allomancy.Iron))
	assert.True(t, st.Toggled(allomancy.Iron))
	assert.Equal(t, 20.0, ent.Health.Current)
	assert.Equal(t, []uint64{ent.ID}, out.respawned)
	assert.Equal(t, 1.0, counterValue(t, reg, "mistborn_deaths_total", nil))

	respawns.Wait()

	_, err = s.ApplyDamage(ctx, 12345, 0, 1, damage.KindGeneric)
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestDamageEmergencyOverride(t *testing.T) {
	s, _ := newTestSim(t, nil)
	st := allomancy.NewEmptyState()
	st.GrantPower(allomancy.Pewter)
	st.SetReserve(allomancy.Pewter, 1)
	ent := s.AddEntity(vec.Vec3{}, 20, st)

	res, err := s.ApplyDamage(context.Background(), ent.ID, 0, 40, damage.KindGeneric)
	require.NoError(t, err)
	assert.False(t, res.Died)
	assert.Equal(t, 10.0, res.Amount)
	assert.True(t, st.Toggled(allomancy.Pewter))
	assert.Equal(t, 1, st.Intensity(allomancy.Pewter))
}

func TestDrainBetweenEntities(t *testing.T) {
	s, _ := newTestSim(t, nil)

	attackerState := allomancy.NewEmptyState()
	attackerState.GrantPower(allomancy.Chromium)
	attackerState.SetReserve(allomancy.Chromium, 1)
	attackerState.SetIntensity(allomancy.Chromium, 2)
	attackerState.SetToggle(allomancy.Chromium, true)
	attacker := s.AddEntity(vec.Vec3{}, 20, attackerState)

	victimState := allomancy.NewEmptyState()
	victimState.SetReserve(allomancy.Tin, 3)
	victimState.SetReserve(allomancy.Steel, 3)
	victim := s.AddEntity(vec.Vec3{X: 1}, 20, victimState)

	res, err := s.ApplyDamage(context.Background(), victim.ID, attacker.ID, 1, damage.KindGeneric)
	require.NoError(t, err)
	assert.Contains(t, res.Fired, "adversarial_drain")
	assert.Zero(t, victimState.Reserve(allomancy.Tin))
	assert.Zero(t, victimState.Reserve(allomancy.Steel))
}

func TestLeavePersistsAndRestores(t *testing.T) {
	repo := storage.NewMemoryStateRepo()
	ctx := context.Background()
	s, _ := newTestSim(t, func(o *Options) { o.Repo = repo })

	ent, err := s.Join(ctx, 77)
	require.NoError(t, err)
	s.Submit(GrantPower(ent.ID, allomancy.Bendalloy))
	s.Submit(FeedReserve(ent.ID, allomancy.Bendalloy, 3))
	s.Submit(SetSelected(ent.ID, allomancy.Bendalloy))
	s.Step(ctx, 0.05)

	require.NoError(t, s.Leave(ctx, ent.ID))
	_, ok := s.Snapshot(ent.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Leave(ctx, ent.ID), ErrEntityNotFound)

	rec, found, err := repo.Load(ctx, 77)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bendalloy", rec.Selected)

	back, err := s.Join(ctx, 77)
	require.NoError(t, err)
	snap, ok := s.Snapshot(back.ID)
	require.True(t, ok)
	assert.Equal(t, 3.0, snap.Record.Reserves["bendalloy"])
	assert.Equal(t, "bendalloy", snap.Record.Selected)
}

func TestAutosaveAndSaveAll(t *testing.T) {
	repo := storage.NewMemoryStateRepo()
	ctx := context.Background()
	s, _ := newTestSim(t, func(o *Options) {
		o.Repo = repo
		o.AutosaveEvery = 100 * time.Millisecond
	})

	_, err := s.Join(ctx, 1)
	require.NoError(t, err)
	s.AddEntity(vec.Vec3{}, 20, nil)

	s.Step(ctx, 0.05)
	assert.Zero(t, repo.Count())
	s.Step(ctx, 0.05)
	assert.Equal(t, 1, repo.Count(), "NPC не сохраняются")

	_, err = s.Join(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.SaveAll(ctx))
	assert.Equal(t, 2, repo.Count())
}

func TestDirtyStatesReplicated(t *testing.T) {
	ctx := context.Background()
	repl, err := replication.NewReplicator(ctx, replication.Config{
		RegionID: "region-test",
		Cache:    replication.NewMemoryViewCache(),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	defer repl.Stop()

	s, _ := newTestSim(t, func(o *Options) { o.Replicator = repl })
	ent := s.AddEntity(vec.Vec3{}, 20, allomancy.NewEmptyState())
	s.Submit(GrantPower(ent.ID, allomancy.Gold))
	s.Step(ctx, 0.05)

	view, found, err := repl.View(ctx, ent.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, view.Record.Powers["gold"])
	assert.Equal(t, uint64(1), view.Tick)

	st, _ := s.EntityState(ent.ID)
	assert.False(t, st.Dirty(), "Флаг снимается после репликации")
}

func TestSnapshotIncludesSenses(t *testing.T) {
	s, _ := newTestSim(t, nil)
	st := allomancy.NewEmptyState()
	st.GrantPower(allomancy.Tin)
	st.SetReserve(allomancy.Tin, 100)
	st.SetIntensity(allomancy.Tin, 5)
	st.SetToggle(allomancy.Tin, true)
	ent := s.AddEntity(vec.Vec3{}, 20, st)

	snap, ok := s.Snapshot(ent.ID)
	require.True(t, ok)
	assert.Equal(t, 1.0, snap.Senses.NightVision)
	assert.Equal(t, 20.0, snap.MaxHP)
	assert.Equal(t, 1.0, snap.WalkSpeed, "Без пьютера скорость обычная")
}

func TestSnapshotWalkSpeedFromPewter(t *testing.T) {
	s, _ := newTestSim(t, nil)
	st := allomancy.NewEmptyState()
	st.GrantPower(allomancy.Pewter)
	st.SetReserve(allomancy.Pewter, 100)
	st.SetIntensity(allomancy.Pewter, allomancy.MaxIntensity)
	st.SetToggle(allomancy.Pewter, true)
	ent := s.AddEntity(vec.Vec3{}, 20, st)

	s.Step(context.Background(), 0.05)

	snap, ok := s.Snapshot(ent.ID)
	require.True(t, ok)
	assert.Greater(t, snap.WalkSpeed, 1.0, "Горящий пьютер ускоряет ходьбу")
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := storage.NewMemoryStateRepo()
	s, _ := newTestSim(t, func(o *Options) {
		o.Repo = repo
		o.TickInterval = time.Millisecond
	})
	_, err := s.Join(context.Background(), 3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Tick() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, repo.Count(), "При остановке состояние сохраняется")
}
