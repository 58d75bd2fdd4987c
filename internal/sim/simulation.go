// Package sim связывает сущности мира, алломантические состояния, движок эффектов
// и цепочку урона в одну авторитетную симуляцию с фиксированным тиком.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/damage"
	"github.com/annel0/mistborn/internal/effects"
	"github.com/annel0/mistborn/internal/eventbus"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/metrics"
	"github.com/annel0/mistborn/internal/replication"
	"github.com/annel0/mistborn/internal/storage"
	"github.com/annel0/mistborn/internal/vec"
	"github.com/annel0/mistborn/internal/world"
)

// ErrEntityNotFound сущность не найдена
var ErrEntityNotFound = errors.New("сущность не найдена")

// Outbox исходящие сообщения владельцам сущностей. Реализация не должна
// блокироваться: вызовы идут изнутри тика.
type Outbox interface {
	SendSelected(entityID uint64, index int32)
	NotifyRespawn(entityID uint64)
	SyncPosition(entityID uint64, position, motion vec.Vec3)
}

type nopOutbox struct{}

func (nopOutbox) SendSelected(uint64, int32)               {}
func (nopOutbox) NotifyRespawn(uint64)                     {}
func (nopOutbox) SyncPosition(uint64, vec.Vec3, vec.Vec3) {}

// Options параметры симуляции
type Options struct {
	TickInterval  time.Duration
	Seed          int64
	QueueSize     int
	Engine        effects.Config
	AutosaveEvery time.Duration // 0: без автосохранения
	MaxHealth     float64       // здоровье новых игроков; 0: без подсистемы здоровья
	SpawnPoint    vec.Vec3

	Repo       storage.StateRepo         // nil: состояние не сохраняется
	Replicator *replication.Replicator   // nil: без репликации
	Bus        eventbus.EventBus         // nil: события не публикуются
	Metrics    *metrics.SimMetrics       // nil: без метрик
	Resolve    damage.ResolveFunc        // nil: damage.ResolveHealth
	Tracer     trace.Tracer              // nil: no-op
	Logger     *logging.Logger           // nil: GetSimLogger()
	Region     string
}

// DefaultOptions параметры по умолчанию (20 тиков/с)
func DefaultOptions() Options {
	return Options{
		TickInterval: 50 * time.Millisecond,
		Seed:         1,
		QueueSize:    1024,
		Engine:       effects.DefaultConfig(),
		MaxHealth:    20,
		Region:       "region-1",
	}
}

// Simulation авторитетная симуляция одного мира.
// Все изменения состояния происходят под mu; команды извне только ставятся в очередь.
type Simulation struct {
	mu       sync.Mutex
	world    *world.Manager
	states   map[uint64]*allomancy.State
	engine   *effects.Engine
	pipeline *damage.Pipeline
	rng      *rand.Rand
	commands chan Command
	outbox   Outbox

	opts     Options
	repo     storage.StateRepo
	repl     *replication.Replicator
	bus      eventbus.EventBus
	metrics  *metrics.SimMetrics
	tracer   trace.Tracer
	logger   *logging.Logger
	lastSave time.Duration // время симуляции последнего автосохранения
	simTime  time.Duration
}

// New создаёт симуляцию
func New(opts Options) *Simulation {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultOptions().TickInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetSimLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("sim")
	}

	s := &Simulation{
		world:    world.NewManager(),
		states:   make(map[uint64]*allomancy.State),
		rng:      rand.New(rand.NewSource(opts.Seed)),
		commands: make(chan Command, opts.QueueSize),
		outbox:   nopOutbox{},
		opts:     opts,
		repo:     opts.Repo,
		repl:     opts.Replicator,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
	}

	// Наблюдатели передаются только если метрики заданы: nil-указатель
	// в интерфейсе не равен nil
	var effObs effects.Observer
	var dmgObs damage.Observer
	if opts.Metrics != nil {
		effObs = opts.Metrics
		dmgObs = opts.Metrics
	}
	s.engine = effects.NewEngine(opts.Engine, effObs)
	s.pipeline = damage.NewDefaultPipeline(opts.Resolve, dmgObs)
	return s
}

// SetOutbox подключает исходящий канал (сетевой сервер создаётся после симуляции)
func (s *Simulation) SetOutbox(o Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o == nil {
		o = nopOutbox{}
	}
	s.outbox = o
}

// World менеджер сущностей (внешняя сторона)
func (s *Simulation) World() *world.Manager { return s.world }

// Tick номер текущего тика
func (s *Simulation) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CurrentTick()
}

// Submit ставит команду в очередь; применяется в начале следующего тика.
// Невалидная команда или переполненная очередь отбрасываются (false).
func (s *Simulation) Submit(cmd Command) bool {
	if !cmd.Valid() {
		s.dropped(cmd)
		return false
	}
	select {
	case s.commands <- cmd:
		return true
	default:
		s.logger.Warn("⚠️ Очередь команд переполнена, %s для %d отброшена", cmd.Kind, cmd.EntityID)
		s.dropped(cmd)
		return false
	}
}

func (s *Simulation) dropped(cmd Command) {
	if s.metrics != nil {
		s.metrics.CommandDropped(cmd.Kind.String())
	}
}

// Run крутит тики с фиксированной частотой до отмены ctx, затем сохраняет всех
func (s *Simulation) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	dt := s.opts.TickInterval.Seconds()
	s.logger.Info("🔥 Симуляция запущена: тик %v, seed=%d", s.opts.TickInterval, s.opts.Seed)

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.SaveAll(saveCtx); err != nil {
				s.logger.Error("❌ Ошибка финального сохранения: %v", err)
			}
			s.logger.Info("🛑 Симуляция остановлена на тике %d", s.Tick())
			return ctx.Err()
		case <-ticker.C:
			s.Step(ctx, dt)
		}
	}
}

// Step выполняет один тик: команды → эффекты → движение → синхронизация позиций →
// репликация → автосохранение
func (s *Simulation) Step(ctx context.Context, dt float64) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.Advance()
	tick := s.engine.CurrentTick()

	ctx, span := s.tracer.Start(ctx, "sim.tick", trace.WithAttributes(attribute.Int64("tick", int64(tick))))
	defer span.End()

	applied := s.drainCommands()

	entities := s.world.Sorted()
	for _, ent := range entities {
		st, ok := s.states[ent.ID]
		if !ok || !ent.Alive {
			continue
		}
		s.engine.TickEntity(ent, st, dt)
	}

	s.world.Integrate(dt)
	s.flushResyncs()
	replicated := s.replicate(ctx, tick)

	s.simTime += time.Duration(dt * float64(time.Second))
	if s.opts.AutosaveEvery > 0 && s.simTime-s.lastSave >= s.opts.AutosaveEvery {
		s.lastSave = s.simTime
		if err := s.saveAllLocked(ctx); err != nil {
			s.logger.Error("❌ Ошибка автосохранения: %v", err)
		}
	}

	span.SetAttributes(
		attribute.Int("commands", applied),
		attribute.Int("entities", len(entities)),
		attribute.Int("replicated", replicated),
	)
	if s.metrics != nil {
		s.metrics.SetEntities(len(s.states))
		s.metrics.TickObserved(time.Since(start))
	}
}

// drainCommands применяет всё, что было в очереди к началу тика
func (s *Simulation) drainCommands() int {
	n := len(s.commands)
	for i := 0; i < n; i++ {
		s.apply(<-s.commands)
	}
	return n
}

func (s *Simulation) apply(cmd Command) {
	ent, ok := s.world.Get(cmd.EntityID)
	st, hasState := s.states[cmd.EntityID]
	if !ok || !hasState {
		s.logger.Debug("Команда %s для неизвестной сущности %d отброшена", cmd.Kind, cmd.EntityID)
		s.dropped(cmd)
		return
	}

	switch cmd.Kind {
	case CmdFlare:
		s.engine.Flare(ent, st, cmd.Metal)
	case CmdIncreaseIntensity:
		st.IncrementIntensity(cmd.Metal, 1)
	case CmdDecreaseIntensity:
		st.IncrementIntensity(cmd.Metal, -1)
	case CmdToggleBurn:
		if st.FlipToggle(cmd.Metal) {
			s.engine.Activate(ent, st, cmd.Metal)
		}
	case CmdSetSelected:
		if cmd.Metal.Valid() {
			st.SetSelected(cmd.Metal)
		} else {
			st.ClearSelected()
		}
	case CmdQuerySelected:
		s.outbox.SendSelected(ent.ID, st.SelectedIndex())
	case CmdGrantPower:
		st.GrantPower(cmd.Metal)
	case CmdRevokePower:
		st.RevokePower(cmd.Metal)
	case CmdGrantAllPowers:
		st.GrantAllPowers()
	case CmdFeedReserve:
		st.IncrementReserve(cmd.Metal, cmd.Amount)
	default:
		s.dropped(cmd)
		return
	}

	if s.metrics != nil {
		s.metrics.CommandApplied(cmd.Kind.String())
	}
}

// flushResyncs отправляет позиции сущностей, сдвинутых толчком, до начала следующего тика
func (s *Simulation) flushResyncs() {
	for _, id := range s.engine.DrainResyncs() {
		ent, ok := s.world.Get(id)
		if !ok || ent.PlayerID == 0 {
			continue
		}
		s.outbox.SyncPosition(id, ent.Position, ent.Motion)
	}
}

// replicate отдаёт грязные состояния в репликацию и снимает флаг
func (s *Simulation) replicate(ctx context.Context, tick uint64) int {
	var changes []replication.Change
	now := time.Now().UTC()
	for id, st := range s.states {
		if !st.Dirty() {
			continue
		}
		st.ClearDirty()
		if s.repl == nil {
			continue
		}
		var owner uint64
		if ent, ok := s.world.Get(id); ok {
			owner = ent.PlayerID
		}
		changes = append(changes, replication.Change{
			EntityID:  id,
			OwnerID:   owner,
			Tick:      tick,
			Record:    st.Record(),
			Priority:  3,
			Timestamp: now,
		})
	}
	if len(changes) == 0 {
		return 0
	}
	if err := s.repl.Replicate(ctx, changes); err != nil {
		s.logger.Warn("⚠️ Ошибка репликации %d состояний: %v", len(changes), err)
	}
	if s.metrics != nil {
		s.metrics.StatesReplicated(len(changes))
	}
	return len(changes)
}

// Join вводит игрока в мир: загружает сохранённое состояние или создаёт новое
// с одной случайной силой. Повторный Join возвращает существующую сущность.
func (s *Simulation) Join(ctx context.Context, playerID uint64) (*world.Entity, error) {
	if playerID == 0 {
		return nil, fmt.Errorf("недействительный playerID: %d", playerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, created := s.world.SpawnPlayer(playerID, s.opts.SpawnPoint, s.opts.MaxHealth)
	if !created {
		return ent, nil
	}

	st, err := s.loadState(ctx, playerID)
	if err != nil {
		s.world.Despawn(ent.ID)
		return nil, err
	}
	s.states[ent.ID] = st
	s.logger.Info("👤 Игрок %d вошёл: сущность %d, сил %d", playerID, ent.ID, st.PowerCount())
	return ent, nil
}

func (s *Simulation) loadState(ctx context.Context, playerID uint64) (*allomancy.State, error) {
	if s.repo != nil {
		rec, found, err := s.repo.Load(ctx, playerID)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки состояния игрока %d: %w", playerID, err)
		}
		if found {
			st := allomancy.StateFromRecord(rec)
			st.MarkDirty()
			return st, nil
		}
	}
	return allomancy.NewState(s.rng), nil
}

// AddEntity добавляет NPC с заданным состоянием (nil: новое случайное)
func (s *Simulation) AddEntity(position vec.Vec3, maxHealth float64, st *allomancy.State) *world.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.world.Spawn(world.EntityTypeNPC, position, maxHealth)
	if st == nil {
		st = allomancy.NewState(s.rng)
	}
	st.MarkDirty()
	s.states[ent.ID] = st
	return ent
}

// Leave сохраняет состояние и убирает сущность из мира
func (s *Simulation) Leave(ctx context.Context, entityID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.world.Get(entityID)
	if !ok {
		return ErrEntityNotFound
	}
	st := s.states[entityID]

	var saveErr error
	if s.repo != nil && ent.PlayerID != 0 && st != nil {
		if err := s.repo.Save(ctx, ent.PlayerID, st.Record()); err != nil {
			saveErr = fmt.Errorf("ошибка сохранения игрока %d: %w", ent.PlayerID, err)
		}
	}

	delete(s.states, entityID)
	s.world.Despawn(entityID)
	s.engine.Forget(entityID)
	if s.repl != nil {
		if err := s.repl.Forget(ctx, entityID); err != nil {
			s.logger.Warn("⚠️ Не удалось удалить представление %d: %v", entityID, err)
		}
	}
	s.logger.Info("👋 Сущность %d покинула мир", entityID)
	return saveErr
}

// ApplyDamage прогоняет удар через цепочку стадий под блокировкой симуляции.
// sourceID = 0: урон от окружения.
func (s *Simulation) ApplyDamage(ctx context.Context, victimID, sourceID uint64, amount float64, kind damage.Kind) (damage.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	victim, ok := s.world.Get(victimID)
	if !ok {
		return damage.Result{}, ErrEntityNotFound
	}

	ev := &damage.Event{
		Victim: damage.Participant{Entity: victim, State: s.states[victimID]},
		Amount: amount,
		Kind:   kind,
	}
	if sourceID != 0 {
		if src, ok := s.world.Get(sourceID); ok {
			ev.Source = &damage.Participant{Entity: src, State: s.states[sourceID]}
		}
	}

	res := s.pipeline.Apply(ev)
	s.publish(ctx, eventbus.EventDamageResolved, map[string]any{
		"victim_id": victimID,
		"source_id": sourceID,
		"amount":    res.Amount,
		"died":      res.Died,
		"stages":    res.Fired,
	})

	if res.Died {
		s.respawnLocked(ctx, victim)
	}
	return res, nil
}

// respawnLocked сбрасывает запасы и интенсивность, восстанавливает здоровье
// и уведомляет владельца
func (s *Simulation) respawnLocked(ctx context.Context, ent *world.Entity) {
	if st, ok := s.states[ent.ID]; ok {
		st.ResetOnDeath()
	}
	if ent.Health != nil {
		ent.Health.Restore()
	}
	ent.Motion = vec.Vec3{}
	ent.Alive = true

	if s.metrics != nil {
		s.metrics.Died()
	}
	if ent.PlayerID != 0 {
		s.outbox.NotifyRespawn(ent.ID)
	}
	s.publish(ctx, eventbus.EventEntityRespawned, map[string]any{
		"entity_id": ent.ID,
		"player_id": ent.PlayerID,
	})
	s.logger.Info("💀 Сущность %d погибла, состояние сброшено", ent.ID)
}

func (s *Simulation) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("⚠️ Ошибка сериализации события %s: %v", eventType, err)
		return
	}
	ev := eventbus.NewEnvelope(s.opts.Region, eventType, 5, data)
	ev.Metadata["tick"] = strconv.FormatUint(s.engine.CurrentTick(), 10)
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("⚠️ Ошибка публикации %s: %v", eventType, err)
	}
}

// Snapshot копия состояния сущности для чтения извне
type Snapshot struct {
	EntityID  uint64           `json:"entity_id"`
	PlayerID  uint64           `json:"player_id"`
	Tick      uint64           `json:"tick"`
	Position  vec.Vec3         `json:"position"`
	Motion    vec.Vec3         `json:"motion"`
	Health    float64          `json:"health"`
	MaxHP     float64          `json:"max_health"`
	WalkSpeed float64          `json:"walk_speed"` // множитель скорости ходьбы
	Record    allomancy.Record `json:"allomancy"`
	Senses    allomancy.Senses `json:"senses"`
}

// Snapshot снимает копию состояния сущности
func (s *Simulation) Snapshot(entityID uint64) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.world.Get(entityID)
	st, hasState := s.states[entityID]
	if !ok || !hasState {
		return Snapshot{}, false
	}

	snap := Snapshot{
		EntityID:  ent.ID,
		PlayerID:  ent.PlayerID,
		Tick:      s.engine.CurrentTick(),
		Position:  ent.Position,
		Motion:    ent.Motion,
		MaxHP:     ent.MaxHealth(),
		WalkSpeed: ent.WalkSpeed(),
		Record:    st.Record(),
		Senses:    allomancy.DeriveSenses(st, ent.MaxHealth()),
	}
	if ent.Health != nil {
		snap.Health = ent.Health.Current
	}
	return snap, true
}

// SaveAll сохраняет состояния всех игроков одной пачкой
func (s *Simulation) SaveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAllLocked(ctx)
}

func (s *Simulation) saveAllLocked(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	records := make(map[uint64]allomancy.Record)
	for id, st := range s.states {
		ent, ok := s.world.Get(id)
		if !ok || ent.PlayerID == 0 {
			continue
		}
		records[ent.PlayerID] = st.Record()
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.repo.BatchSave(ctx, records); err != nil {
		return err
	}
	s.logger.Debug("💾 Сохранено %d состояний", len(records))
	return nil
}

// EntityState прямой доступ к состоянию для тестов и инструментов одного потока.
// Вызывать только когда симуляция не крутится в Run.
func (s *Simulation) EntityState(entityID uint64) (*allomancy.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[entityID]
	return st, ok
}
