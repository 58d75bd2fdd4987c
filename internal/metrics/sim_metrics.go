// Package metrics содержит Prometheus-метрики симуляции алломантии.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/mistborn/internal/allomancy"
)

// SimMetrics набор метрик симуляции.
// Реализует effects.Observer и damage.Observer.
//
// Метрики:
// * mistborn_tick_duration_seconds: histogram
// * mistborn_effects_executed_total{metal,flare}: counter
// * mistborn_commands_total{kind,result}: counter (applied/dropped)
// * mistborn_damage_stages_fired_total{stage}: counter
// * mistborn_replicated_states_total: counter
// * mistborn_entities: gauge
// * mistborn_deaths_total: counter
type SimMetrics struct {
	tickDuration prometheus.Histogram
	effects      *prometheus.CounterVec
	commands     *prometheus.CounterVec
	stages       *prometheus.CounterVec
	replicated   prometheus.Counter
	entities     prometheus.Gauge
	deaths       prometheus.Counter
}

// Результаты команд
const (
	ResultApplied = "applied"
	ResultDropped = "dropped"
)

// NewSimMetrics создаёт метрики и регистрирует их в reg (nil: дефолтный регистр)
func NewSimMetrics(reg prometheus.Registerer) *SimMetrics {
	const ns = "mistborn"
	m := &SimMetrics{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "tick_duration_seconds",
			Help:      "Длительность одного тика симуляции.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		effects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "effects_executed_total",
			Help:      "Исполненные эффекты горения по металлам.",
		}, []string{"metal", "flare"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "commands_total",
			Help:      "Команды по типу и результату (applied/dropped).",
		}, []string{"kind", "result"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "damage_stages_fired_total",
			Help:      "Сработавшие стадии цепочки урона.",
		}, []string{"stage"}),
		replicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "replicated_states_total",
			Help:      "Грязные состояния, отправленные в репликацию.",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "entities",
			Help:      "Текущее количество сущностей с алломантией.",
		}),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deaths_total",
			Help:      "Смерти сущностей со сбросом запасов.",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.tickDuration, m.effects, m.commands, m.stages, m.replicated, m.entities, m.deaths)
	return m
}

// EffectExecuted учитывает исполненный эффект
func (m *SimMetrics) EffectExecuted(metal allomancy.Metal, flare bool) {
	f := "false"
	if flare {
		f = "true"
	}
	m.effects.WithLabelValues(metal.String(), f).Inc()
}

// StageFired учитывает сработавшую стадию урона
func (m *SimMetrics) StageFired(stage string) {
	m.stages.WithLabelValues(stage).Inc()
}

// CommandApplied команда применена
func (m *SimMetrics) CommandApplied(kind string) {
	m.commands.WithLabelValues(kind, ResultApplied).Inc()
}

// CommandDropped команда отброшена валидацией
func (m *SimMetrics) CommandDropped(kind string) {
	m.commands.WithLabelValues(kind, ResultDropped).Inc()
}

// TickObserved длительность тика
func (m *SimMetrics) TickObserved(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// StatesReplicated количество реплицированных за тик состояний
func (m *SimMetrics) StatesReplicated(n int) {
	m.replicated.Add(float64(n))
}

// SetEntities текущее количество сущностей
func (m *SimMetrics) SetEntities(n int) {
	m.entities.Set(float64(n))
}

// Died смерть сущности
func (m *SimMetrics) Died() {
	m.deaths.Inc()
}
