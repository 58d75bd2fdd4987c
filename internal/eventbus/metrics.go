package eventbus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/mistborn/internal/logging"
)

// MetricsExporter переносит Stats шины в Prometheus-метрики
// mistborn_eventbus_*. Счётчики шины монотонны, поэтому в Prometheus
// уходит приращение с прошлого опроса.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	prev Stats

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg (nil: дефолтный).
// Опрос не идёт до вызова Start.
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer) *MetricsExporter {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mistborn",
			Subsystem: "eventbus",
			Name:      name,
			Help:      help,
		})
	}
	me := &MetricsExporter{
		bus:       bus,
		interval:  time.Second,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		published: counter("published_total", "Опубликованные события (пачки состояний, урон, возрождения)."),
		consumed:  counter("consumed_total", "События, доставленные подписчикам."),
		dropped:   counter("dropped_total", "События, отброшенные переполнением или ошибками обработчиков."),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mistborn",
			Subsystem: "eventbus",
			Name:      "inflight",
			Help:      "События в очереди шины.",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	return me
}

// Start запускает периодический опрос шины
func (m *MetricsExporter) Start() {
	logging.GetSyncLogger().Info("📈 EventBus: экспорт метрик запущен (каждые %v)", m.interval)
	go m.loop()
}

// Stop останавливает опрос и снимает последние значения
func (m *MetricsExporter) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		<-m.done
		m.Collect()
	})
}

// Collect переносит текущие Stats шины в метрики
func (m *MetricsExporter) Collect() {
	stats := m.bus.Metrics()

	m.mu.Lock()
	defer m.mu.Unlock()

	addDelta(m.published, stats.Published, m.prev.Published)
	addDelta(m.consumed, stats.Consumed, m.prev.Consumed)
	addDelta(m.dropped, stats.Dropped, m.prev.Dropped)
	m.inflight.Set(float64(stats.InFlight))
	m.prev = stats
}

func addDelta(c prometheus.Counter, now, prev uint64) {
	if now > prev {
		c.Add(float64(now - prev))
	}
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.Collect()
		case <-m.quit:
			return
		}
	}
}
