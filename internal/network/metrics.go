package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Метрики сетевой подсистемы:
// * mistborn_net_connections: gauge активных соединений
// * mistborn_net_frames_total{direction,type}: counter кадров
// * mistborn_net_dropped_total{reason}: counter отброшенных сообщений
type Metrics struct {
	connections prometheus.Gauge
	frames      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

// Причины отбрасывания
const (
	DropDecode      = "decode"
	DropOutOfRange  = "out_of_range"
	DropNotJoined   = "not_joined"
	DropUnexpected  = "unexpected_type"
	DropQueueFull   = "queue_full"
	DropSimRejected = "sim_rejected"
)

// NewMetrics создаёт и регистрирует метрики (nil: дефолтный регистр)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mistborn",
			Subsystem: "net",
			Name:      "connections",
			Help:      "Активные игровые соединения.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mistborn",
			Subsystem: "net",
			Name:      "frames_total",
			Help:      "Кадры протокола по направлению и типу.",
		}, []string{"direction", "type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mistborn",
			Subsystem: "net",
			Name:      "dropped_total",
			Help:      "Отброшенные сообщения по причине.",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.connections, m.frames, m.dropped)
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) frame(direction, msgType string) {
	if m != nil {
		m.frames.WithLabelValues(direction, msgType).Inc()
	}
}

func (m *Metrics) drop(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}
