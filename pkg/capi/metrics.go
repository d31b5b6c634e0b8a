package capi

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics собирает и экспортирует метрики движка управления вызовами.
//
// Счетчики покрывают жизненный цикл вызовов (создание, установление,
// завершение), трафик сообщений по командам и восстановления после
// неисправностей транспорта. Все операции потокобезопасны.
type Metrics struct {
	callsTotal        *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	callDuration      prometheus.Histogram
	messagesTotal     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	recoveriesTotal   prometheus.Counter

	mu         sync.Mutex
	registered bool
}

// NewMetrics создает сборщик метрик с заданным namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "isdn"
	}

	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capi",
			Name:      "calls_total",
			Help:      "Total number of call attempts by direction",
		}, []string{"direction"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capi",
			Name:      "connections_active",
			Help:      "Number of occupied connection slots",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capi",
			Name:      "call_duration_seconds",
			Help:      "Duration of established calls",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capi",
			Name:      "messages_total",
			Help:      "Messages processed by command and kind",
		}, []string{"command", "kind"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capi",
			Name:      "errors_total",
			Help:      "Engine errors by code",
		}, []string{"code"}),
		recoveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capi",
			Name:      "recoveries_total",
			Help:      "Transport fault recoveries",
		}),
	}
	return m
}

// Register регистрирует коллекторы в реестре Prometheus.
// Повторный вызов безопасен.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	for _, col := range []prometheus.Collector{
		m.callsTotal, m.connectionsActive, m.callDuration,
		m.messagesTotal, m.errorsTotal, m.recoveriesTotal,
	} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

// CallStarted учитывает попытку вызова.
func (m *Metrics) CallStarted(outgoing bool) {
	if m == nil {
		return
	}
	direction := "incoming"
	if outgoing {
		direction = "outgoing"
	}
	m.callsTotal.WithLabelValues(direction).Inc()
}

// ConnectionsActive обновляет число занятых слотов.
func (m *Metrics) ConnectionsActive(n int) {
	if m == nil {
		return
	}
	m.connectionsActive.Set(float64(n))
}

// CallFinished учитывает длительность завершенного вызова.
func (m *Metrics) CallFinished(connectTime time.Time) {
	if m == nil || connectTime.IsZero() {
		return
	}
	m.callDuration.Observe(time.Since(connectTime).Seconds())
}

// Message учитывает обработанное сообщение.
func (m *Metrics) Message(cmd Command, sub Subcommand) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(cmd.String(), sub.String()).Inc()
}

// Error учитывает ошибку движка.
func (m *Metrics) Error(code ErrorCode) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code.String()).Inc()
}

// Recovery учитывает пересоздание регистрации после неисправности транспорта.
func (m *Metrics) Recovery() {
	if m == nil {
		return
	}
	m.recoveriesTotal.Inc()
}
