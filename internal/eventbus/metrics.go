package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter переносит статистику шины в Prometheus.
// Опирается только на EventBus.Metrics(), поэтому работает с любой реализацией.
// Сам HTTP-эндпоинт /metrics обслуживает api.StatusServer.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	mu   sync.Mutex
	prev Stats

	// Prometheus metrics
	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg.
// Цикл обновления не запускается до вызова Start.
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer, interval time.Duration) *MetricsExporter {
	if interval <= 0 {
		interval = time.Second
	}
	me := &MetricsExporter{
		bus:      bus,
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или ограничения back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Количество сообщений, находящихся в очереди (не доставленных).",
		}),
	}

	reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	return me
}

// Start запускает периодическое обновление метрик в отдельной горутине.
func (m *MetricsExporter) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.loop()
}

// Stop останавливает обновление метрик.
func (m *MetricsExporter) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		if m.started.Load() {
			<-m.done
		}
	})
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
			m.Collect()
			return
		}
	}
}

// Collect переносит приращения статистики шины в счётчики
func (m *MetricsExporter) Collect() {
	stats := m.bus.Metrics()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Для коррекции Counter храним прошлое значение и прибавляем дельту.
	if d := stats.Published - m.prev.Published; d > 0 {
		m.published.Add(float64(d))
	}
	if d := stats.Consumed - m.prev.Consumed; d > 0 {
		m.consumed.Add(float64(d))
	}
	if d := stats.Dropped - m.prev.Dropped; d > 0 {
		m.dropped.Add(float64(d))
	}
	m.inflight.Set(float64(stats.InFlight))
	m.prev = stats
}
