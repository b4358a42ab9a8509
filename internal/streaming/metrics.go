package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики конвейера
type Metrics struct {
	Generated            prometheus.Counter
	LoadedFromStorage    prometheus.Counter
	RetainedHits         prometheus.Counter
	GenerationFailures   prometheus.Counter
	Abandoned            prometheus.Counter
	Meshed               prometheus.Counter
	Culled               prometheus.Counter
	MeshFailures         prometheus.Counter
	Backpressure         prometheus.Counter
	Uploaded             prometheus.Counter
	UploadFailures       prometheus.Counter
	Unloaded             prometheus.Counter
	UnloadDeferred       prometheus.Counter
	IntegrationConflicts prometheus.Counter
	Saved                prometheus.Counter
	SaveFailures         prometheus.Counter

	Resident       prometheus.Gauge
	InFlight       prometheus.Gauge
	LoadQueue      prometheus.Gauge
	MeshQueue      prometheus.Gauge
	ReadyQueue     prometheus.Gauge
	PendingUploads prometheus.Gauge

	GenerateSeconds prometheus.Histogram
	MeshSeconds     prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamer",
			Subsystem: "chunks",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamer",
			Subsystem: "chunks",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Generated:            counter("generated_total", "Чанков сгенерировано генератором рельефа."),
		LoadedFromStorage:    counter("loaded_from_storage_total", "Чанков загружено из постоянного хранилища."),
		RetainedHits:         counter("retained_hits_total", "Чанков восстановлено из кеша выгруженных."),
		GenerationFailures:   counter("generation_failures_total", "Неудачных попыток генерации."),
		Abandoned:            counter("abandoned_total", "Чанков, генерация которых прекращена."),
		Meshed:               counter("meshed_total", "Построенных мешей."),
		Culled:               counter("culled_total", "Чанков, пропущенных как полностью закрытые."),
		MeshFailures:         counter("mesh_failures_total", "Ошибок построения меша или освещения."),
		Backpressure:         counter("backpressure_total", "Отложенных заданий меша из-за заполненной очереди."),
		Uploaded:             counter("uploaded_total", "Мешей загружено на GPU."),
		UploadFailures:       counter("upload_failures_total", "Неудачных пакетных загрузок."),
		Unloaded:             counter("unloaded_total", "Выгруженных чанков."),
		UnloadDeferred:       counter("unload_deferred_total", "Отложенных выгрузок (чанк у воркера)."),
		IntegrationConflicts: counter("integration_conflicts_total", "Отклонённых при интеграции чанков."),
		Saved:                counter("saved_total", "Сохранённых изменённых чанков."),
		SaveFailures:         counter("save_failures_total", "Ошибок сохранения."),

		Resident:       gauge("resident", "Чанков в памяти."),
		InFlight:       gauge("in_flight", "Запрошенных, но ещё не интегрированных чанков."),
		LoadQueue:      gauge("load_queue", "Длина очереди загрузки."),
		MeshQueue:      gauge("mesh_queue", "Длина очереди мешей."),
		ReadyQueue:     gauge("ready_queue", "Мешей, ожидающих загрузки."),
		PendingUploads: gauge("pending_uploads", "Загрузок в очереди GPU."),

		GenerateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamer",
			Subsystem: "chunks",
			Name:      "generate_seconds",
			Help:      "Время получения блоков чанка.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		MeshSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamer",
			Subsystem: "chunks",
			Name:      "mesh_seconds",
			Help:      "Время декорации, освещения и построения меша.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Generated, m.LoadedFromStorage, m.RetainedHits, m.GenerationFailures, m.Abandoned,
			m.Meshed, m.Culled, m.MeshFailures, m.Backpressure, m.Uploaded, m.UploadFailures,
			m.Unloaded, m.UnloadDeferred, m.IntegrationConflicts, m.Saved, m.SaveFailures,
			m.Resident, m.InFlight, m.LoadQueue, m.MeshQueue, m.ReadyQueue, m.PendingUploads,
			m.GenerateSeconds, m.MeshSeconds,
		)
	}
	return m
}
