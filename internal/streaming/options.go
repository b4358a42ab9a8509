package streaming

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/annel0/chunk-streamer/internal/config"
	"github.com/annel0/chunk-streamer/internal/world"
)

// Options параметры движка. Радиусы в чанках.
type Options struct {
	LoadRadius       int
	UnloadRadius     int // по Чебышёву
	MeshRadius       int
	DecorationRadius int
	NeighborMargin   int

	Bounds world.Bounds

	GenerationWorkers int
	MeshWorkers       int

	ReadyQueueCapacity      int
	CompletedBufferCapacity int
	RetainedCacheSize       int
	ChunkPoolSize           int

	MaxIntegrationsPerTick int
	MaxUploadsPerTick      int
	TickBudget             time.Duration
	MaxUnloadsPerUpdate    int

	PredictiveSpeed  float64 // блоков в секунду; 0 отключает
	LookAhead        time.Duration
	PredictiveRadius int

	RetryBase        time.Duration
	RetryMaxAttempts int
	RetryInterval    time.Duration

	CullBelowChunkY    int
	MaxNeighborWaits   int
	NeighborWaitDelay  time.Duration
	BackpressureSleep  time.Duration
	BackpressureFactor float64 // доля ёмкости очереди готовых мешей
}

// DefaultOptions параметры по умолчанию
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Streaming)
}

// OptionsFromConfig переводит секцию streaming конфигурации в параметры движка
func OptionsFromConfig(c config.StreamingConfig) Options {
	return Options{
		LoadRadius:       c.LoadRadius,
		UnloadRadius:     c.UnloadRadius,
		MeshRadius:       c.MeshRadius,
		DecorationRadius: c.DecorationRadius,
		NeighborMargin:   c.NeighborMargin,
		Bounds: world.Bounds{
			MinY:            c.MinChunkY,
			MaxY:            c.MaxChunkY,
			HorizontalLimit: c.HorizontalLimit,
		},
		GenerationWorkers:       c.GenerationWorkers,
		MeshWorkers:             c.MeshWorkers,
		ReadyQueueCapacity:      c.ReadyQueueCapacity,
		CompletedBufferCapacity: c.CompletedBufferCapacity,
		RetainedCacheSize:       c.RetainedCacheSize,
		ChunkPoolSize:           c.ChunkPoolSize,
		MaxIntegrationsPerTick:  c.MaxIntegrationsPerTick,
		MaxUploadsPerTick:       c.MaxUploadsPerTick,
		TickBudget:              time.Duration(c.TickBudgetMs) * time.Millisecond,
		MaxUnloadsPerUpdate:     c.MaxUnloadsPerUpdate,
		PredictiveSpeed:         c.PredictiveSpeed,
		LookAhead:               time.Duration(c.LookAheadSeconds * float64(time.Second)),
		PredictiveRadius:        c.PredictiveRadius,
		RetryBase:               time.Duration(c.RetryBaseMs) * time.Millisecond,
		RetryMaxAttempts:        c.RetryMaxAttempts,
		RetryInterval:           time.Duration(c.RetryIntervalMs) * time.Millisecond,
		CullBelowChunkY:         c.CullBelowChunkY,
		MaxNeighborWaits:        c.MaxNeighborWaits,
		NeighborWaitDelay:       20 * time.Millisecond,
		BackpressureSleep:       time.Duration(c.BackpressureSleepMs) * time.Millisecond,
		BackpressureFactor:      0.85,
	}
}

// withDefaults подставляет безопасные значения вместо нулевых
func (o Options) withDefaults() Options {
	if o.GenerationWorkers <= 0 {
		o.GenerationWorkers = defaultGenerationWorkers()
	}
	if o.MeshWorkers <= 0 {
		o.MeshWorkers = 4
	}
	if o.ReadyQueueCapacity <= 0 {
		o.ReadyQueueCapacity = 256
	}
	if o.CompletedBufferCapacity <= 0 {
		o.CompletedBufferCapacity = 512
	}
	if o.MaxIntegrationsPerTick <= 0 {
		o.MaxIntegrationsPerTick = 64
	}
	if o.MaxUploadsPerTick <= 0 {
		o.MaxUploadsPerTick = 16
	}
	if o.TickBudget <= 0 {
		o.TickBudget = 4 * time.Millisecond
	}
	if o.MaxUnloadsPerUpdate <= 0 {
		o.MaxUnloadsPerUpdate = 128
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMaxAttempts <= 0 {
		o.RetryMaxAttempts = 5
	}
	if o.BackpressureFactor <= 0 || o.BackpressureFactor > 1 {
		o.BackpressureFactor = 0.85
	}
	if o.BackpressureSleep <= 0 {
		o.BackpressureSleep = 2 * time.Millisecond
	}
	if o.NeighborWaitDelay <= 0 {
		o.NeighborWaitDelay = 20 * time.Millisecond
	}
	if o.UnloadRadius < o.LoadRadius+o.NeighborMargin {
		o.UnloadRadius = o.LoadRadius + o.NeighborMargin
	}
	return o
}

// defaultGenerationWorkers логические ядра минус одно (главный поток), минимум один
func defaultGenerationWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 2 {
		return 1
	}
	return n - 1
}
