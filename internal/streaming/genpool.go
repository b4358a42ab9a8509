package streaming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

const tracerName = "github.com/annel0/chunk-streamer/internal/streaming"

// saveBatchSize сколько снимков сохраняется за одну транзакцию
const saveBatchSize = 32

const (
	// maxSaveAttempts после стольких неудач подряд снимок снимается с очереди
	maxSaveAttempts = 5
	saveRetryDelay  = 20 * time.Millisecond
)

// ChunkSource откуда получены блоки чанка
type ChunkSource int

const (
	SourceGenerated ChunkSource = iota
	SourceStorage
	SourceRetained
)

func (s ChunkSource) String() string {
	switch s {
	case SourceStorage:
		return "storage"
	case SourceRetained:
		return "retained"
	default:
		return "generated"
	}
}

// GeneratedChunk готовый рельеф; владение чанком переходит вместе со значением
type GeneratedChunk struct {
	Chunk    *world.Chunk
	Tier     world.DetailTier
	Priority int
	Source   ChunkSource
}

// GenerationPool воркеры генерации. Работают только с локальными данными
// и чистым генератором; в Store не обращаются.
type GenerationPool struct {
	workers   int
	sched     *Scheduler
	sampler   TerrainSampler
	storage   PersistentStore
	registry  *block.Registry
	retained  *RetainedCache
	chunks    *world.Pool
	failures  *FailureTracker
	abandon   AbandonListener
	metrics   *Metrics
	completed chan GeneratedChunk

	saves *saveQueue

	quit    chan struct{}
	wg      sync.WaitGroup
	saverWg sync.WaitGroup

	tracer trace.Tracer
	logger *logging.Logger
}

func newGenerationPool(workers, buffer int, sched *Scheduler, sampler TerrainSampler, storage PersistentStore,
	registry *block.Registry, retained *RetainedCache, chunks *world.Pool, failures *FailureTracker,
	abandon AbandonListener, metrics *Metrics) *GenerationPool {
	return &GenerationPool{
		workers:   workers,
		sched:     sched,
		sampler:   sampler,
		storage:   storage,
		registry:  registry,
		retained:  retained,
		chunks:    chunks,
		failures:  failures,
		abandon:   abandon,
		metrics:   metrics,
		completed: make(chan GeneratedChunk, buffer),
		saves:     newSaveQueue(),
		quit:      make(chan struct{}),
		tracer:    otel.Tracer(tracerName),
		logger:    logging.GetStreamingLogger(),
	}
}

// Start запускает воркеров и горутину сохранения
func (p *GenerationPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.saverWg.Add(1)
	go p.saver()
	p.logger.Info("⛏️ Запущено воркеров генерации: %d", p.workers)
}

// Completed канал готовых чанков; читает только главный поток
func (p *GenerationPool) Completed() <-chan GeneratedChunk {
	return p.completed
}

func (p *GenerationPool) worker(id int) {
	defer p.wg.Done()
	for {
		req, ok := p.sched.Dequeue()
		if !ok {
			p.logger.Debug("Воркер генерации %d остановлен", id)
			return
		}
		p.process(req)
	}
}

func (p *GenerationPool) process(req LoadRequest) {
	start := time.Now()
	ctx, span := p.tracer.Start(context.Background(), "streaming.generate",
		trace.WithAttributes(
			attribute.Int("chunk.x", req.Coord.X),
			attribute.Int("chunk.y", req.Coord.Y),
			attribute.Int("chunk.z", req.Coord.Z),
			attribute.String("chunk.tier", req.Tier.String()),
		))
	defer span.End()

	c := p.chunks.Get(req.Coord, req.Tier)
	source, err := p.fill(ctx, req.Coord, c.BlocksForWrite())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(req, c, err)
		return
	}
	c.MarkTerrainReady(p.registry)

	span.SetAttributes(attribute.String("chunk.source", source.String()))
	p.metrics.GenerateSeconds.Observe(time.Since(start).Seconds())
	switch source {
	case SourceRetained:
		p.metrics.RetainedHits.Inc()
	case SourceStorage:
		p.metrics.LoadedFromStorage.Inc()
	default:
		p.metrics.Generated.Inc()
	}

	select {
	case p.completed <- GeneratedChunk{Chunk: c, Tier: req.Tier, Priority: req.Priority, Source: source}:
	case <-p.quit:
		p.chunks.Put(c)
		p.sched.Complete(req.Coord)
	}
}

// fill получает блоки: кеш выгруженных, несохранённые снимки, хранилище, генератор.
// Паника генератора превращается в ошибку запроса.
func (p *GenerationPool) fill(ctx context.Context, coord world.ChunkCoord, dst *world.BlockArray) (src ChunkSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during generation of %s: %v", coord, r)
		}
	}()

	if p.retained.Load(coord, dst) || p.saves.lookup(coord, dst) {
		return SourceRetained, nil
	}

	if p.storage != nil {
		found, err := p.storage.TryLoad(ctx, coord, dst)
		if err != nil {
			return SourceStorage, fmt.Errorf("load %s: %w", coord, err)
		}
		if found {
			return SourceStorage, nil
		}
	}

	if err := p.sampler.Generate(coord, dst); err != nil {
		return SourceGenerated, fmt.Errorf("generate %s: %w", coord, err)
	}
	return SourceGenerated, nil
}

func (p *GenerationPool) fail(req LoadRequest, c *world.Chunk, err error) {
	// Запись о неудаче появляется раньше снятия с учёта: контроллер не
	// запросит координату снова в обход задержки
	rec := p.failures.Record(req.Coord, req.Tier, err)
	p.chunks.Put(c)
	p.sched.Complete(req.Coord)
	p.metrics.GenerationFailures.Inc()

	if rec.Abandoned {
		p.metrics.Abandoned.Inc()
		p.logger.Error("💀 Чанк %s заброшен после %d неудач: %v", req.Coord, rec.Failures, err)
		if p.abandon != nil {
			p.abandon.NotifyAbandoned(req.Coord, req.Tier, rec.Failures, err)
		}
		return
	}
	p.logger.Warn("⚠️ Генерация %s не удалась (%d), повтор не раньше %s: %v",
		req.Coord, rec.Failures, rec.NextRetry.Format(time.RFC3339), err)
}

// QueueSave ставит снимок изменённого чанка на сохранение. Не блокируется.
func (p *GenerationPool) QueueSave(coord world.ChunkCoord, blocks *world.BlockArray) {
	if p.storage == nil {
		return
	}
	if !p.saves.push(coord, blocks) {
		p.logger.Warn("⚠️ Сохранение %s после остановки отброшено", coord)
	}
}

// PendingSaves количество ещё не записанных снимков
func (p *GenerationPool) PendingSaves() int {
	return p.saves.len()
}

func (p *GenerationPool) saver() {
	defer p.saverWg.Done()
	batcher, _ := p.storage.(batchSaver)
	for {
		batch, ok := p.saves.nextBatch(saveBatchSize)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		failed := make(map[world.ChunkCoord]struct{})
		if batcher != nil && len(batch) > 1 {
			err := batcher.BatchSave(ctx, batch)
			p.record(err, len(batch))
			if err != nil {
				for coord := range batch {
					failed[coord] = struct{}{}
				}
			}
		} else {
			for coord, blocks := range batch {
				if err := p.storage.Save(ctx, coord, blocks); err != nil {
					p.record(fmt.Errorf("чанк %s: %w", coord, err), 1)
					failed[coord] = struct{}{}
				} else {
					p.record(nil, 1)
				}
			}
		}
		cancel()
		for coord, blocks := range batch {
			if _, bad := failed[coord]; !bad {
				p.saves.done(coord, blocks)
				continue
			}
			if !p.saves.retry(coord, blocks, maxSaveAttempts) {
				p.logger.Error("❌ Чанк %s не сохранён после %d попыток, изменения потеряны", coord, maxSaveAttempts)
			}
		}
		if len(failed) > 0 {
			time.Sleep(saveRetryDelay)
		}
	}
}

func (p *GenerationPool) record(err error, n int) {
	if err != nil {
		p.metrics.SaveFailures.Add(float64(n))
		p.logger.Error("❌ Ошибка сохранения (%d чанков): %v", n, err)
		return
	}
	p.metrics.Saved.Add(float64(n))
}

// Stop дожидается выхода воркеров (планировщик должен быть уже закрыт)
// и возвращает в пул чанки, которые не успели интегрировать.
func (p *GenerationPool) Stop() {
	close(p.quit)
	p.wg.Wait()
	for {
		select {
		case g := <-p.completed:
			p.sched.Complete(g.Chunk.Coord)
			p.chunks.Put(g.Chunk)
		default:
			return
		}
	}
}

// StopSaver дописывает очередь сохранения и останавливает горутину сохранения
func (p *GenerationPool) StopSaver() {
	p.saves.close()
	p.saverWg.Wait()
}
