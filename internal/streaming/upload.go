package streaming

import (
	"errors"
	"fmt"
	"time"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/world"
)

// ErrUploadFailed пакетная загрузка на GPU не удалась; меши остались в очереди
var ErrUploadFailed = errors.New("gpu batch upload failed")

// TickStats итог одного кадра
type TickStats struct {
	Integrated int
	Conflicts  int
	Uploaded   int
	Dropped    int // меши выгруженных за это время чанков
	Stale      int // чанки, ставшие ненужными до интеграции
	Retried    int
	Unloaded   int
	Elapsed    time.Duration
}

// UploadStage интеграция готовых чанков и пакетная загрузка мешей.
// Только главный поток; никогда не блокируется.
type UploadStage struct {
	opts      Options
	store     *world.Store
	sched     *Scheduler
	failures  *FailureTracker
	chunks    *world.Pool
	meshQueue *MeshQueue
	ready     *ReadyQueue
	completed <-chan GeneratedChunk
	wanted    func(world.ChunkCoord) bool
	uploader  Uploader
	metrics   *Metrics
	clock     func() time.Time
	logger    *logging.Logger
}

func newUploadStage(opts Options, store *world.Store, sched *Scheduler, failures *FailureTracker, chunks *world.Pool,
	meshQueue *MeshQueue, ready *ReadyQueue, completed <-chan GeneratedChunk, wanted func(world.ChunkCoord) bool,
	uploader Uploader, metrics *Metrics, clock func() time.Time) *UploadStage {
	return &UploadStage{
		opts:      opts,
		store:     store,
		sched:     sched,
		failures:  failures,
		chunks:    chunks,
		meshQueue: meshQueue,
		ready:     ready,
		completed: completed,
		wanted:    wanted,
		uploader:  uploader,
		metrics:   metrics,
		clock:     clock,
		logger:    logging.GetStreamingLogger(),
	}
}

// Tick выполняет интеграцию и загрузку в пределах бюджета времени
func (s *UploadStage) Tick() (TickStats, error) {
	var stats TickStats
	start := s.clock()
	deadline := start.Add(s.opts.TickBudget)

	// (a) интеграция сгенерированных чанков
integrate:
	for stats.Integrated+stats.Conflicts+stats.Stale < s.opts.MaxIntegrationsPerTick && s.clock().Before(deadline) {
		select {
		case g := <-s.completed:
			switch {
			case s.wanted != nil && !s.wanted(g.Chunk.Coord):
				// Наблюдатель ушёл, пока чанк генерировался
				s.discard(g)
				stats.Stale++
			case s.integrate(g):
				stats.Integrated++
			default:
				stats.Conflicts++
			}
		default:
			break integrate
		}
	}

	// (b) загрузка готовых мешей одним пакетом
	n := s.opts.MaxUploadsPerTick
	if rec := s.uploader.RecommendedUploadCount(); rec < n {
		n = rec
	}
	if !s.clock().Before(deadline) {
		n = 0
	}

	uploaded, dropped, err := s.upload(n)
	stats.Uploaded = uploaded
	stats.Dropped = dropped
	stats.Elapsed = s.clock().Sub(start)
	return stats, err
}

// integrate переносит чанк в Store. Конфликт (дубликат, выход за границы)
// детерминирован: чанк отбрасывается без повтора.
func (s *UploadStage) integrate(g GeneratedChunk) bool {
	coord := g.Chunk.Coord
	if err := s.store.Insert(g.Chunk); err != nil {
		s.metrics.IntegrationConflicts.Inc()
		s.logger.Debug("Чанк %s отклонён при интеграции: %v", coord, err)
		s.chunks.Put(g.Chunk)
		s.sched.Complete(coord)
		return false
	}
	s.sched.Complete(coord)
	s.failures.Succeeded(coord)

	if g.Tier.NeedsMesh() {
		s.meshQueue.Push(MeshTask{Coord: coord, Priority: g.Priority})
	}
	return true
}

// discard возвращает ненужный чанк в пул без интеграции
func (s *UploadStage) discard(g GeneratedChunk) {
	s.chunks.Put(g.Chunk)
	s.sched.Complete(g.Chunk.Coord)
}

func (s *UploadStage) upload(n int) (uploaded, dropped int, err error) {
	results := s.ready.TakeBest(n)
	if len(results) == 0 {
		return 0, 0, nil
	}

	// Меши чанков, выгруженных после построения, не загружаем
	batch := results[:0]
	for _, r := range results {
		if s.store.Has(r.Coord) {
			batch = append(batch, r)
		} else {
			dropped++
		}
	}
	if len(batch) == 0 {
		return 0, dropped, nil
	}

	if err := s.submit(batch); err != nil {
		s.ready.Restore(batch)
		s.metrics.UploadFailures.Inc()
		return 0, dropped, fmt.Errorf("%w: %d meshes: %v", ErrUploadFailed, len(batch), err)
	}

	for _, r := range batch {
		if c, ok := s.store.Get(r.Coord); ok {
			c.MarkUploaded()
		}
	}
	s.metrics.Uploaded.Add(float64(len(batch)))
	return len(batch), dropped, nil
}

func (s *UploadStage) submit(batch []MeshResult) error {
	if err := s.uploader.BeginBatch(); err != nil {
		return err
	}
	for _, r := range batch {
		if err := s.uploader.AddToBatch(r.Geometry); err != nil {
			// Пакет уже открыт: закрываем его, меши вернутся в очередь
			_ = s.uploader.SubmitBatch()
			return err
		}
	}
	return s.uploader.SubmitBatch()
}
