package streaming

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/world"
)

// errTerrainMissing чанк попал в очередь меша без готового рельефа
var errTerrainMissing = errors.New("terrain not ready")

// meshOutcome итог обработки задания
type meshOutcome int

const (
	meshBuilt meshOutcome = iota
	meshSkipped
	meshCulled
	meshRequeued
	meshFailed
)

// MeshPool воркеры декорации, освещения и построения мешей.
// Чанк берётся из Store в аренду вместе с закреплёнными соседями: пока
// аренда не возвращена, ни чанк, ни его соседи не выгружаются.
type MeshPool struct {
	workers   int
	opts      Options
	store     *world.Store
	queue     *MeshQueue
	ready     *ReadyQueue
	decorator Decorator
	lighter   Lighter
	mesher    MeshBuilder
	metrics   *Metrics

	stopping chan struct{}
	wg       sync.WaitGroup
	logger   *logging.Logger
}

func newMeshPool(opts Options, store *world.Store, queue *MeshQueue, ready *ReadyQueue,
	decorator Decorator, lighter Lighter, mesher MeshBuilder, metrics *Metrics) *MeshPool {
	return &MeshPool{
		workers:   opts.MeshWorkers,
		opts:      opts,
		store:     store,
		queue:     queue,
		ready:     ready,
		decorator: decorator,
		lighter:   lighter,
		mesher:    mesher,
		metrics:   metrics,
		stopping:  make(chan struct{}),
		logger:    logging.GetStreamingLogger(),
	}
}

// Start запускает воркеров
func (p *MeshPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("🧱 Запущено воркеров мешей: %d", p.workers)
}

// Stop дожидается выхода воркеров (очередь должна быть уже закрыта)
func (p *MeshPool) Stop() {
	close(p.stopping)
	p.wg.Wait()
}

func (p *MeshPool) worker(id int) {
	defer p.wg.Done()
	for {
		task, ok := p.queue.Pop()
		if !ok {
			p.logger.Debug("Воркер мешей %d остановлен", id)
			return
		}
		p.process(task)
	}
}

// process обрабатывает одно задание; ошибки и паники не останавливают воркера
func (p *MeshPool) process(task MeshTask) meshOutcome {
	// Очередь готовых почти заполнена: не тратим время на меш, который некуда положить.
	// Проверка до аренды, чтобы ожидание не задерживало выгрузку чанка.
	if float64(p.ready.Len()) >= float64(p.ready.Cap())*p.opts.BackpressureFactor {
		p.metrics.Backpressure.Inc()
		p.queue.Push(task)
		p.pause(p.opts.BackpressureSleep)
		return meshRequeued
	}

	n, err := p.store.AcquireNeighborhood(task.Coord)
	switch {
	case errors.Is(err, world.ErrChunkNotFound):
		// Чанк выгружен, пока задание ждало в очереди
		return meshSkipped
	case errors.Is(err, world.ErrChunkLeased):
		p.requeueLater(task, p.opts.NeighborWaitDelay)
		return meshRequeued
	case err != nil:
		p.logger.Error("❌ Не удалось взять чанк %s: %v", task.Coord, err)
		return meshFailed
	}
	defer p.store.ReleaseNeighborhood(n)

	outcome, err := p.build(n, task)
	if err != nil {
		p.metrics.MeshFailures.Inc()
		p.logger.Error("❌ Ошибка меша %s: %v", task.Coord, err)
		return meshFailed
	}
	return outcome
}

func (p *MeshPool) build(n world.Neighborhood, task MeshTask) (outcome meshOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = meshFailed, fmt.Errorf("panic: %v", r)
		}
	}()

	c := n.Center
	if !c.Tier().NeedsMesh() {
		return meshSkipped, nil
	}

	if task.Coord.Y < p.opts.CullBelowChunkY && n.Enclosed() {
		p.metrics.Culled.Inc()
		return meshCulled, nil
	}

	if !c.TerrainReady() {
		return meshFailed, errTerrainMissing
	}

	start := time.Now()
	if c.Tier() == world.TierFull && !c.Decorated() {
		if !n.HorizontalReady() && task.Waits < p.opts.MaxNeighborWaits {
			task.Waits++
			p.requeueLater(task, p.opts.NeighborWaitDelay*time.Duration(task.Waits))
			return meshRequeued, nil
		}
		if err := p.decorator.Decorate(c, n); err != nil {
			return meshFailed, fmt.Errorf("decorate: %w", err)
		}
	}

	if err := p.lighter.EnsureLighting(c, n); err != nil {
		return meshFailed, fmt.Errorf("lighting: %w", err)
	}

	geom, err := p.mesher.Build(c, n)
	if err != nil {
		return meshFailed, fmt.Errorf("mesh: %w", err)
	}
	c.MarkMeshed()
	p.metrics.Meshed.Inc()
	p.metrics.MeshSeconds.Observe(time.Since(start).Seconds())

	p.ready.Push(MeshResult{Coord: task.Coord, Geometry: geom, Priority: task.Priority})
	return meshBuilt, nil
}

// requeueLater возвращает задание в очередь через delay, не занимая воркера
func (p *MeshPool) requeueLater(task MeshTask, delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case <-p.stopping:
		default:
			p.queue.Push(task)
		}
	})
}

// pause спит, но просыпается сразу при остановке
func (p *MeshPool) pause(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopping:
	}
}
