package streaming

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/vec"
	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

// Dependencies внешние компоненты конвейера
type Dependencies struct {
	Registry  *block.Registry
	Sampler   TerrainSampler
	Storage   PersistentStore // nil: без постоянного хранилища
	Decorator Decorator
	Lighter   Lighter
	Mesher    MeshBuilder
	Uploader  Uploader
	Unload    UnloadListener  // nil допустим
	Abandon   AbandonListener // nil допустим
	Metrics   *Metrics        // nil: метрики без регистрации
	Clock     func() time.Time
}

// SpawnAnchor область, чанки которой никогда не выгружаются
type SpawnAnchor struct {
	Center world.ChunkCoord
	Radius int
}

// Contains сообщает, попадает ли координата в область (по Чебышёву)
func (a SpawnAnchor) Contains(c world.ChunkCoord) bool {
	return c.Chebyshev(a.Center) <= a.Radius
}

// UpdateStats итог обработки позиции наблюдателя
type UpdateStats struct {
	EarlyOut         bool
	Scheduled        int
	Promoted         int
	UnloadCandidates int
	Unloaded         int
	Deferred         int
	Predicted        int
}

// Stats снимок состояния движка; безопасно вызывать из любой горутины.
// Загрузчик не вызывается: PendingUploads берётся из последнего кадра.
type Stats struct {
	Observer       world.ChunkCoord `json:"observer"`
	Resident       int              `json:"resident"`
	InFlight       int              `json:"in_flight"`
	LoadQueue      int              `json:"load_queue"`
	MeshQueue      int              `json:"mesh_queue"`
	ReadyQueue     int              `json:"ready_queue"`
	PendingUploads int              `json:"pending_uploads"`
	PendingUnloads int              `json:"pending_unloads"`
	PendingSaves   int              `json:"pending_saves"`
	Failed         int              `json:"failed"`
	Abandoned      int              `json:"abandoned"`
	Retained       int              `json:"retained"`
	Pool           world.PoolStats  `json:"pool"`
	Anchor         *SpawnAnchor     `json:"anchor,omitempty"`
}

// Controller координирует подгрузку мира вокруг наблюдателя.
// Update, Tick, SetBlock и управление якорем вызываются только из главного потока.
type Controller struct {
	opts      Options
	registry  *block.Registry
	store     *world.Store
	pool      *world.Pool
	sched     *Scheduler
	failures  *FailureTracker
	retained  *RetainedCache
	meshQueue *MeshQueue
	ready     *ReadyQueue
	gen       *GenerationPool
	meshes    *MeshPool
	upload    *UploadStage
	uploader  Uploader
	unload    UnloadListener
	metrics   *Metrics
	clock     func() time.Time

	// Состояние главного потока
	hasObserver   bool
	hasLookAhead  bool
	lastLookAhead world.ChunkCoord
	pendingUnload map[world.ChunkCoord]struct{}
	lastRetry     time.Time
	scratch       world.BlockArray

	// Читается из Stats
	stateMu  sync.RWMutex
	observer world.ChunkCoord
	anchor   *SpawnAnchor

	pendingUnloads atomic.Int64
	// Загрузчик вызывается только из главного потока; Stats читает последнее значение
	pendingUploads atomic.Int64

	started atomic.Bool
	stopped atomic.Bool
	logger  *logging.Logger
}

// NewController собирает конвейер. Воркеры запускаются в Start.
func NewController(opts Options, deps Dependencies) (*Controller, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("streaming: registry is required")
	case deps.Sampler == nil:
		return nil, errors.New("streaming: terrain sampler is required")
	case deps.Decorator == nil || deps.Lighter == nil || deps.Mesher == nil:
		return nil, errors.New("streaming: decorator, lighter and mesher are required")
	case deps.Uploader == nil:
		return nil, errors.New("streaming: uploader is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}

	opts = opts.withDefaults()
	c := &Controller{
		opts:          opts,
		registry:      deps.Registry,
		store:         world.NewStore(opts.Bounds),
		pool:          world.NewPool(opts.ChunkPoolSize),
		sched:         NewScheduler(),
		failures:      NewFailureTracker(opts.RetryBase, opts.RetryMaxAttempts, deps.Clock),
		retained:      NewRetainedCache(opts.RetainedCacheSize),
		meshQueue:     NewMeshQueue(),
		ready:         NewReadyQueue(opts.ReadyQueueCapacity),
		uploader:      deps.Uploader,
		unload:        deps.Unload,
		metrics:       deps.Metrics,
		clock:         deps.Clock,
		pendingUnload: make(map[world.ChunkCoord]struct{}),
		logger:        logging.GetStreamingLogger(),
	}

	c.gen = newGenerationPool(opts.GenerationWorkers, opts.CompletedBufferCapacity, c.sched, deps.Sampler,
		deps.Storage, deps.Registry, c.retained, c.pool, c.failures, deps.Abandon, c.metrics)
	c.meshes = newMeshPool(opts, c.store, c.meshQueue, c.ready, deps.Decorator, deps.Lighter, deps.Mesher, c.metrics)
	// Бюджет кадра меряется реальным временем, а не часами повторов
	c.upload = newUploadStage(opts, c.store, c.sched, c.failures, c.pool, c.meshQueue, c.ready,
		c.gen.Completed(), c.wanted, deps.Uploader, c.metrics, time.Now)
	return c, nil
}

// Start запускает воркеров генерации и мешей
func (c *Controller) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.gen.Start()
	c.meshes.Start()
	c.logger.Info("🚀 Стример запущен: радиус загрузки %d, выгрузки %d, генерация %d, меши %d",
		c.opts.LoadRadius, c.opts.UnloadRadius, c.opts.GenerationWorkers, c.opts.MeshWorkers)
}

// Shutdown останавливает конвейер: флаг, пробуждение всех ожидающих,
// ожидание всех воркеров, затем сохранение изменённых чанков.
func (c *Controller) Shutdown() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info("🛑 Остановка стримера...")

	c.sched.Close()
	c.meshQueue.Close()
	c.gen.Stop()
	c.meshes.Stop()

	saved := 0
	for _, ch := range c.store.Snapshot() {
		if ch.Dirty() {
			blocks := new(world.BlockArray)
			ch.Snapshot(blocks)
			c.gen.QueueSave(ch.Coord, blocks)
			ch.ClearDirty()
			saved++
		}
	}
	c.gen.StopSaver()
	c.logger.Info("✅ Стример остановлен, сохранено изменённых чанков: %d", saved)
}

// Update обрабатывает новую позицию наблюдателя
func (c *Controller) Update(position, velocity vec.Vec3Float) UpdateStats {
	var st UpdateStats

	center := world.ChunkCoordFromPosition(position)
	if c.hasObserver && center == c.Observer() {
		st.EarlyOut = true
		return st
	}
	c.hasObserver = true
	c.stateMu.Lock()
	c.observer = center
	c.stateMu.Unlock()

	radius := c.opts.LoadRadius + c.opts.NeighborMargin

	// Один проход по снимку: множество резидентных и кандидаты на выгрузку
	resident := c.store.Snapshot()
	members := make(map[world.ChunkCoord]struct{}, len(resident))
	var candidates []world.ChunkCoord
	for _, ch := range resident {
		coord := ch.Coord
		members[coord] = struct{}{}

		dist := coord.Chebyshev(center)
		if dist > c.opts.UnloadRadius {
			if !c.anchored(coord) {
				candidates = append(candidates, coord)
			}
			continue
		}
		c.cancelUnload(coord)
		if dist <= radius {
			d := coord.DistanceSq(center)
			if want := c.tierFor(d); ch.Promote(want) {
				st.Promoted++
				if want.NeedsMesh() {
					c.meshQueue.Push(MeshTask{Coord: coord, Priority: d})
				}
			}
		}
	}
	st.UnloadCandidates = len(candidates)

	// Куб кандидатов на загрузку
	bounds := c.store.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dz := -radius; dz <= radius; dz++ {
			for dx := -radius; dx <= radius; dx++ {
				coord := center.Add(dx, dy, dz)
				if !bounds.Contains(coord) {
					continue
				}
				if _, ok := members[coord]; ok {
					continue
				}
				// Неудачные координаты повторяет Tick по расписанию
				if _, failed := c.failures.Get(coord); failed {
					continue
				}
				d := dx*dx + dy*dy + dz*dz
				if c.sched.Enqueue(coord, d, c.tierFor(d)) {
					st.Scheduled++
				}
			}
		}
	}

	for _, coord := range candidates {
		c.markUnload(coord)
	}
	st.Unloaded, st.Deferred = c.processUnloads(center)

	st.Predicted = c.predict(center, position, velocity)

	if st.Scheduled > 0 || st.Unloaded > 0 {
		c.logger.Debug("🧭 Наблюдатель в %s: запрошено %d, выгружено %d, отложено %d",
			center, st.Scheduled, st.Unloaded, st.Deferred)
	}
	c.updateGauges()
	return st
}

// processUnloads выгружает ожидающих кандидатов, не больше MaxUnloadsPerUpdate за вызов.
// Чанк, взятый воркером, остаётся в ожидании до следующего прохода.
func (c *Controller) processUnloads(center world.ChunkCoord) (unloaded, deferred int) {
	defer func() { c.pendingUnloads.Store(int64(len(c.pendingUnload))) }()
	if len(c.pendingUnload) == 0 {
		return 0, 0
	}

	// Сначала самые дальние
	coords := make([]world.ChunkCoord, 0, len(c.pendingUnload))
	for coord := range c.pendingUnload {
		coords = append(coords, coord)
	}
	sort.Slice(coords, func(i, j int) bool {
		return coords[i].DistanceSq(center) > coords[j].DistanceSq(center)
	})

	var batch []world.ChunkCoord
	processed := 0
	for _, coord := range coords {
		if processed >= c.opts.MaxUnloadsPerUpdate {
			break
		}
		if coord.Chebyshev(center) <= c.opts.UnloadRadius || c.anchored(coord) {
			// Наблюдатель вернулся или область закреплена
			c.cancelUnload(coord)
			continue
		}
		processed++
		if c.store.IsLeased(coord) {
			deferred++
			continue
		}

		// Окончательная проверка аренды выполняется внутри Remove
		ch, err := c.store.Remove(coord)
		switch {
		case errors.Is(err, world.ErrChunkLeased):
			deferred++
			continue
		case err != nil:
			delete(c.pendingUnload, coord)
			continue
		}
		delete(c.pendingUnload, coord)
		c.release(ch)
		batch = append(batch, coord)
	}

	if deferred > 0 {
		c.metrics.UnloadDeferred.Add(float64(deferred))
	}
	if len(batch) > 0 {
		c.metrics.Unloaded.Add(float64(len(batch)))
		if c.unload != nil {
			c.unload.NotifyUnloadBatch(batch)
		}
	}
	return len(batch), deferred
}

func (c *Controller) markUnload(coord world.ChunkCoord) {
	c.pendingUnload[coord] = struct{}{}
	if ch, ok := c.store.Get(coord); ok {
		ch.SetUnloading(true)
	}
}

func (c *Controller) cancelUnload(coord world.ChunkCoord) {
	if _, ok := c.pendingUnload[coord]; !ok {
		return
	}
	delete(c.pendingUnload, coord)
	if ch, ok := c.store.Get(coord); ok {
		ch.SetUnloading(false)
	}
}

// release освобождает выгруженный чанк: снимок в кеш, изменения на сохранение, объект в пул
func (c *Controller) release(ch *world.Chunk) {
	coord := ch.Coord
	if ch.Dirty() {
		blocks := new(world.BlockArray)
		ch.Snapshot(blocks)
		c.gen.QueueSave(coord, blocks)
		c.retained.Put(coord, blocks)
	} else {
		ch.Snapshot(&c.scratch)
		c.retained.Put(coord, &c.scratch)
	}

	c.ready.Remove(coord)
	if r, ok := c.uploader.(gpuReleaser); ok {
		r.Unload(coord)
	}
	c.pool.Put(ch)
}

// predict заранее запрашивает окрестность точки, куда движется наблюдатель.
// Срабатывает повторно только после смены чанка упреждения.
func (c *Controller) predict(center world.ChunkCoord, position, velocity vec.Vec3Float) int {
	threshold := c.opts.PredictiveSpeed
	if threshold <= 0 || velocity.LengthSq() <= threshold*threshold {
		c.hasLookAhead = false
		return 0
	}

	ahead := world.ChunkCoordFromPosition(position.Add(velocity.Scale(c.opts.LookAhead.Seconds())))
	if c.hasLookAhead && ahead == c.lastLookAhead {
		return 0
	}
	c.hasLookAhead = true
	c.lastLookAhead = ahead

	bounds := c.store.Bounds()
	r := c.opts.PredictiveRadius
	n := 0
	for dy := -r; dy <= r; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				coord := ahead.Add(dx, dy, dz)
				if !bounds.Contains(coord) || coord.Chebyshev(center) > c.opts.UnloadRadius {
					continue
				}
				if c.store.Has(coord) {
					continue
				}
				if _, failed := c.failures.Get(coord); failed {
					continue
				}
				// Приоритет от точки упреждения: выше обычного кольца вокруг наблюдателя
				if c.sched.Enqueue(coord, dx*dx+dy*dy+dz*dz, c.tierFor(coord.DistanceSq(center))) {
					n++
				}
			}
		}
	}
	return n
}

// Tick выполняется каждый кадр: интеграция и загрузка, отложенные выгрузки, повторы
func (c *Controller) Tick(now time.Time) (TickStats, error) {
	stats, err := c.upload.Tick()
	if err != nil {
		c.logger.Warn("⚠️ %v", err)
	}

	if c.hasObserver {
		stats.Unloaded, _ = c.processUnloads(c.Observer())
	}

	if c.opts.RetryInterval <= 0 || now.Sub(c.lastRetry) >= c.opts.RetryInterval {
		c.lastRetry = now
		stats.Retried = c.retryDue(now)
	}

	c.updateGauges()
	return stats, err
}

// retryDue повторно запрашивает чанки, окно ожидания которых истекло.
// Координаты вне зоны загрузки забываются: при возвращении наблюдателя
// они будут запрошены заново.
func (c *Controller) retryDue(now time.Time) int {
	due := c.failures.Due(now)
	if len(due) == 0 {
		return 0
	}

	center := c.Observer()
	radius := c.opts.LoadRadius + c.opts.NeighborMargin
	n := 0
	for _, rec := range due {
		switch {
		case !c.hasObserver:
			c.failures.Release(rec.Coord)
		case rec.Coord.Chebyshev(center) > radius && !c.anchored(rec.Coord), c.store.Has(rec.Coord):
			c.failures.Succeeded(rec.Coord)
		default:
			d := rec.Coord.DistanceSq(center)
			if !c.sched.Enqueue(rec.Coord, d, rec.Tier) {
				c.failures.Release(rec.Coord)
				continue
			}
			n++
			c.logger.Debug("🔁 Повтор генерации %s (попытка %d)", rec.Coord, rec.Failures+1)
		}
	}
	return n
}

// SetBlock изменяет блок в резидентном чанке и перестраивает затронутые меши
func (c *Controller) SetBlock(pos vec.Vec3, id block.BlockID) error {
	if !c.registry.IsValidBlockID(id) {
		return fmt.Errorf("неизвестный блок %d", id)
	}
	coord := world.ChunkCoordFromBlock(pos)
	ch, ok := c.store.Get(coord)
	if !ok {
		return fmt.Errorf("чанк %s: %w", coord, world.ErrChunkNotFound)
	}

	x, y, z := world.LocalInChunk(pos)
	ch.SetBlock(x, y, z, id, c.registry)
	c.Remesh(coord)

	last := world.ChunkSize - 1
	touched := []struct {
		edge bool
		dir  world.Direction
	}{
		{x == 0, world.West}, {x == last, world.East},
		{z == 0, world.North}, {z == last, world.South},
		{y == last, world.Up},
	}
	for _, t := range touched {
		if t.edge {
			off := world.Offsets[t.dir]
			c.Remesh(coord.Add(off.X, off.Y, off.Z))
		}
	}

	// Столбец над нижним чанком изменился: освещение устарело
	if below, ok := c.store.Get(coord.Add(0, -1, 0)); ok {
		below.InvalidateLighting()
		c.Remesh(below.Coord)
	}
	return nil
}

// Remesh ставит резидентный чанк в очередь на перестроение меша
func (c *Controller) Remesh(coord world.ChunkCoord) bool {
	ch, ok := c.store.Get(coord)
	if !ok || !ch.Tier().NeedsMesh() {
		return false
	}
	return c.meshQueue.Push(MeshTask{Coord: coord, Priority: coord.DistanceSq(c.Observer())})
}

// SetSpawnAnchor закрепляет область и запрашивает её чанки с наивысшим приоритетом
func (c *Controller) SetSpawnAnchor(center world.ChunkCoord, radius int) int {
	anchor := &SpawnAnchor{Center: center, Radius: radius}
	c.stateMu.Lock()
	c.anchor = anchor
	c.stateMu.Unlock()

	bounds := c.store.Bounds()
	n := 0
	for dy := -radius; dy <= radius; dy++ {
		for dz := -radius; dz <= radius; dz++ {
			for dx := -radius; dx <= radius; dx++ {
				coord := center.Add(dx, dy, dz)
				c.cancelUnload(coord)
				if !bounds.Contains(coord) || c.store.Has(coord) {
					continue
				}
				if c.sched.Enqueue(coord, 0, c.tierFor(dx*dx+dy*dy+dz*dz)) {
					n++
				}
			}
		}
	}
	c.pendingUnloads.Store(int64(len(c.pendingUnload)))
	c.logger.Info("⚓ Якорь спавна %s радиус %d, запрошено чанков: %d", center, radius, n)
	return n
}

// ClearSpawnAnchor снимает закрепление; чанки выгрузятся при следующем проходе
func (c *Controller) ClearSpawnAnchor() {
	c.stateMu.Lock()
	c.anchor = nil
	c.stateMu.Unlock()
}

// wanted сообщает, нужен ли ещё чанк при текущей позиции наблюдателя
func (c *Controller) wanted(coord world.ChunkCoord) bool {
	if !c.hasObserver || c.anchored(coord) {
		return true
	}
	return coord.Chebyshev(c.Observer()) <= c.opts.UnloadRadius
}

func (c *Controller) anchored(coord world.ChunkCoord) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.anchor != nil && c.anchor.Contains(coord)
}

// tierFor уровень детализации по квадрату расстояния
func (c *Controller) tierFor(distSq int) world.DetailTier {
	switch {
	case distSq <= c.opts.DecorationRadius*c.opts.DecorationRadius:
		return world.TierFull
	case distSq <= c.opts.MeshRadius*c.opts.MeshRadius:
		return world.TierMeshOnly
	default:
		return world.TierTerrainOnly
	}
}

// Observer текущий чанк наблюдателя
func (c *Controller) Observer() world.ChunkCoord {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.observer
}

// Store хранилище резидентных чанков (для чтения)
func (c *Controller) Store() *world.Store {
	return c.store
}

// Stats возвращает снимок состояния
func (c *Controller) Stats() Stats {
	c.stateMu.RLock()
	observer := c.observer
	var anchor *SpawnAnchor
	if c.anchor != nil {
		a := *c.anchor
		anchor = &a
	}
	c.stateMu.RUnlock()

	return Stats{
		Observer:       observer,
		Resident:       c.store.Len(),
		InFlight:       c.sched.InFlightCount(),
		LoadQueue:      c.sched.Len(),
		MeshQueue:      c.meshQueue.Len(),
		ReadyQueue:     c.ready.Len(),
		PendingUploads: int(c.pendingUploads.Load()),
		PendingUnloads: int(c.pendingUnloads.Load()),
		PendingSaves:   c.gen.PendingSaves(),
		Failed:         c.failures.Len(),
		Abandoned:      c.failures.AbandonedCount(),
		Retained:       c.retained.Len(),
		Pool:           c.pool.Stats(),
		Anchor:         anchor,
	}
}

func (c *Controller) updateGauges() {
	c.metrics.Resident.Set(float64(c.store.Len()))
	c.metrics.InFlight.Set(float64(c.sched.InFlightCount()))
	c.metrics.LoadQueue.Set(float64(c.sched.Len()))
	c.metrics.MeshQueue.Set(float64(c.meshQueue.Len()))
	c.metrics.ReadyQueue.Set(float64(c.ready.Len()))
	pending := c.uploader.PendingUploadCount()
	c.pendingUploads.Store(int64(pending))
	c.metrics.PendingUploads.Set(float64(pending))
}
