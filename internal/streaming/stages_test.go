package streaming

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/mesh"
	"github.com/annel0/chunk-streamer/internal/render"
	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

// stageFixture собирает этап загрузки без воркеров
type stageFixture struct {
	opts      Options
	store     *world.Store
	sched     *Scheduler
	failures  *FailureTracker
	pool      *world.Pool
	meshQueue *MeshQueue
	ready     *ReadyQueue
	completed chan GeneratedChunk
	uploader  *render.HeadlessUploader
	metrics   *Metrics
	stage     *UploadStage
}

func newStageFixture(t *testing.T) *stageFixture {
	t.Helper()
	opts := DefaultOptions()
	opts.Bounds = world.Bounds{MinY: -2, MaxY: 2}
	opts.TickBudget = time.Second
	opts = opts.withDefaults()

	f := &stageFixture{
		opts:      opts,
		store:     world.NewStore(opts.Bounds),
		sched:     NewScheduler(),
		failures:  NewFailureTracker(time.Second, 5, nil),
		pool:      world.NewPool(8),
		meshQueue: NewMeshQueue(),
		ready:     NewReadyQueue(16),
		completed: make(chan GeneratedChunk, 16),
		uploader:  render.NewHeadlessUploader(render.DefaultHeadlessConfig(), nil),
		metrics:   NewMetrics(nil),
	}
	f.stage = newUploadStage(opts, f.store, f.sched, f.failures, f.pool, f.meshQueue, f.ready,
		f.completed, nil, f.uploader, f.metrics, time.Now)
	return f
}

func readyChunk(reg *block.Registry, coord world.ChunkCoord, tier world.DetailTier) *world.Chunk {
	c := world.NewChunk(coord, tier)
	c.MarkTerrainReady(reg)
	return c
}

func TestUploadStageIntegratesAndQueuesMesh(t *testing.T) {
	f := newStageFixture(t)
	reg := block.NewDefaultRegistry()

	mesh1 := world.ChunkCoord{X: 1}
	terrain := world.ChunkCoord{X: 5}
	require.True(t, f.sched.Enqueue(mesh1, 1, world.TierMeshOnly))
	require.True(t, f.sched.Enqueue(terrain, 25, world.TierTerrainOnly))

	f.completed <- GeneratedChunk{Chunk: readyChunk(reg, mesh1, world.TierMeshOnly), Tier: world.TierMeshOnly, Priority: 1}
	f.completed <- GeneratedChunk{Chunk: readyChunk(reg, terrain, world.TierTerrainOnly), Tier: world.TierTerrainOnly, Priority: 25}

	stats, err := f.stage.Tick()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Integrated)
	assert.True(t, f.store.Has(mesh1))
	assert.True(t, f.store.Has(terrain))
	assert.Equal(t, 0, f.sched.InFlightCount())

	// TerrainOnly не попадает в очередь мешей
	assert.Equal(t, 1, f.meshQueue.Len())
	task, ok := f.meshQueue.Pop()
	require.True(t, ok)
	assert.Equal(t, mesh1, task.Coord)
}

func TestUploadStageIntegrationConflict(t *testing.T) {
	f := newStageFixture(t)
	reg := block.NewDefaultRegistry()

	coord := world.ChunkCoord{Z: 2}
	original := readyChunk(reg, coord, world.TierFull)
	require.NoError(t, f.store.Insert(original))

	require.True(t, f.sched.Enqueue(coord, 4, world.TierFull))
	outside := world.ChunkCoord{Y: 10}
	require.True(t, f.sched.Enqueue(outside, 100, world.TierFull))

	f.completed <- GeneratedChunk{Chunk: readyChunk(reg, coord, world.TierFull), Tier: world.TierFull}
	f.completed <- GeneratedChunk{Chunk: readyChunk(reg, outside, world.TierFull), Tier: world.TierFull}

	stats, err := f.stage.Tick()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Integrated)
	assert.Equal(t, 2, stats.Conflicts)

	got, ok := f.store.Get(coord)
	require.True(t, ok)
	assert.Same(t, original, got)
	assert.False(t, f.store.Has(outside))
	assert.Equal(t, 0, f.sched.InFlightCount(), "конфликт снимает координату с учёта")
	assert.Equal(t, 0, f.failures.Len(), "конфликт не повторяется")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.IntegrationConflicts))
	assert.Equal(t, 2, f.pool.Stats().Free)
}

func TestUploadStageDiscardsStaleChunks(t *testing.T) {
	f := newStageFixture(t)
	reg := block.NewDefaultRegistry()
	far := world.ChunkCoord{X: 40}
	f.stage.wanted = func(c world.ChunkCoord) bool { return c != far }

	require.True(t, f.sched.Enqueue(far, 1, world.TierFull))
	f.completed <- GeneratedChunk{Chunk: readyChunk(reg, far, world.TierFull), Tier: world.TierFull}

	stats, err := f.stage.Tick()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stale)
	assert.False(t, f.store.Has(far))
	assert.False(t, f.sched.InFlight(far))
}

func TestUploadStageRestoresOnFailure(t *testing.T) {
	f := newStageFixture(t)
	reg := block.NewDefaultRegistry()

	coords := []world.ChunkCoord{{X: 0}, {X: 1}, {X: 2}}
	for i, c := range coords {
		require.NoError(t, f.store.Insert(readyChunk(reg, c, world.TierMeshOnly)))
		f.ready.Push(MeshResult{Coord: c, Priority: i, Geometry: &mesh.Geometry{Coord: c}})
	}

	f.uploader.FailNext(1)
	stats, err := f.stage.Tick()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUploadFailed))
	assert.Equal(t, 0, stats.Uploaded)
	assert.Equal(t, 3, f.ready.Len(), "меши возвращены в очередь")

	stats, err = f.stage.Tick()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Uploaded)
	assert.Equal(t, 0, f.ready.Len())
	for _, c := range coords {
		assert.Equal(t, 1, f.uploader.UploadCount(c))
		ch, _ := f.store.Get(c)
		assert.True(t, ch.Uploaded())
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UploadFailures))
}

func TestUploadStageDropsUnloadedMeshes(t *testing.T) {
	f := newStageFixture(t)
	gone := world.ChunkCoord{X: 7}
	f.ready.Push(MeshResult{Coord: gone, Geometry: &mesh.Geometry{Coord: gone}})

	stats, err := f.stage.Tick()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 0, f.uploader.UploadCount(gone))
}

func TestUploadStageRespectsRecommendedCount(t *testing.T) {
	f := newStageFixture(t)
	reg := block.NewDefaultRegistry()
	f.uploader = render.NewHeadlessUploader(render.HeadlessConfig{MaxPerTick: 2, BytesPerSlot: 1024}, nil)
	f.stage.uploader = f.uploader

	for i := 0; i < 5; i++ {
		c := world.ChunkCoord{X: i}
		require.NoError(t, f.store.Insert(readyChunk(reg, c, world.TierMeshOnly)))
		f.ready.Push(MeshResult{Coord: c, Priority: i, Geometry: &mesh.Geometry{Coord: c}})
	}

	stats, err := f.stage.Tick()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Uploaded)
	assert.Equal(t, 3, f.ready.Len())
	assert.Equal(t, 1, f.uploader.UploadCount(world.ChunkCoord{X: 0}))
	assert.Equal(t, 1, f.uploader.UploadCount(world.ChunkCoord{X: 1}))
}

func newTestMeshPool(t *testing.T, store *world.Store, ready *ReadyQueue, mesher MeshBuilder) (*MeshPool, *MeshQueue) {
	t.Helper()
	reg := block.NewDefaultRegistry()
	opts := DefaultOptions()
	opts.MeshWorkers = 1
	opts.BackpressureSleep = time.Millisecond
	opts.NeighborWaitDelay = time.Millisecond
	opts.CullBelowChunkY = 0
	opts = opts.withDefaults()

	if mesher == nil {
		mesher = mesh.NewFaceMesher(reg)
	}
	queue := NewMeshQueue()
	p := newMeshPool(opts, store, queue, ready, world.NewTreeDecorator(reg, 1), world.NewSkyLighter(reg), mesher, NewMetrics(nil))
	t.Cleanup(func() {
		queue.Close()
		select {
		case <-p.stopping:
		default:
			close(p.stopping)
		}
	})
	return p, queue
}

func TestMeshPoolBackpressure(t *testing.T) {
	store := world.NewStore(world.Bounds{MinY: -4, MaxY: 4})
	ready := NewReadyQueue(1)
	ready.Push(MeshResult{Coord: world.ChunkCoord{X: 9}})
	p, queue := newTestMeshPool(t, store, ready, nil)

	reg := block.NewDefaultRegistry()
	coord := world.ChunkCoord{}
	require.NoError(t, store.Insert(readyChunk(reg, coord, world.TierMeshOnly)))

	outcome := p.process(MeshTask{Coord: coord})
	assert.Equal(t, meshRequeued, outcome)
	assert.Equal(t, 1, queue.Len(), "задание возвращено в очередь")
	assert.Equal(t, 1, ready.Len())
	assert.False(t, store.IsLeased(coord))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.Backpressure))
}

func TestMeshPoolBackpressureDoesNotHoldLease(t *testing.T) {
	store := world.NewStore(world.Bounds{MinY: -4, MaxY: 4})
	ready := NewReadyQueue(1)
	ready.Push(MeshResult{Coord: world.ChunkCoord{X: 9}})
	p, _ := newTestMeshPool(t, store, ready, nil)
	p.opts.BackpressureSleep = time.Minute

	reg := block.NewDefaultRegistry()
	coord := world.ChunkCoord{}
	require.NoError(t, store.Insert(readyChunk(reg, coord, world.TierMeshOnly)))

	done := make(chan meshOutcome, 1)
	go func() { done <- p.process(MeshTask{Coord: coord}) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(p.metrics.Backpressure) == 1
	}, time.Second, time.Millisecond)

	// Воркер спит, но чанк свободен для выгрузки
	assert.False(t, store.IsLeased(coord))
	_, err := store.Remove(coord)
	require.NoError(t, err)

	close(p.stopping)
	assert.Equal(t, meshRequeued, <-done)
}

func TestMeshPoolCullsEnclosedChunks(t *testing.T) {
	store := world.NewStore(world.Bounds{MinY: -4, MaxY: 4})
	ready := NewReadyQueue(8)
	p, _ := newTestMeshPool(t, store, ready, nil)
	reg := block.NewDefaultRegistry()

	solid := func(coord world.ChunkCoord) *world.Chunk {
		c := world.NewChunk(coord, world.TierMeshOnly)
		b := c.BlocksForWrite()
		for i := range b {
			b[i] = block.StoneBlockID
		}
		c.MarkTerrainReady(reg)
		return c
	}

	center := world.ChunkCoord{Y: -2}
	require.NoError(t, store.Insert(solid(center)))
	for _, off := range world.Offsets {
		require.NoError(t, store.Insert(solid(center.Add(off.X, off.Y, off.Z))))
	}

	assert.Equal(t, meshCulled, p.process(MeshTask{Coord: center}))
	assert.Equal(t, 0, ready.Len())
}

func TestMeshPoolSkipsUnloadedAndTerrainOnly(t *testing.T) {
	store := world.NewStore(world.Bounds{MinY: -4, MaxY: 4})
	ready := NewReadyQueue(8)
	p, _ := newTestMeshPool(t, store, ready, nil)
	reg := block.NewDefaultRegistry()

	assert.Equal(t, meshSkipped, p.process(MeshTask{Coord: world.ChunkCoord{X: 3}}))

	coord := world.ChunkCoord{X: 4}
	require.NoError(t, store.Insert(readyChunk(reg, coord, world.TierTerrainOnly)))
	assert.Equal(t, meshSkipped, p.process(MeshTask{Coord: coord}))
	assert.Equal(t, 0, ready.Len())
}

func TestMeshPoolRecoversFromPanic(t *testing.T) {
	store := world.NewStore(world.Bounds{MinY: -4, MaxY: 4})
	ready := NewReadyQueue(8)
	p, _ := newTestMeshPool(t, store, ready, panicMesher{})
	reg := block.NewDefaultRegistry()

	coord := world.ChunkCoord{}
	require.NoError(t, store.Insert(readyChunk(reg, coord, world.TierMeshOnly)))

	assert.Equal(t, meshFailed, p.process(MeshTask{Coord: coord}))
	assert.False(t, store.IsLeased(coord), "аренда возвращается и после паники")
	c, _ := store.Get(coord)
	assert.False(t, c.MeshGenerated())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.MeshFailures))
}

type panicMesher struct{}

func (panicMesher) Build(*world.Chunk, world.Neighborhood) (*mesh.Geometry, error) {
	panic("mesher exploded")
}
