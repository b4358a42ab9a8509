package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/mesh"
	"github.com/annel0/chunk-streamer/internal/world"
)

func TestMeshQueueDeduplicates(t *testing.T) {
	q := NewMeshQueue()
	coord := world.ChunkCoord{Y: 1}

	assert.True(t, q.Push(MeshTask{Coord: coord, Priority: 5}))
	assert.False(t, q.Push(MeshTask{Coord: coord, Priority: 1}))
	assert.True(t, q.Push(MeshTask{Coord: world.ChunkCoord{Y: 2}, Priority: 2}))
	assert.Equal(t, 2, q.Len())

	task, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, task.Priority)

	// После выдачи координату снова можно поставить
	task, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, coord, task.Coord)
	assert.True(t, q.Push(MeshTask{Coord: coord}))
}

func TestMeshQueueCloseUnblocksPop(t *testing.T) {
	q := NewMeshQueue()
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop не проснулся после Close")
	}
	assert.False(t, q.Push(MeshTask{}))
}

func TestReadyQueuePrefersNearAndSurface(t *testing.T) {
	q := NewReadyQueue(8)
	geom := &mesh.Geometry{}
	q.Push(MeshResult{Coord: world.ChunkCoord{Y: -1}, Priority: 1, Geometry: geom})
	q.Push(MeshResult{Coord: world.ChunkCoord{Y: 1}, Priority: 1, Geometry: geom})
	q.Push(MeshResult{Coord: world.ChunkCoord{X: 3}, Priority: 9, Geometry: geom})
	q.Push(MeshResult{Coord: world.ChunkCoord{}, Priority: 0, Geometry: geom})

	best := q.TakeBest(3)
	require.Len(t, best, 3)
	assert.Equal(t, world.ChunkCoord{}, best[0].Coord)
	assert.Equal(t, world.ChunkCoord{Y: 1}, best[1].Coord)
	assert.Equal(t, world.ChunkCoord{Y: -1}, best[2].Coord)
	assert.Equal(t, 1, q.Len())
}

func TestReadyQueueRestoreKeepsNewerGeometry(t *testing.T) {
	q := NewReadyQueue(4)
	coord := world.ChunkCoord{X: 1}
	old := &mesh.Geometry{Coord: coord, Faces: 1}
	fresh := &mesh.Geometry{Coord: coord, Faces: 2}

	q.Push(MeshResult{Coord: coord, Geometry: old})
	taken := q.TakeBest(1)
	require.Len(t, taken, 1)

	q.Push(MeshResult{Coord: coord, Geometry: fresh})
	q.Restore(taken)

	got := q.TakeBest(1)
	require.Len(t, got, 1)
	assert.Same(t, fresh, got[0].Geometry)
}

func TestSaveQueueRetryKeepsSnapshot(t *testing.T) {
	q := newSaveQueue()
	coord := world.ChunkCoord{X: 3}
	snap := &world.BlockArray{}
	require.True(t, q.push(coord, snap))

	batch, ok := q.nextBatch(saveBatchSize)
	require.True(t, ok)
	require.Same(t, snap, batch[coord])

	// Неудачная запись: снимок снова в очереди и виден через lookup
	assert.True(t, q.retry(coord, snap, 3))
	var dst world.BlockArray
	assert.True(t, q.lookup(coord, &dst))
	batch, ok = q.nextBatch(saveBatchSize)
	require.True(t, ok)
	assert.Same(t, snap, batch[coord])

	// Исчерпав попытки, снимок снимается
	assert.True(t, q.retry(coord, snap, 3))
	_, _ = q.nextBatch(saveBatchSize)
	assert.False(t, q.retry(coord, snap, 3))
	assert.Equal(t, 0, q.len())
}

func TestSaveQueueRetryAfterNewerSnapshot(t *testing.T) {
	q := newSaveQueue()
	coord := world.ChunkCoord{Z: -1}
	old, newer := &world.BlockArray{}, &world.BlockArray{}
	q.push(coord, old)
	_, _ = q.nextBatch(saveBatchSize)
	q.push(coord, newer)

	assert.True(t, q.retry(coord, old, 1))
	batch, ok := q.nextBatch(saveBatchSize)
	require.True(t, ok)
	assert.Len(t, batch, 1)
	assert.Same(t, newer, batch[coord])

	// Очередь закрыта, но повтор всё равно дописывается
	q.close()
	assert.True(t, q.retry(coord, newer, 5))
	batch, ok = q.nextBatch(saveBatchSize)
	require.True(t, ok)
	assert.Same(t, newer, batch[coord])
	q.done(coord, newer)
	_, ok = q.nextBatch(saveBatchSize)
	assert.False(t, ok)
}
