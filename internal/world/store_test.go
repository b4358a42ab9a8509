package world

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/world/block"
)

func testBounds() Bounds {
	return Bounds{MinY: -4, MaxY: 8}
}

func TestStoreInsertRejectsDuplicatesAndOutOfBounds(t *testing.T) {
	s := NewStore(testBounds())

	require.NoError(t, s.Insert(NewChunk(ChunkCoord{1, 0, 1}, TierFull)))
	assert.ErrorIs(t, s.Insert(NewChunk(ChunkCoord{1, 0, 1}, TierFull)), ErrChunkExists)
	assert.ErrorIs(t, s.Insert(NewChunk(ChunkCoord{0, 9, 0}, TierFull)), ErrOutOfBounds)
	assert.Equal(t, 1, s.Len())
}

func TestStoreLeaseBlocksRemoval(t *testing.T) {
	s := NewStore(testBounds())
	coord := ChunkCoord{2, 1, 3}
	require.NoError(t, s.Insert(NewChunk(coord, TierFull)))

	n, err := s.AcquireNeighborhood(coord)
	require.NoError(t, err)
	require.NotNil(t, n.Center)
	assert.True(t, s.IsLeased(coord))

	_, err = s.AcquireNeighborhood(coord)
	assert.ErrorIs(t, err, ErrChunkLeased, "Второй воркер не должен получить чанк")

	_, err = s.Remove(coord)
	assert.ErrorIs(t, err, ErrChunkLeased, "Арендованный чанк нельзя выгрузить")
	assert.True(t, s.Has(coord))

	s.ReleaseNeighborhood(n)
	removed, err := s.Remove(coord)
	require.NoError(t, err)
	assert.Same(t, n.Center, removed)
	assert.False(t, s.Has(coord))

	_, err = s.Remove(coord)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestStoreNeighborhood(t *testing.T) {
	reg := block.NewDefaultRegistry()
	s := NewStore(testBounds())
	center := NewChunk(ChunkCoord{}, TierFull)
	require.NoError(t, s.Insert(center))

	for _, d := range HorizontalDirections {
		off := Offsets[d]
		c := NewChunk(off, TierTerrainOnly)
		c.MarkTerrainReady(reg)
		require.NoError(t, s.Insert(c))
	}

	n, err := s.AcquireNeighborhood(center.Coord)
	require.NoError(t, err)
	defer s.ReleaseNeighborhood(n)
	assert.Same(t, center, n.Center)
	assert.True(t, n.HorizontalReady())
	assert.Nil(t, n.Side(Up))
	assert.False(t, n.Enclosed())
	assert.Equal(t, block.AirBlockID, n.BlockAt(0, ChunkSize, 0), "Отсутствующий сосед читается как воздух")
}

func TestStoreNeighborhoodPinsNeighbours(t *testing.T) {
	s := NewStore(testBounds())
	center := ChunkCoord{}
	east := Offsets[East]
	far := ChunkCoord{X: 5}
	for _, coord := range []ChunkCoord{center, east, far} {
		require.NoError(t, s.Insert(NewChunk(coord, TierFull)))
	}

	n, err := s.AcquireNeighborhood(center)
	require.NoError(t, err)
	require.NotNil(t, n.Side(East))
	assert.Equal(t, east, n.Side(East).Coord)

	// Закреплённый сосед не выгружается, но другой воркер может взять его в аренду
	assert.True(t, s.IsLeased(east))
	_, err = s.Remove(east)
	assert.ErrorIs(t, err, ErrChunkLeased)
	other, err := s.AcquireNeighborhood(east)
	require.NoError(t, err)
	assert.Same(t, n.Center, other.Side(West))

	_, err = s.AcquireNeighborhood(center)
	assert.ErrorIs(t, err, ErrChunkLeased, "центр уже в аренде")

	// Несвязанный чанк выгружается свободно
	_, err = s.Remove(far)
	require.NoError(t, err)

	s.ReleaseNeighborhood(n)
	_, err = s.Remove(east)
	assert.ErrorIs(t, err, ErrChunkLeased, "east всё ещё в аренде у второго воркера")
	_, err = s.Remove(center)
	assert.ErrorIs(t, err, ErrChunkLeased, "center закреплён вторым воркером")

	s.ReleaseNeighborhood(other)
	assert.False(t, s.IsLeased(east))
	assert.False(t, s.IsLeased(center))
	_, err = s.Remove(east)
	require.NoError(t, err)
	_, err = s.Remove(center)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(testBounds())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				coord := ChunkCoord{X: i, Z: j}
				_ = s.Insert(NewChunk(coord, TierFull))
				if n, err := s.AcquireNeighborhood(coord); err == nil {
					_ = n.Center.TerrainReady()
					s.ReleaseNeighborhood(n)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 400, s.Len())
	assert.Len(t, s.Coords(), 400)
}

func TestPoolReusesAndResets(t *testing.T) {
	reg := block.NewDefaultRegistry()
	p := NewPool(2)

	c := p.Get(ChunkCoord{1, 1, 1}, TierFull)
	c.BlocksForWrite()[0] = block.StoneBlockID
	c.MarkTerrainReady(reg)
	p.Put(c)

	reused := p.Get(ChunkCoord{2, 2, 2}, TierMeshOnly)
	assert.Same(t, c, reused)
	assert.Equal(t, ChunkCoord{2, 2, 2}, reused.Coord)
	assert.Equal(t, TierMeshOnly, reused.Tier())
	assert.False(t, reused.TerrainReady())
	assert.Equal(t, block.AirBlockID, reused.Block(0, 0, 0))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Allocated)
	assert.Equal(t, int64(1), stats.Reused)

	// Пул ограничен
	p.Put(NewChunk(ChunkCoord{}, TierFull))
	p.Put(NewChunk(ChunkCoord{}, TierFull))
	p.Put(NewChunk(ChunkCoord{}, TierFull))
	assert.Equal(t, 2, p.Stats().Free)
}
