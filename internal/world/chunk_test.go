package world

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/annel0/chunk-streamer/internal/vec"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

func TestChunkCoordFromPosition(t *testing.T) {
	assert.Equal(t, ChunkCoord{0, 0, 0}, ChunkCoordFromPosition(vec.Vec3Float{X: 0.5, Y: 15.9, Z: 3}))
	assert.Equal(t, ChunkCoord{-1, 0, -1}, ChunkCoordFromPosition(vec.Vec3Float{X: -0.1, Y: 0, Z: -16}))
	assert.Equal(t, ChunkCoord{-2, 1, 2}, ChunkCoordFromPosition(vec.Vec3Float{X: -16.5, Y: 16, Z: 32}))
}

func TestChunkCoordDistances(t *testing.T) {
	a := ChunkCoord{1, 2, 3}
	b := ChunkCoord{-1, 2, 6}

	assert.Equal(t, 13, a.DistanceSq(b))
	assert.Equal(t, 3, a.Chebyshev(b))
}

func TestChunkSetBlockInvalidatesDerivedData(t *testing.T) {
	reg := block.NewDefaultRegistry()
	c := NewChunk(ChunkCoord{}, TierFull)
	c.MarkTerrainReady(reg)

	var light [ChunkVolume]uint8
	c.SetLighting(&light)
	c.MarkMeshed()
	c.MarkUploaded()
	assert.Equal(t, StateUploaded, c.State())

	c.SetBlock(1, 2, 3, block.StoneBlockID, reg)

	assert.Equal(t, block.StoneBlockID, c.Block(1, 2, 3))
	assert.True(t, c.Dirty(), "Изменённый чанк должен быть помечен для сохранения")
	assert.False(t, c.HasLightingData())
	assert.False(t, c.MeshGenerated())
	assert.Equal(t, StateTerrainReady, c.State())
}

func TestChunkUnloadingState(t *testing.T) {
	reg := block.NewDefaultRegistry()
	pool := NewPool(1)
	c := pool.Get(ChunkCoord{X: 4}, TierFull)
	c.MarkTerrainReady(reg)
	c.MarkMeshed()
	c.MarkUploaded()

	c.SetUnloading(true)
	assert.Equal(t, StateUnloading, c.State())
	assert.Equal(t, "unloading", c.State().String())

	// Выгрузка отменена: чанк снова резидентный
	c.SetUnloading(false)
	assert.Equal(t, StateUploaded, c.State())

	// Чанк из пула начинает жизненный цикл заново
	c.SetUnloading(true)
	pool.Put(c)
	reused := pool.Get(ChunkCoord{Y: 1}, TierFull)
	assert.Same(t, c, reused)
	assert.Equal(t, StateRequested, reused.State())
}

func TestChunkOpacityTracking(t *testing.T) {
	reg := block.NewDefaultRegistry()
	c := NewChunk(ChunkCoord{}, TierFull)
	b := c.BlocksForWrite()
	for i := range b {
		b[i] = block.StoneBlockID
	}
	c.MarkTerrainReady(reg)
	assert.True(t, c.IsFullyOpaque())

	c.SetBlock(0, 0, 0, block.WaterBlockID, reg)
	assert.False(t, c.IsFullyOpaque())
	assert.False(t, c.IsEmpty())
}

func TestMarkDecoratedInvalidatesLighting(t *testing.T) {
	c := NewChunk(ChunkCoord{}, TierFull)
	var light [ChunkVolume]uint8
	c.SetLighting(&light)

	c.MarkDecorated()

	assert.True(t, c.Decorated())
	assert.False(t, c.HasLightingData(), "Декорация должна сбрасывать освещение")
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{MinY: -2, MaxY: 4, HorizontalLimit: 100}

	assert.True(t, b.Contains(ChunkCoord{0, 0, 0}))
	assert.False(t, b.Contains(ChunkCoord{0, 5, 0}))
	assert.False(t, b.Contains(ChunkCoord{0, -3, 0}))
	assert.False(t, b.Contains(ChunkCoord{101, 0, 0}))
}
