package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

func readyChunk(reg *block.Registry, coord world.ChunkCoord, fill func(b *world.BlockArray)) *world.Chunk {
	c := world.NewChunk(coord, world.TierFull)
	if fill != nil {
		fill(c.BlocksForWrite())
	}
	c.MarkTerrainReady(reg)
	return c
}

func TestFaceMesher_SingleBlock(t *testing.T) {
	reg := block.NewDefaultRegistry()
	c := readyChunk(reg, world.ChunkCoord{}, func(b *world.BlockArray) {
		b[world.Index(5, 5, 5)] = block.StoneBlockID
	})

	g, err := NewFaceMesher(reg).Build(c, world.Neighborhood{Center: c})
	require.NoError(t, err)
	assert.Equal(t, 6, g.Faces, "Одиночный блок должен иметь 6 граней")
	assert.Len(t, g.Vertices, 24)
}

func TestFaceMesher_AdjacentBlocksShareHiddenFaces(t *testing.T) {
	reg := block.NewDefaultRegistry()
	c := readyChunk(reg, world.ChunkCoord{}, func(b *world.BlockArray) {
		b[world.Index(5, 5, 5)] = block.StoneBlockID
		b[world.Index(6, 5, 5)] = block.DirtBlockID
	})

	g, err := NewFaceMesher(reg).Build(c, world.Neighborhood{Center: c})
	require.NoError(t, err)
	assert.Equal(t, 10, g.Faces)
}

func TestFaceMesher_SolidChunkBorders(t *testing.T) {
	reg := block.NewDefaultRegistry()
	solid := func(b *world.BlockArray) {
		for i := range b {
			b[i] = block.StoneBlockID
		}
	}
	center := readyChunk(reg, world.ChunkCoord{}, solid)

	// Без соседей видна вся оболочка
	g, err := NewFaceMesher(reg).Build(center, world.Neighborhood{Center: center})
	require.NoError(t, err)
	assert.Equal(t, 6*world.ChunkArea, g.Faces)

	// Со всех сторон непрозрачные соседи: граней нет
	n := world.Neighborhood{Center: center}
	for d, off := range world.Offsets {
		n.Sides[d] = readyChunk(reg, off, solid)
	}
	g, err = NewFaceMesher(reg).Build(center, n)
	require.NoError(t, err)
	assert.True(t, g.Empty())
}

func TestFaceMesher_RequiresTerrain(t *testing.T) {
	reg := block.NewDefaultRegistry()
	c := world.NewChunk(world.ChunkCoord{}, world.TierFull)

	_, err := NewFaceMesher(reg).Build(c, world.Neighborhood{Center: c})
	assert.ErrorIs(t, err, ErrTerrainNotReady)
}

func TestPackVertex(t *testing.T) {
	v := PackVertex(16, 3, 9, world.South, 12, uint16(block.LeavesBlockID))
	x, y, z, face, light, id := UnpackVertex(v)

	assert.Equal(t, 16, x)
	assert.Equal(t, 3, y)
	assert.Equal(t, 9, z)
	assert.Equal(t, world.South, face)
	assert.Equal(t, uint8(12), light)
	assert.Equal(t, uint16(block.LeavesBlockID), id)
}
