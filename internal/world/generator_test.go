package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/world/block"
)

func TestTerrainGeneratorDeterministic(t *testing.T) {
	g1 := NewTerrainGenerator(12345)
	g2 := NewTerrainGenerator(12345)
	coord := ChunkCoord{3, 1, -2}

	var a, b BlockArray
	require.NoError(t, g1.Generate(coord, &a))
	require.NoError(t, g2.Generate(coord, &b))
	assert.Equal(t, a, b, "Генерация должна быть чистой функцией координаты и сида")
}

func TestTerrainGeneratorLayers(t *testing.T) {
	g := NewTerrainGenerator(7)

	var deep, sky BlockArray
	require.NoError(t, g.Generate(ChunkCoord{0, -3, 0}, &deep))
	require.NoError(t, g.Generate(ChunkCoord{0, 10, 0}, &sky))

	for i := range deep {
		assert.NotEqual(t, block.AirBlockID, deep[i], "Глубоко под землёй не должно быть воздуха")
	}
	for i := range sky {
		assert.Equal(t, block.AirBlockID, sky[i], "Высоко в небе только воздух")
	}
}

func TestSkyLighter(t *testing.T) {
	reg := block.NewDefaultRegistry()
	c := NewChunk(ChunkCoord{}, TierFull)
	c.BlocksForWrite()[Index(4, 8, 4)] = block.StoneBlockID
	c.MarkTerrainReady(reg)

	l := NewSkyLighter(reg)
	require.NoError(t, l.EnsureLighting(c, Neighborhood{Center: c}))

	assert.True(t, c.HasLightingData())
	assert.Equal(t, uint8(MaxLight), c.Light(4, 9, 4))
	assert.Equal(t, uint8(0), c.Light(4, 8, 4))
	assert.Equal(t, uint8(0), c.Light(4, 2, 4), "Под камнем темно")
	assert.Equal(t, uint8(MaxLight), c.Light(5, 2, 4))
}

func TestTreeDecoratorOnlyTouchesOwnChunk(t *testing.T) {
	reg := block.NewDefaultRegistry()
	grass := func(c *Chunk) {
		b := c.BlocksForWrite()
		for z := 0; z < ChunkSize; z++ {
			for x := 0; x < ChunkSize; x++ {
				for y := 0; y < 4; y++ {
					b[Index(x, y, z)] = block.DirtBlockID
				}
				b[Index(x, 4, z)] = block.GrassBlockID
			}
		}
		c.MarkTerrainReady(reg)
	}

	center := NewChunk(ChunkCoord{}, TierFull)
	grass(center)
	n := Neighborhood{Center: center}
	var before [6]BlockArray
	for _, d := range HorizontalDirections {
		side := NewChunk(Offsets[d], TierTerrainOnly)
		grass(side)
		n.Sides[d] = side
		side.Snapshot(&before[d])
	}

	dec := NewTreeDecorator(reg, 99)
	dec.TreeChance = 1000
	require.NoError(t, dec.Decorate(center, n))

	assert.True(t, center.Decorated())
	assert.Equal(t, block.WoodBlockID, center.Block(5, 5, 5), "При шансе 100% дерево растёт в каждой подходящей колонке")
	for _, d := range HorizontalDirections {
		var after BlockArray
		n.Sides[d].Snapshot(&after)
		assert.Equal(t, before[d], after, "Декоратор не должен менять соседей")
	}
}
