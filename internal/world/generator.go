package world

import (
	"github.com/aquilax/go-perlin"

	"github.com/annel0/chunk-streamer/internal/world/block"
)

// BiomeType представляет тип биома
type BiomeType int

const (
	BiomePlains BiomeType = iota
	BiomeDesert
	BiomeMountains
	BiomeOcean
)

// TerrainGenerator генерирует рельеф как чистую функцию координаты и сида.
// Экземпляры perlin.Perlin после создания только читаются, поэтому
// Generate безопасно вызывать из многих воркеров одновременно.
type TerrainGenerator struct {
	Seed       int64
	SeaLevel   int     // мировая высота уровня моря
	BaseHeight int     // средняя высота поверхности
	Amplitude  float64 // размах высот
	NoiseScale float64 // масштаб шума высот
	BiomeScale float64 // масштаб шума биомов
	MinWorldY  int     // ниже: бедрок

	height *perlin.Perlin
	biome  *perlin.Perlin
}

// NewTerrainGenerator создаёт генератор с параметрами по умолчанию
func NewTerrainGenerator(seed int64) *TerrainGenerator {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав

	return &TerrainGenerator{
		Seed:       seed,
		SeaLevel:   24,
		BaseHeight: 32,
		Amplitude:  24,
		NoiseScale: 0.01,
		BiomeScale: 0.004,
		MinWorldY:  -64,
		height:     perlin.NewPerlin(alpha, beta, n, seed),
		biome:      perlin.NewPerlin(alpha, beta, n, seed+42),
	}
}

// SurfaceHeight возвращает мировую высоту поверхности в колонке
func (g *TerrainGenerator) SurfaceHeight(worldX, worldZ int) int {
	h := g.height.Noise2D(float64(worldX)*g.NoiseScale, float64(worldZ)*g.NoiseScale)
	return g.BaseHeight + int(h*g.Amplitude)
}

// Biome определяет биом колонки по высоте и шуму биомов
func (g *TerrainGenerator) Biome(worldX, worldZ, surface int) BiomeType {
	if surface < g.SeaLevel {
		return BiomeOcean
	}
	if surface > g.BaseHeight+int(g.Amplitude*0.6) {
		return BiomeMountains
	}
	b := g.biome.Noise2D(float64(worldX)*g.BiomeScale, float64(worldZ)*g.BiomeScale)
	if b < -0.25 {
		return BiomeDesert
	}
	return BiomePlains
}

// Generate заполняет dst блоками чанка coord
func (g *TerrainGenerator) Generate(coord ChunkCoord, dst *BlockArray) error {
	origin := coord.Origin()

	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			wx := origin.X + x
			wz := origin.Z + z
			surface := g.SurfaceHeight(wx, wz)
			biome := g.Biome(wx, wz, surface)

			for y := 0; y < ChunkSize; y++ {
				wy := origin.Y + y
				dst[Index(x, y, z)] = g.blockAt(wy, surface, biome)
			}
		}
	}
	return nil
}

// blockAt выбирает блок для мировой высоты wy в колонке с поверхностью surface
func (g *TerrainGenerator) blockAt(wy, surface int, biome BiomeType) block.BlockID {
	switch {
	case wy <= g.MinWorldY:
		return block.BedrockBlockID
	case wy < surface-4:
		return block.StoneBlockID
	case wy < surface:
		if biome == BiomeDesert || biome == BiomeOcean {
			return block.SandBlockID
		}
		return block.DirtBlockID
	case wy == surface:
		switch biome {
		case BiomeDesert, BiomeOcean:
			return block.SandBlockID
		case BiomeMountains:
			return block.StoneBlockID
		default:
			return block.GrassBlockID
		}
	case wy <= g.SeaLevel:
		return block.WaterBlockID
	default:
		return block.AirBlockID
	}
}
