package world

import (
	"fmt"
	"math"

	"github.com/annel0/chunk-streamer/internal/vec"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

// Размеры чанка в блоках
const (
	ChunkSize   = 16
	ChunkArea   = ChunkSize * ChunkSize
	ChunkVolume = ChunkArea * ChunkSize
)

// BlockArray плотный массив блоков чанка. Индекс: x + z*16 + y*256.
type BlockArray [ChunkVolume]block.BlockID

// Index возвращает индекс блока в BlockArray
func Index(x, y, z int) int {
	return x + z*ChunkSize + y*ChunkArea
}

// ChunkCoord идентифицирует слот чанка в сетке мира.
// Не зависит от мировых координат с плавающей точкой.
type ChunkCoord struct {
	X, Y, Z int
}

// String возвращает строковое представление координаты
func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Add смещает координату
func (c ChunkCoord) Add(dx, dy, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// DistanceSq возвращает квадрат расстояния в чанках
func (c ChunkCoord) DistanceSq(other ChunkCoord) int {
	dx := c.X - other.X
	dy := c.Y - other.Y
	dz := c.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Chebyshev возвращает максимальное расстояние по одной оси
func (c ChunkCoord) Chebyshev(other ChunkCoord) int {
	return max(abs(c.X-other.X), abs(c.Y-other.Y), abs(c.Z-other.Z))
}

// Origin возвращает мировую позицию нулевого блока чанка
func (c ChunkCoord) Origin() vec.Vec3 {
	return vec.Vec3{X: c.X * ChunkSize, Y: c.Y * ChunkSize, Z: c.Z * ChunkSize}
}

// ChunkCoordFromPosition переводит мировую позицию наблюдателя в координату чанка
func ChunkCoordFromPosition(p vec.Vec3Float) ChunkCoord {
	return ChunkCoordFromBlock(vec.Vec3{
		X: int(math.Floor(p.X)),
		Y: int(math.Floor(p.Y)),
		Z: int(math.Floor(p.Z)),
	})
}

// ChunkCoordFromBlock возвращает координату чанка, содержащего блок
func ChunkCoordFromBlock(p vec.Vec3) ChunkCoord {
	return ChunkCoord{
		X: vec.FloorDiv(p.X, ChunkSize),
		Y: vec.FloorDiv(p.Y, ChunkSize),
		Z: vec.FloorDiv(p.Z, ChunkSize),
	}
}

// LocalInChunk возвращает локальные координаты блока внутри чанка
func LocalInChunk(p vec.Vec3) (x, y, z int) {
	return vec.Mod(p.X, ChunkSize), vec.Mod(p.Y, ChunkSize), vec.Mod(p.Z, ChunkSize)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DetailTier уровень обработки чанка в зависимости от расстояния
type DetailTier uint8

const (
	// TierFull меш и декорации
	TierFull DetailTier = iota
	// TierMeshOnly меш без декораций: внутри дальности прорисовки, но дальше декораций
	TierMeshOnly
	// TierTerrainOnly только рельеф: нужен для корректных запросов соседей
	TierTerrainOnly
)

// String возвращает строковое представление уровня
func (t DetailTier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierMeshOnly:
		return "mesh-only"
	case TierTerrainOnly:
		return "terrain-only"
	default:
		return "unknown"
	}
}

// NeedsMesh сообщает, строится ли для уровня геометрия
func (t DetailTier) NeedsMesh() bool {
	return t != TierTerrainOnly
}

// Bounds ограничивает допустимые координаты чанков
type Bounds struct {
	MinY, MaxY int
	// HorizontalLimit максимальный |X| и |Z|; 0: без ограничения
	HorizontalLimit int
}

// Contains проверяет, лежит ли координата в границах мира
func (b Bounds) Contains(c ChunkCoord) bool {
	if c.Y < b.MinY || c.Y > b.MaxY {
		return false
	}
	if b.HorizontalLimit > 0 && (abs(c.X) > b.HorizontalLimit || abs(c.Z) > b.HorizontalLimit) {
		return false
	}
	return true
}
