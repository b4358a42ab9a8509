package mesh

import (
	"github.com/annel0/chunk-streamer/internal/world"
)

// Geometry готовые к загрузке на GPU данные чанка.
// Каждая грань: 4 упакованные вершины.
type Geometry struct {
	Coord    world.ChunkCoord
	Vertices []uint32
	Faces    int
}

// Упаковка вершины: x,y,z по 5 бит (0..16), грань 3 бита, свет 4 бита, блок 10 бит
const (
	posBits    = 5
	faceShift  = posBits * 3
	lightShift = faceShift + 3
	blockShift = lightShift + 4
)

// PackVertex упаковывает вершину в uint32
func PackVertex(x, y, z int, face world.Direction, light uint8, blockID uint16) uint32 {
	return uint32(x) |
		uint32(y)<<posBits |
		uint32(z)<<(posBits*2) |
		uint32(face)<<faceShift |
		uint32(light&0xF)<<lightShift |
		uint32(blockID&0x3FF)<<blockShift
}

// UnpackVertex обратная операция к PackVertex
func UnpackVertex(v uint32) (x, y, z int, face world.Direction, light uint8, blockID uint16) {
	mask := uint32(1<<posBits - 1)
	x = int(v & mask)
	y = int(v >> posBits & mask)
	z = int(v >> (posBits * 2) & mask)
	face = world.Direction(v >> faceShift & 0x7)
	light = uint8(v >> lightShift & 0xF)
	blockID = uint16(v >> blockShift & 0x3FF)
	return
}

// Empty сообщает, что геометрии нет (чанк из воздуха или полностью скрыт)
func (g *Geometry) Empty() bool {
	return g == nil || g.Faces == 0
}

// SizeBytes объём вершинных данных
func (g *Geometry) SizeBytes() int {
	if g == nil {
		return 0
	}
	return len(g.Vertices) * 4
}
