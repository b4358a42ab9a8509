package world

import "github.com/annel0/chunk-streamer/internal/world/block"

// Direction одна из шести граней чанка
type Direction int

const (
	East  Direction = iota // +X
	West                   // -X
	Up                     // +Y
	Down                   // -Y
	South                  // +Z
	North                  // -Z
)

// Offsets смещения соседей по направлениям
var Offsets = [6]ChunkCoord{
	East:  {X: 1},
	West:  {X: -1},
	Up:    {Y: 1},
	Down:  {Y: -1},
	South: {Z: 1},
	North: {Z: -1},
}

// HorizontalDirections четыре горизонтальных соседа, нужные для декораций
var HorizontalDirections = [4]Direction{East, West, South, North}

// Neighborhood чанк и его соседи, выданные Store.AcquireNeighborhood.
// Соседи закреплены в Store до ReleaseNeighborhood и не уходят в пул,
// пока воркер их читает. Отсутствующий сосед: nil.
type Neighborhood struct {
	Center *Chunk
	Sides  [6]*Chunk
}

// Side возвращает соседа в направлении d (может быть nil)
func (n Neighborhood) Side(d Direction) *Chunk {
	return n.Sides[d]
}

// HorizontalReady сообщает, что все четыре горизонтальных соседа имеют готовый рельеф
func (n Neighborhood) HorizontalReady() bool {
	for _, d := range HorizontalDirections {
		s := n.Sides[d]
		if s == nil || !s.TerrainReady() {
			return false
		}
	}
	return true
}

// Enclosed сообщает, что все шесть соседей загружены и полностью непрозрачны
func (n Neighborhood) Enclosed() bool {
	for _, s := range n.Sides {
		if s == nil || !s.IsFullyOpaque() {
			return false
		}
	}
	return true
}

// BlockAt возвращает блок по координатам относительно центрального чанка.
// Координаты могут выходить за чанк на один слой; отсутствующий сосед читается как воздух.
func (n Neighborhood) BlockAt(x, y, z int) block.BlockID {
	c := n.Center
	switch {
	case x < 0:
		c, x = n.Sides[West], x+ChunkSize
	case x >= ChunkSize:
		c, x = n.Sides[East], x-ChunkSize
	case y < 0:
		c, y = n.Sides[Down], y+ChunkSize
	case y >= ChunkSize:
		c, y = n.Sides[Up], y-ChunkSize
	case z < 0:
		c, z = n.Sides[North], z+ChunkSize
	case z >= ChunkSize:
		c, z = n.Sides[South], z-ChunkSize
	}
	if c == nil {
		return block.AirBlockID
	}
	return c.Block(x, y, z)
}
