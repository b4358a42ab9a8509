package mesh

import (
	"errors"

	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

// ErrTerrainNotReady меш нельзя строить до готовности рельефа
var ErrTerrainNotReady = errors.New("terrain is not ready")

// faceCorners углы квада для каждой грани, в единицах блока
var faceCorners = [6][4][3]int{
	world.East:  {{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}},
	world.West:  {{0, 0, 1}, {0, 1, 1}, {0, 1, 0}, {0, 0, 0}},
	world.Up:    {{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}},
	world.Down:  {{0, 0, 1}, {0, 0, 0}, {1, 0, 0}, {1, 0, 1}},
	world.South: {{1, 0, 1}, {1, 1, 1}, {0, 1, 1}, {0, 0, 1}},
	world.North: {{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}},
}

// FaceMesher строит геометрию отсечением невидимых граней.
// Чистая функция от блоков чанка и граничных слоёв соседей.
type FaceMesher struct {
	Registry *block.Registry
}

// NewFaceMesher создаёт мешер
func NewFaceMesher(reg *block.Registry) *FaceMesher {
	return &FaceMesher{Registry: reg}
}

// plane граничный слой соседа, прилегающий к чанку
type plane struct {
	present bool
	ids     [world.ChunkArea]block.BlockID
}

// Build строит геометрию чанка
func (m *FaceMesher) Build(c *world.Chunk, n world.Neighborhood) (*Geometry, error) {
	if !c.TerrainReady() {
		return nil, ErrTerrainNotReady
	}

	// Соседей читаем по одному, не удерживая блокировку собственного чанка
	var planes [6]plane
	for d := world.East; d <= world.North; d++ {
		if s := n.Side(d); s != nil {
			planes[d].present = true
			s.ReadBlocks(func(b *world.BlockArray) { copyPlane(b, d, &planes[d].ids) })
		}
	}

	var own world.BlockArray
	c.Snapshot(&own)

	g := &Geometry{Coord: c.Coord}
	for y := 0; y < world.ChunkSize; y++ {
		for z := 0; z < world.ChunkSize; z++ {
			for x := 0; x < world.ChunkSize; x++ {
				id := own[world.Index(x, y, z)]
				if !m.Registry.IsSolid(id) {
					continue
				}
				for d := world.East; d <= world.North; d++ {
					other := neighborID(&own, &planes, x, y, z, d)
					if m.Registry.IsOpaque(other) || other == id {
						continue
					}
					m.emitFace(g, c, x, y, z, d, id)
				}
			}
		}
	}
	return g, nil
}

func (m *FaceMesher) emitFace(g *Geometry, c *world.Chunk, x, y, z int, d world.Direction, id block.BlockID) {
	light := c.Light(x, y, z)
	for _, corner := range faceCorners[d] {
		g.Vertices = append(g.Vertices, PackVertex(x+corner[0], y+corner[1], z+corner[2], d, light, uint16(id)))
	}
	g.Faces++
}

// neighborID возвращает блок соседней клетки в направлении d
func neighborID(own *world.BlockArray, planes *[6]plane, x, y, z int, d world.Direction) block.BlockID {
	off := world.Offsets[d]
	nx, ny, nz := x+off.X, y+off.Y, z+off.Z
	if nx >= 0 && nx < world.ChunkSize && ny >= 0 && ny < world.ChunkSize && nz >= 0 && nz < world.ChunkSize {
		return own[world.Index(nx, ny, nz)]
	}
	p := &planes[d]
	if !p.present {
		return block.AirBlockID
	}
	switch d {
	case world.East, world.West:
		return p.ids[z+y*world.ChunkSize]
	case world.Up, world.Down:
		return p.ids[x+z*world.ChunkSize]
	default:
		return p.ids[x+y*world.ChunkSize]
	}
}

// copyPlane копирует слой соседа, прилегающий к грани d центрального чанка
func copyPlane(b *world.BlockArray, d world.Direction, dst *[world.ChunkArea]block.BlockID) {
	last := world.ChunkSize - 1
	for i := 0; i < world.ChunkSize; i++ {
		for j := 0; j < world.ChunkSize; j++ {
			switch d {
			case world.East: // слой x=0 восточного соседа; i=z, j=y
				dst[i+j*world.ChunkSize] = b[world.Index(0, j, i)]
			case world.West:
				dst[i+j*world.ChunkSize] = b[world.Index(last, j, i)]
			case world.Up: // i=x, j=z
				dst[i+j*world.ChunkSize] = b[world.Index(i, 0, j)]
			case world.Down:
				dst[i+j*world.ChunkSize] = b[world.Index(i, last, j)]
			case world.South: // i=x, j=y
				dst[i+j*world.ChunkSize] = b[world.Index(i, j, 0)]
			case world.North:
				dst[i+j*world.ChunkSize] = b[world.Index(i, j, last)]
			}
		}
	}
}
