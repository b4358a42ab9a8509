package world

import (
	"github.com/annel0/chunk-streamer/internal/world/block"
)

// SkyLighter рассчитывает небесное освещение по колонкам.
// Идемпотентен: повторный вызов для уже освещённого чанка ничего не делает.
// Не создаёт собственных горутин.
type SkyLighter struct {
	Registry *block.Registry
}

// NewSkyLighter создаёт расчётчик освещения
func NewSkyLighter(reg *block.Registry) *SkyLighter {
	return &SkyLighter{Registry: reg}
}

// EnsureLighting рассчитывает освещение, если его ещё нет
func (l *SkyLighter) EnsureLighting(c *Chunk, n Neighborhood) error {
	if c.HasLightingData() {
		return nil
	}

	var light [ChunkVolume]uint8

	// Соседа читаем до захвата собственного чанка: блокировки двух чанков
	// одновременно не удерживаются.
	var blocked [ChunkArea]bool
	if up := n.Side(Up); up != nil {
		up.ReadBlocks(func(b *BlockArray) {
			for z := 0; z < ChunkSize; z++ {
				for x := 0; x < ChunkSize; x++ {
					for y := 0; y < ChunkSize; y++ {
						if l.Registry.IsOpaque(b[Index(x, y, z)]) {
							blocked[x+z*ChunkSize] = true
							break
						}
					}
				}
			}
		})
	}

	c.ReadBlocks(func(b *BlockArray) {
		for z := 0; z < ChunkSize; z++ {
			for x := 0; x < ChunkSize; x++ {
				level := uint8(MaxLight)
				if blocked[x+z*ChunkSize] {
					level = 0
				}
				for y := ChunkSize - 1; y >= 0; y-- {
					id := b[Index(x, y, z)]
					switch {
					case l.Registry.IsOpaque(id):
						level = 0
					case id != block.AirBlockID && level > 0:
						// Вода и листва ослабляют свет
						if level >= 2 {
							level -= 2
						} else {
							level = 0
						}
					}
					light[Index(x, y, z)] = level
				}
			}
		}
	})

	c.SetLighting(&light)
	return nil
}
