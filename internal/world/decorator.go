package world

import (
	"github.com/annel0/chunk-streamer/internal/world/block"
)

// TreeDecorator расставляет деревья и цветы поверх готового рельефа.
// Пишет только в собственный чанк; соседи нужны, чтобы не ставить дерево
// в колонку, поверхность которой продолжается в чанке сверху, и чтобы
// не сажать дерево у обрыва на границе чанка.
type TreeDecorator struct {
	Registry     *block.Registry
	Seed         int64
	TreeChance   int // из 1000 колонок
	FlowerChance int // из 1000 колонок
	TrunkHeight  int
	CanopyRadius int
}

// NewTreeDecorator создаёт декоратор с параметрами по умолчанию
func NewTreeDecorator(reg *block.Registry, seed int64) *TreeDecorator {
	return &TreeDecorator{
		Registry:     reg,
		Seed:         seed,
		TreeChance:   12,
		FlowerChance: 40,
		TrunkHeight:  4,
		CanopyRadius: 2,
	}
}

// Decorate добавляет декорации в чанк.
// План строится по снимку блоков без блокировок; соседи читаются только
// на этом шаге. Запись в собственный чанк идёт отдельно, так что блокировки
// двух чанков одновременно не удерживаются.
func (d *TreeDecorator) Decorate(c *Chunk, n Neighborhood) error {
	origin := c.Coord.Origin()
	up := n.Side(Up)

	var snapshot BlockArray
	c.Snapshot(&snapshot)

	var trees, flowers [][3]int
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			top := surfaceIn(&snapshot, x, z)
			if top < 0 || snapshot[Index(x, top, z)] != block.GrassBlockID {
				continue
			}
			// Поверхность продолжается выше: колонку декорирует верхний чанк
			if top == ChunkSize-1 && up != nil && up.Block(x, 0, z) != block.AirBlockID {
				continue
			}

			roll := columnHash(d.Seed, origin.X+x, origin.Z+z) % 1000
			switch {
			case roll < uint64(d.TreeChance) && d.fitsTree(n, &snapshot, x, top, z):
				trees = append(trees, [3]int{x, top + 1, z})
			case roll < uint64(d.TreeChance+d.FlowerChance) && top+1 < ChunkSize:
				flowers = append(flowers, [3]int{x, top + 1, z})
			}
		}
	}

	if len(trees)+len(flowers) > 0 {
		c.EditBlocks(d.Registry, func(b *BlockArray) bool {
			for _, p := range flowers {
				if i := Index(p[0], p[1], p[2]); b[i] == block.AirBlockID {
					b[i] = block.FlowerBlockID
				}
			}
			for _, p := range trees {
				d.placeTree(b, p[0], p[1], p[2])
			}
			return true
		})
	}

	c.MarkDecorated()
	return nil
}

// fitsTree проверяет, что ствол помещается и земля вокруг не обрывается.
// Колонки внутри чанка берутся из снимка, за границей: из соседей.
func (d *TreeDecorator) fitsTree(n Neighborhood, own *BlockArray, x, top, z int) bool {
	if top < 1 || top+d.TrunkHeight+1 >= ChunkSize {
		return false
	}
	at := func(lx, ly, lz int) block.BlockID {
		if lx >= 0 && lx < ChunkSize && ly >= 0 && ly < ChunkSize && lz >= 0 && lz < ChunkSize {
			return own[Index(lx, ly, lz)]
		}
		return n.BlockAt(lx, ly, lz)
	}
	for _, off := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		if !d.Registry.IsOpaque(at(x+off[0], top, z+off[1])) &&
			!d.Registry.IsOpaque(at(x+off[0], top-1, z+off[1])) {
			return false
		}
	}
	return true
}

func (d *TreeDecorator) placeTree(b *BlockArray, x, base, z int) {
	for i := 0; i < d.TrunkHeight; i++ {
		b[Index(x, base+i, z)] = block.WoodBlockID
	}
	crown := base + d.TrunkHeight - 1
	r := d.CanopyRadius
	for dy := 0; dy <= 1; dy++ {
		y := crown + dy
		if y >= ChunkSize {
			continue
		}
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				lx, lz := x+dx, z+dz
				// Крона обрезается по границе чанка
				if lx < 0 || lx >= ChunkSize || lz < 0 || lz >= ChunkSize {
					continue
				}
				if dx*dx+dz*dz > r*r+1 {
					continue
				}
				i := Index(lx, y, lz)
				if b[i] == block.AirBlockID {
					b[i] = block.LeavesBlockID
				}
			}
		}
	}
}

// surfaceIn возвращает локальную высоту верхнего непустого блока колонки или -1
func surfaceIn(b *BlockArray, x, z int) int {
	for y := ChunkSize - 1; y >= 0; y-- {
		if id := b[Index(x, y, z)]; id != block.AirBlockID && id != block.WaterBlockID {
			return y
		}
	}
	return -1
}

// columnHash детерминированный хеш колонки (splitmix64)
func columnHash(seed int64, x, z int) uint64 {
	h := uint64(seed) ^ uint64(int64(x))*0x9E3779B97F4A7C15 ^ uint64(int64(z))*0xC2B2AE3D27D4EB4F
	h ^= h >> 30
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 27
	h *= 0x94D049BB133111EB
	h ^= h >> 31
	return h
}
