package world

import (
	"sync"

	"github.com/annel0/chunk-streamer/internal/world/block"
)

// MaxLight максимальный уровень освещения
const MaxLight = 15

// ChunkState неформальное состояние жизненного цикла чанка
type ChunkState uint8

const (
	StateRequested ChunkState = iota
	StateTerrainReady
	StateDecorated
	StateLit
	StateMeshed
	StateUploaded
	// StateUnloading чанк выбран на выгрузку и ждёт освобождения аренды
	StateUnloading
)

// String возвращает строковое представление состояния
func (s ChunkState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateTerrainReady:
		return "terrain-ready"
	case StateDecorated:
		return "decorated"
	case StateLit:
		return "lit"
	case StateMeshed:
		return "meshed"
	case StateUploaded:
		return "uploaded"
	case StateUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// Chunk представляет участок мира размером 16x16x16 блоков
type Chunk struct {
	Coord ChunkCoord

	tier   DetailTier
	blocks BlockArray
	light  [ChunkVolume]uint8

	terrainReady    bool
	hasLightingData bool
	decorated       bool
	meshGenerated   bool
	uploaded        bool
	dirty           bool // изменён после загрузки, требует сохранения
	unloading       bool

	opaqueCount int
	mu          sync.RWMutex
}

// NewChunk создаёт пустой чанк (воздух) с указанными координатами
func NewChunk(coord ChunkCoord, tier DetailTier) *Chunk {
	return &Chunk{Coord: coord, tier: tier}
}

// reset возвращает чанк в исходное состояние для повторного использования из пула
func (c *Chunk) reset(coord ChunkCoord, tier DetailTier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Coord = coord
	c.tier = tier
	c.blocks = BlockArray{}
	c.light = [ChunkVolume]uint8{}
	c.terrainReady = false
	c.hasLightingData = false
	c.decorated = false
	c.meshGenerated = false
	c.uploaded = false
	c.dirty = false
	c.unloading = false
	c.opaqueCount = 0
}

// BlocksForWrite отдаёт массив блоков для заполнения.
// Допустимо только пока вызывающий монопольно владеет чанком (до интеграции в Store).
func (c *Chunk) BlocksForWrite() *BlockArray {
	return &c.blocks
}

// Tier возвращает текущий уровень детализации
func (c *Chunk) Tier() DetailTier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tier
}

// Promote повышает уровень детализации (Full детальнее MeshOnly, MeshOnly детальнее TerrainOnly).
// Возвращает true, если уровень изменился.
func (c *Chunk) Promote(tier DetailTier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tier >= c.tier {
		return false
	}
	c.tier = tier
	return true
}

// MarkTerrainReady пересчитывает непрозрачные блоки и помечает рельеф готовым
func (c *Chunk) MarkTerrainReady(reg *block.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.opaqueCount = countOpaque(&c.blocks, reg)
	c.terrainReady = true
}

func countOpaque(blocks *BlockArray, reg *block.Registry) int {
	n := 0
	for _, id := range blocks {
		if reg.IsOpaque(id) {
			n++
		}
	}
	return n
}

// Block возвращает ID блока по локальным координатам
func (c *Chunk) Block(x, y, z int) block.BlockID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[Index(x, y, z)]
}

// SetBlock устанавливает блок по локальным координатам. Сбрасывает меш и освещение.
func (c *Chunk) SetBlock(x, y, z int, id block.BlockID, reg *block.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := Index(x, y, z)
	old := c.blocks[i]
	if old == id {
		return
	}
	if reg.IsOpaque(old) {
		c.opaqueCount--
	}
	if reg.IsOpaque(id) {
		c.opaqueCount++
	}
	c.blocks[i] = id
	c.dirty = true
	c.hasLightingData = false
	c.meshGenerated = false
	c.uploaded = false
}

// EditBlocks даёт функции fn изменить блоки под блокировкой записи.
// Возвращает true, если fn сообщила об изменениях.
func (c *Chunk) EditBlocks(reg *block.Registry, fn func(b *BlockArray) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !fn(&c.blocks) {
		return false
	}
	c.opaqueCount = countOpaque(&c.blocks, reg)
	c.hasLightingData = false
	c.meshGenerated = false
	return true
}

// ReadBlocks выполняет fn над блоками под блокировкой чтения
func (c *Chunk) ReadBlocks(fn func(b *BlockArray)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(&c.blocks)
}

// Snapshot копирует блоки в dst
func (c *Chunk) Snapshot(dst *BlockArray) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	*dst = c.blocks
}

// CopyFrom загружает блоки из src. Только для монопольного владельца.
func (c *Chunk) CopyFrom(src *BlockArray) {
	c.blocks = *src
}

// IsFullyOpaque сообщает, что все блоки чанка непрозрачны
func (c *Chunk) IsFullyOpaque() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terrainReady && c.opaqueCount == ChunkVolume
}

// IsEmpty сообщает, что в чанке нет ни одного непрозрачного блока
func (c *Chunk) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opaqueCount == 0
}

// Light возвращает уровень освещения по локальным координатам
func (c *Chunk) Light(x, y, z int) uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.light[Index(x, y, z)]
}

// SetLighting сохраняет рассчитанное освещение
func (c *Chunk) SetLighting(light *[ChunkVolume]uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.light = *light
	c.hasLightingData = true
}

// InvalidateLighting сбрасывает освещение и меш: изменился столбец над чанком
func (c *Chunk) InvalidateLighting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasLightingData = false
	c.meshGenerated = false
	c.uploaded = false
}

// MarkDecorated помечает чанк декорированным; освещение после этого устарело
func (c *Chunk) MarkDecorated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decorated = true
	c.hasLightingData = false
}

// MarkMeshed помечает наличие актуальной геометрии
func (c *Chunk) MarkMeshed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meshGenerated = true
	c.uploaded = false
}

// MarkUploaded помечает загрузку геометрии на GPU
func (c *Chunk) MarkUploaded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploaded = true
}

// SetUnloading отмечает, что чанк ожидает выгрузки; false отменяет выгрузку
func (c *Chunk) SetUnloading(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unloading = on
}

// ClearDirty сбрасывает флаг изменений после сохранения
func (c *Chunk) ClearDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = false
}

// Флаги жизненного цикла

func (c *Chunk) TerrainReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terrainReady
}

func (c *Chunk) HasLightingData() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasLightingData
}

func (c *Chunk) Decorated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decorated
}

func (c *Chunk) MeshGenerated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meshGenerated
}

func (c *Chunk) Uploaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uploaded
}

func (c *Chunk) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// State выводит состояние жизненного цикла из флагов
func (c *Chunk) State() ChunkState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.unloading:
		return StateUnloading
	case c.uploaded:
		return StateUploaded
	case c.meshGenerated:
		return StateMeshed
	case c.hasLightingData:
		return StateLit
	case c.decorated:
		return StateDecorated
	case c.terrainReady:
		return StateTerrainReady
	default:
		return StateRequested
	}
}
