package streaming

import (
	"container/list"
	"sync"

	"github.com/annel0/chunk-streamer/internal/world"
)

type retainedEntry struct {
	coord  world.ChunkCoord
	blocks world.BlockArray
}

// RetainedCache LRU снимков блоков недавно выгруженных чанков.
// Повторная загрузка берёт копию отсюда без генерации; запись остаётся в кеше.
type RetainedCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front: самый свежий
	entries  map[world.ChunkCoord]*list.Element
}

// NewRetainedCache создаёт кеш на capacity чанков (0: кеш отключён)
func NewRetainedCache(capacity int) *RetainedCache {
	return &RetainedCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[world.ChunkCoord]*list.Element),
	}
}

// Put сохраняет копию блоков, вытесняя самый старый снимок при переполнении
func (c *RetainedCache) Put(coord world.ChunkCoord, blocks *world.BlockArray) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[coord]; ok {
		el.Value.(*retainedEntry).blocks = *blocks
		c.order.MoveToFront(el)
		return
	}

	var e *retainedEntry
	if c.order.Len() >= c.capacity {
		// Переиспользуем вытесняемую запись, массив большой
		oldest := c.order.Back()
		e = oldest.Value.(*retainedEntry)
		delete(c.entries, e.coord)
		c.order.Remove(oldest)
	} else {
		e = &retainedEntry{}
	}
	e.coord = coord
	e.blocks = *blocks
	c.entries[coord] = c.order.PushFront(e)
}

// Load копирует снимок в dst. Запись остаётся в кеше.
func (c *RetainedCache) Load(coord world.ChunkCoord, dst *world.BlockArray) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[coord]
	if !ok {
		return false
	}
	*dst = el.Value.(*retainedEntry).blocks
	c.order.MoveToFront(el)
	return true
}

// Remove удаляет снимок
func (c *RetainedCache) Remove(coord world.ChunkCoord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[coord]; ok {
		delete(c.entries, coord)
		c.order.Remove(el)
	}
}

// Len количество снимков
func (c *RetainedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
