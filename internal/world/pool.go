package world

import (
	"sync"
	"sync/atomic"
)

// Pool переиспользует объекты чанков, чтобы не гонять сборщик мусора
// при постоянной загрузке и выгрузке.
type Pool struct {
	mu      sync.Mutex
	free    []*Chunk
	maxFree int

	allocated atomic.Int64
	reused    atomic.Int64
}

// PoolStats статистика пула
type PoolStats struct {
	Free      int
	Allocated int64
	Reused    int64
}

// NewPool создаёт пул, хранящий не больше maxFree свободных чанков
func NewPool(maxFree int) *Pool {
	if maxFree < 0 {
		maxFree = 0
	}
	return &Pool{maxFree: maxFree, free: make([]*Chunk, 0, min(maxFree, 256))}
}

// Get возвращает чистый чанк для координаты: из пула или новый
func (p *Pool) Get(coord ChunkCoord, tier DetailTier) *Chunk {
	p.mu.Lock()
	n := len(p.free)
	if n > 0 {
		c := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()

		c.reset(coord, tier)
		p.reused.Add(1)
		return c
	}
	p.mu.Unlock()

	p.allocated.Add(1)
	return NewChunk(coord, tier)
}

// Put возвращает чанк в пул. Вызывающий не должен больше обращаться к чанку.
func (p *Pool) Put(c *Chunk) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.maxFree {
		return
	}
	p.free = append(p.free, c)
}

// Stats возвращает статистику пула
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	free := len(p.free)
	p.mu.Unlock()
	return PoolStats{Free: free, Allocated: p.allocated.Load(), Reused: p.reused.Load()}
}
