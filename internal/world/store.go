package world

import (
	"errors"
	"sync"
)

// Ошибки хранилища чанков
var (
	ErrChunkExists   = errors.New("chunk already resident")
	ErrChunkNotFound = errors.New("chunk not resident")
	ErrChunkLeased   = errors.New("chunk is lent to a worker")
	ErrOutOfBounds   = errors.New("chunk coordinate out of bounds")
)

type storeEntry struct {
	chunk  *Chunk
	leased bool
	pins   int // сколько воркеров читают чанк как соседа
}

// busy чанк нельзя выгружать
func (e *storeEntry) busy() bool {
	return e.leased || e.pins > 0
}

// Store владеет всеми резидентными чанками.
// Воркер меша берёт чанк в аренду через Acquire или AcquireNeighborhood;
// во втором случае соседи закрепляются (pin) на время работы. Пока аренда
// или закрепление не сняты, Remove отказывает: выгрузка не может вернуть
// в пул чанк, который читает или пишет воркер.
type Store struct {
	mu     sync.RWMutex
	chunks map[ChunkCoord]*storeEntry
	bounds Bounds
}

// NewStore создаёт пустое хранилище с заданными границами мира
func NewStore(bounds Bounds) *Store {
	return &Store{
		chunks: make(map[ChunkCoord]*storeEntry),
		bounds: bounds,
	}
}

// Bounds возвращает границы мира
func (s *Store) Bounds() Bounds {
	return s.bounds
}

// Insert добавляет сгенерированный чанк. Проверяет границы и дубликаты.
func (s *Store) Insert(c *Chunk) error {
	if !s.bounds.Contains(c.Coord) {
		return ErrOutOfBounds
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chunks[c.Coord]; exists {
		return ErrChunkExists
	}
	s.chunks[c.Coord] = &storeEntry{chunk: c}
	return nil
}

// Get возвращает чанк для чтения
func (s *Store) Get(coord ChunkCoord) (*Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.chunks[coord]
	if !ok {
		return nil, false
	}
	return e.chunk, true
}

// Has проверяет наличие чанка
func (s *Store) Has(coord ChunkCoord) bool {
	s.mu.RLock()
	_, ok := s.chunks[coord]
	s.mu.RUnlock()
	return ok
}

// AcquireNeighborhood выдаёт чанк в аренду и закрепляет резидентных соседей.
// Соседи остаются доступны другим воркерам, но не могут быть выгружены
// до ReleaseNeighborhood.
func (s *Store) AcquireNeighborhood(coord ChunkCoord) (Neighborhood, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.chunks[coord]
	if !ok {
		return Neighborhood{}, ErrChunkNotFound
	}
	if e.leased {
		return Neighborhood{}, ErrChunkLeased
	}
	e.leased = true

	n := Neighborhood{Center: e.chunk}
	for d, off := range Offsets {
		if ne, ok := s.chunks[coord.Add(off.X, off.Y, off.Z)]; ok {
			ne.pins++
			n.Sides[d] = ne.chunk
		}
	}
	return n, nil
}

// ReleaseNeighborhood снимает аренду центра и закрепление соседей
func (s *Store) ReleaseNeighborhood(n Neighborhood) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Center != nil {
		if e, ok := s.chunks[n.Center.Coord]; ok && e.chunk == n.Center {
			e.leased = false
		}
	}
	for _, side := range n.Sides {
		if side == nil {
			continue
		}
		if e, ok := s.chunks[side.Coord]; ok && e.chunk == side && e.pins > 0 {
			e.pins--
		}
	}
}

// IsLeased сообщает, что чанк в аренде или закреплён как сосед
func (s *Store) IsLeased(coord ChunkCoord) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chunks[coord]
	return ok && e.busy()
}

// Remove удаляет чанк. Арендованный или закреплённый чанк не удаляется
// (ErrChunkLeased); проверка выполняется под той же блокировкой, что и удаление.
func (s *Store) Remove(coord ChunkCoord) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.chunks[coord]
	if !ok {
		return nil, ErrChunkNotFound
	}
	if e.busy() {
		return nil, ErrChunkLeased
	}
	delete(s.chunks, coord)
	return e.chunk, nil
}

// ForEach вызывает fn для каждого резидентного чанка под блокировкой чтения.
// fn не должна обращаться к другим компонентам с собственными блокировками.
func (s *Store) ForEach(fn func(coord ChunkCoord, c *Chunk)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for coord, e := range s.chunks {
		fn(coord, e.chunk)
	}
}

// Coords возвращает снимок координат резидентных чанков
func (s *Store) Coords() []ChunkCoord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChunkCoord, 0, len(s.chunks))
	for coord := range s.chunks {
		out = append(out, coord)
	}
	return out
}

// Snapshot возвращает снимок резидентных чанков, снятый под блокировкой Store.
// Дальнейшая работа со снимком идёт без блокировки хранилища.
func (s *Store) Snapshot() []*Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Chunk, 0, len(s.chunks))
	for _, e := range s.chunks {
		out = append(out, e.chunk)
	}
	return out
}

// Len возвращает количество резидентных чанков
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
