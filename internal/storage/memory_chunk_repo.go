package storage

import (
	"context"
	"sync"

	"github.com/annel0/chunk-streamer/internal/world"
)

// MemoryChunkRepo реализует ChunkRepo в памяти.
// Используется в тестах и при backend: memory.
// ВНИМАНИЕ: Данные теряются при перезапуске!
type MemoryChunkRepo struct {
	mu     sync.RWMutex
	data   map[world.ChunkCoord][]byte
	codec  *Codec
	closed bool
}

// NewMemoryChunkRepo создаёт хранилище в памяти
func NewMemoryChunkRepo() (*MemoryChunkRepo, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &MemoryChunkRepo{
		data:  make(map[world.ChunkCoord][]byte),
		codec: codec,
	}, nil
}

// TryLoad загружает чанк
func (r *MemoryChunkRepo) TryLoad(ctx context.Context, coord world.ChunkCoord, dst *world.BlockArray) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	data, ok := r.data[coord]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return false, ErrStorageClosed
	}
	if !ok {
		return false, nil
	}
	if err := r.codec.Decode(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Save сохраняет чанк
func (r *MemoryChunkRepo) Save(ctx context.Context, coord world.ChunkCoord, blocks *world.BlockArray) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStorageClosed
	}
	r.data[coord] = r.codec.Encode(blocks)
	return nil
}

// BatchSave сохраняет несколько чанков
func (r *MemoryChunkRepo) BatchSave(ctx context.Context, chunks map[world.ChunkCoord]*world.BlockArray) error {
	for coord, blocks := range chunks {
		if err := r.Save(ctx, coord, blocks); err != nil {
			return err
		}
	}
	return nil
}

// Delete удаляет чанк
func (r *MemoryChunkRepo) Delete(ctx context.Context, coord world.ChunkCoord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStorageClosed
	}
	delete(r.data, coord)
	return nil
}

// Len возвращает количество сохранённых чанков
func (r *MemoryChunkRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Close закрывает хранилище
func (r *MemoryChunkRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.codec.Close()
	return nil
}
