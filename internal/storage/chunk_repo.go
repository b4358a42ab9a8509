package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/chunk-streamer/internal/world"
)

// ErrStorageClosed возвращается при обращении к закрытому хранилищу
var ErrStorageClosed = errors.New("storage is closed")

// ChunkRepo постоянное хранилище блоков чанков.
// Вызывается только из воркеров генерации и сохранения, никогда из главного потока.
type ChunkRepo interface {
	// TryLoad загружает блоки чанка в dst.
	// Возвращает false без ошибки, если чанк ещё не сохранялся.
	TryLoad(ctx context.Context, coord world.ChunkCoord, dst *world.BlockArray) (bool, error)

	// Save сохраняет блоки чанка целиком.
	Save(ctx context.Context, coord world.ChunkCoord, blocks *world.BlockArray) error

	// BatchSave сохраняет несколько чанков одной транзакцией (для автосохранения).
	BatchSave(ctx context.Context, chunks map[world.ChunkCoord]*world.BlockArray) error

	// Delete удаляет сохранённый чанк (для тестов или сброса мира).
	Delete(ctx context.Context, coord world.ChunkCoord) error

	// Close закрывает хранилище.
	Close() error
}

// chunkKey ключ чанка в key-value хранилищах
func chunkKey(prefix string, coord world.ChunkCoord) string {
	return fmt.Sprintf("%schunk:%d:%d:%d", prefix, coord.X, coord.Y, coord.Z)
}
