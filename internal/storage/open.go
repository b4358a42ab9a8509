package storage

import (
	"context"
	"fmt"
)

// Поддерживаемые backend'ы
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Options выбор и параметры backend'а
type Options struct {
	Backend string
	Path    string // каталог данных BadgerDB
	Redis   *RedisConfig
}

// Open создаёт хранилище чанков указанного типа
func Open(ctx context.Context, opts Options) (ChunkRepo, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryChunkRepo()
	case BackendBadger:
		return NewBadgerChunkRepo(opts.Path)
	case BackendRedis:
		return NewRedisChunkRepo(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("неизвестный backend хранилища: %q", opts.Backend)
	}
}
