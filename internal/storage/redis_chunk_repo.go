package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/world"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни записей (0: без истечения)
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "streamer:",
	}
}

// RedisChunkRepo хранит чанки в Redis: общий мир для нескольких процессов
type RedisChunkRepo struct {
	client    *redis.Client
	codec     *Codec
	keyPrefix string
	ttl       time.Duration
	closed    atomic.Bool
	logger    *logging.Logger
}

// NewRedisChunkRepo подключается к Redis и проверяет соединение
func NewRedisChunkRepo(ctx context.Context, config *RedisConfig) (*RedisChunkRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	codec, err := NewCodec()
	if err != nil {
		client.Close()
		return nil, err
	}

	logger := logging.GetStorageLogger()
	logger.Info("🔴 Connected to Redis at %s", config.Addr)

	return &RedisChunkRepo{
		client:    client,
		codec:     codec,
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
		logger:    logger,
	}, nil
}

// TryLoad загружает чанк
func (r *RedisChunkRepo) TryLoad(ctx context.Context, coord world.ChunkCoord, dst *world.BlockArray) (bool, error) {
	if r.closed.Load() {
		return false, ErrStorageClosed
	}

	data, err := r.client.Get(ctx, chunkKey(r.keyPrefix, coord)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка чтения чанка %s из Redis: %w", coord, err)
	}

	if err := r.codec.Decode(data, dst); err != nil {
		return false, fmt.Errorf("чанк %s: %w", coord, err)
	}
	return true, nil
}

// Save сохраняет чанк
func (r *RedisChunkRepo) Save(ctx context.Context, coord world.ChunkCoord, blocks *world.BlockArray) error {
	if r.closed.Load() {
		return ErrStorageClosed
	}

	if err := r.client.Set(ctx, chunkKey(r.keyPrefix, coord), r.codec.Encode(blocks), r.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка сохранения чанка %s в Redis: %w", coord, err)
	}
	return nil
}

// BatchSave сохраняет несколько чанков одним pipeline
func (r *RedisChunkRepo) BatchSave(ctx context.Context, chunks map[world.ChunkCoord]*world.BlockArray) error {
	if r.closed.Load() {
		return ErrStorageClosed
	}
	if len(chunks) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for coord, blocks := range chunks {
		pipe.Set(ctx, chunkKey(r.keyPrefix, coord), r.codec.Encode(blocks), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка пакетного сохранения в Redis: %w", err)
	}
	return nil
}

// Delete удаляет чанк
func (r *RedisChunkRepo) Delete(ctx context.Context, coord world.ChunkCoord) error {
	if r.closed.Load() {
		return ErrStorageClosed
	}
	return r.client.Del(ctx, chunkKey(r.keyPrefix, coord)).Err()
}

// Close закрывает соединение
func (r *RedisChunkRepo) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.codec.Close()
	return r.client.Close()
}
