package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/world"
)

// BadgerChunkRepo хранит чанки в BadgerDB
type BadgerChunkRepo struct {
	db      *badger.DB
	dbPath  string
	codec   *Codec
	mutex   sync.RWMutex
	isReady bool
	logger  *logging.Logger
}

// NewBadgerChunkRepo открывает (или создаёт) базу в dataPath/chunks
func NewBadgerChunkRepo(dataPath string) (*BadgerChunkRepo, error) {
	dbPath := filepath.Join(dataPath, "chunks")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	codec, err := NewCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	logger := logging.GetStorageLogger()
	logger.Info("💾 BadgerDB открыта: %s", dbPath)

	return &BadgerChunkRepo{
		db:      db,
		dbPath:  dbPath,
		codec:   codec,
		isReady: true,
		logger:  logger,
	}, nil
}

// Close закрывает хранилище данных
func (r *BadgerChunkRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}

	r.isReady = false
	r.codec.Close()
	return r.db.Close()
}

// TryLoad загружает чанк из BadgerDB
func (r *BadgerChunkRepo) TryLoad(ctx context.Context, coord world.ChunkCoord, dst *world.BlockArray) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return false, ErrStorageClosed
	}

	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(chunkKey("", coord)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка чтения чанка %s из BadgerDB: %w", coord, err)
	}

	if err := r.codec.Decode(data, dst); err != nil {
		return false, fmt.Errorf("чанк %s: %w", coord, err)
	}
	return true, nil
}

// Save сохраняет чанк в BadgerDB
func (r *BadgerChunkRepo) Save(ctx context.Context, coord world.ChunkCoord, blocks *world.BlockArray) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return ErrStorageClosed
	}

	data := r.codec.Encode(blocks)
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(chunkKey("", coord)), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения чанка %s в BadgerDB: %w", coord, err)
	}
	return nil
}

// BatchSave сохраняет несколько чанков через WriteBatch
func (r *BadgerChunkRepo) BatchSave(ctx context.Context, chunks map[world.ChunkCoord]*world.BlockArray) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return ErrStorageClosed
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()

	for coord, blocks := range chunks {
		if err := wb.Set([]byte(chunkKey("", coord)), r.codec.Encode(blocks)); err != nil {
			return fmt.Errorf("ошибка пакетной записи чанка %s: %w", coord, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сброса пакета в BadgerDB: %w", err)
	}

	r.logger.Debug("💾 Пакетно сохранено чанков: %d", len(chunks))
	return nil
}

// Delete удаляет чанк
func (r *BadgerChunkRepo) Delete(ctx context.Context, coord world.ChunkCoord) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return ErrStorageClosed
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(chunkKey("", coord)))
	})
}
