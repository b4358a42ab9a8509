package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

func testBlocks(seed int) *world.BlockArray {
	var b world.BlockArray
	for i := range b {
		switch (i + seed) % 7 {
		case 0:
			b[i] = block.StoneBlockID
		case 1:
			b[i] = block.WaterBlockID
		case 2:
			b[i] = block.LeavesBlockID
		}
	}
	return &b
}

func TestCodec(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	src := testBlocks(3)
	data := codec.Encode(src)
	assert.Less(t, len(data), world.ChunkVolume*2, "Данные должны сжиматься")

	var dst world.BlockArray
	require.NoError(t, codec.Decode(data, &dst))
	assert.Equal(t, *src, dst)

	assert.ErrorIs(t, codec.Decode(nil, &dst), ErrCorruptChunk)
	assert.ErrorIs(t, codec.Decode([]byte{99, 1, 2}, &dst), ErrCorruptChunk)
	assert.ErrorIs(t, codec.Decode(append([]byte{codecVersion}, 1, 2, 3), &dst), ErrCorruptChunk)
}

// exerciseRepo общий сценарий для всех backend'ов
func exerciseRepo(t *testing.T, repo ChunkRepo) {
	ctx := context.Background()
	coord := world.ChunkCoord{X: 10, Y: -2, Z: 20}

	var dst world.BlockArray
	found, err := repo.TryLoad(ctx, coord, &dst)
	require.NoError(t, err)
	assert.False(t, found, "Несохранённый чанк не должен находиться")

	require.NoError(t, repo.Save(ctx, coord, testBlocks(1)))
	found, err = repo.TryLoad(ctx, coord, &dst)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, *testBlocks(1), dst)

	batch := map[world.ChunkCoord]*world.BlockArray{
		{X: 1}: testBlocks(2),
		{X: 2}: testBlocks(4),
	}
	require.NoError(t, repo.BatchSave(ctx, batch))
	for c, want := range batch {
		found, err = repo.TryLoad(ctx, c, &dst)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, *want, dst)
	}

	require.NoError(t, repo.Delete(ctx, coord))
	found, err = repo.TryLoad(ctx, coord, &dst)
	require.NoError(t, err)
	assert.False(t, found, "Удалённый чанк не должен находиться")

	require.NoError(t, repo.Close())
	_, err = repo.TryLoad(ctx, coord, &dst)
	assert.ErrorIs(t, err, ErrStorageClosed)
	assert.ErrorIs(t, repo.Save(ctx, coord, &dst), ErrStorageClosed)
	assert.NoError(t, repo.Close(), "Повторное закрытие допустимо")
}

func TestMemoryChunkRepo(t *testing.T) {
	repo, err := NewMemoryChunkRepo()
	require.NoError(t, err)
	exerciseRepo(t, repo)
}

func TestBadgerChunkRepo(t *testing.T) {
	repo, err := NewBadgerChunkRepo(t.TempDir())
	require.NoError(t, err)
	exerciseRepo(t, repo)
}

func TestBadgerChunkRepoPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	coord := world.ChunkCoord{X: -3, Y: 1, Z: 7}

	repo, err := NewBadgerChunkRepo(dir)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, coord, testBlocks(5)))
	require.NoError(t, repo.Close())

	repo, err = NewBadgerChunkRepo(dir)
	require.NoError(t, err)
	defer repo.Close()

	var dst world.BlockArray
	found, err := repo.TryLoad(ctx, coord, &dst)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, *testBlocks(5), dst)
}

// Требует запущенный Redis: REDIS_ADDR=localhost:6379 go test ./internal/storage
func TestRedisChunkRepo(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан")
	}

	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = "streamer-test:"
	repo, err := NewRedisChunkRepo(context.Background(), cfg)
	require.NoError(t, err)
	exerciseRepo(t, repo)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "floppy"})
	assert.Error(t, err)

	repo, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryChunkRepo{}, repo)
	repo.Close()
}
