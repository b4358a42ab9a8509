package streaming

import (
	"context"

	"github.com/annel0/chunk-streamer/internal/mesh"
	"github.com/annel0/chunk-streamer/internal/world"
)

// TerrainSampler чистая функция координаты: безопасна для вызова из многих горутин
type TerrainSampler interface {
	Generate(coord world.ChunkCoord, dst *world.BlockArray) error
}

// PersistentStore постоянное хранилище. Вызывается только из воркеров генерации и сохранения.
type PersistentStore interface {
	TryLoad(ctx context.Context, coord world.ChunkCoord, dst *world.BlockArray) (bool, error)
	Save(ctx context.Context, coord world.ChunkCoord, blocks *world.BlockArray) error
}

// Decorator добавляет декорации в чанк уровня Full
type Decorator interface {
	Decorate(c *world.Chunk, n world.Neighborhood) error
}

// Lighter рассчитывает освещение; идемпотентен
type Lighter interface {
	EnsureLighting(c *world.Chunk, n world.Neighborhood) error
}

// MeshBuilder строит геометрию чанка
type MeshBuilder interface {
	Build(c *world.Chunk, n world.Neighborhood) (*mesh.Geometry, error)
}

// Uploader интерфейс загрузки в видеопамять. Только главный поток.
type Uploader interface {
	BeginBatch() error
	AddToBatch(g *mesh.Geometry) error
	SubmitBatch() error
	PendingUploadCount() int
	RecommendedUploadCount() int
}

// batchSaver опционально реализуется хранилищем: несколько чанков одной транзакцией
type batchSaver interface {
	BatchSave(ctx context.Context, chunks map[world.ChunkCoord]*world.BlockArray) error
}

// gpuReleaser опционально реализуется загрузчиком для освобождения памяти выгруженных чанков
type gpuReleaser interface {
	Unload(coord world.ChunkCoord)
}

// UnloadListener получает одну пачку координат за проход выгрузки
type UnloadListener interface {
	NotifyUnloadBatch(coords []world.ChunkCoord)
}

// AbandonListener узнаёт о чанках, генерация которых окончательно прекращена
type AbandonListener interface {
	NotifyAbandoned(coord world.ChunkCoord, tier world.DetailTier, failures int, err error)
}
