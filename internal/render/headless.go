package render

import (
	"errors"
	"sync"
	"time"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/mesh"
	"github.com/annel0/chunk-streamer/internal/world"
)

// Ошибки загрузчика
var (
	ErrBatchNotStarted = errors.New("upload batch not started")
	ErrBatchInProgress = errors.New("upload batch already in progress")
	ErrInjectedFailure = errors.New("injected upload failure")
)

// HeadlessConfig параметры симуляции видеокарты
type HeadlessConfig struct {
	// MaxPerTick сколько загрузок рекомендуется при пустой очереди GPU
	MaxPerTick int
	// BytesPerSlot сколько байт в очереди GPU отнимают одну рекомендованную загрузку
	BytesPerSlot int
	// DrainBytesPerSecond скорость, с которой GPU разбирает очередь
	DrainBytesPerSecond int
}

// DefaultHeadlessConfig параметры по умолчанию
func DefaultHeadlessConfig() HeadlessConfig {
	return HeadlessConfig{
		MaxPerTick:          16,
		BytesPerSlot:        64 * 1024,
		DrainBytesPerSecond: 8 * 1024 * 1024,
	}
}

// HeadlessUploader имитирует загрузку геометрии в видеопамять.
// Очередь GPU моделируется счётчиком байт, который убывает со временем;
// чем больше очередь, тем меньше загрузок рекомендуется за кадр.
// Методы вызываются только из главного потока, мьютекс защищает
// чтение статистики из HTTP-обработчиков.
type HeadlessUploader struct {
	cfg HeadlessConfig
	now func() time.Time

	mu          sync.Mutex
	batch       []*mesh.Geometry
	inBatch     bool
	backlog     int
	lastDrain   time.Time
	resident    map[world.ChunkCoord]*mesh.Geometry
	uploadCount map[world.ChunkCoord]int
	batches     int
	failNext    int
	logger      *logging.Logger
}

// UploaderStats статистика загрузчика
type UploaderStats struct {
	Resident     int   `json:"resident"`
	Batches      int   `json:"batches"`
	Uploads      int   `json:"uploads"`
	BacklogBytes int   `json:"backlog_bytes"`
	Pending      int   `json:"pending"`
	Bytes        int64 `json:"bytes"`
}

// NewHeadlessUploader создаёт загрузчик. now может быть nil (time.Now).
func NewHeadlessUploader(cfg HeadlessConfig, now func() time.Time) *HeadlessUploader {
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = DefaultHeadlessConfig().MaxPerTick
	}
	if cfg.BytesPerSlot <= 0 {
		cfg.BytesPerSlot = DefaultHeadlessConfig().BytesPerSlot
	}
	if now == nil {
		now = time.Now
	}
	return &HeadlessUploader{
		cfg:         cfg,
		now:         now,
		lastDrain:   now(),
		resident:    make(map[world.ChunkCoord]*mesh.Geometry),
		uploadCount: make(map[world.ChunkCoord]int),
		logger:      logging.GetRenderLogger(),
	}
}

// BeginBatch открывает пакет загрузки
func (u *HeadlessUploader) BeginBatch() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.inBatch {
		return ErrBatchInProgress
	}
	u.inBatch = true
	u.batch = u.batch[:0]
	return nil
}

// AddToBatch добавляет геометрию в открытый пакет
func (u *HeadlessUploader) AddToBatch(g *mesh.Geometry) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.inBatch {
		return ErrBatchNotStarted
	}
	u.batch = append(u.batch, g)
	return nil
}

// SubmitBatch отправляет пакет одним вызовом. При ошибке пакет отбрасывается
// целиком, ни одна геометрия не считается загруженной.
func (u *HeadlessUploader) SubmitBatch() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.inBatch {
		return ErrBatchNotStarted
	}
	u.inBatch = false
	batch := u.batch
	u.batch = u.batch[:0]

	if u.failNext > 0 {
		u.failNext--
		u.logger.Warn("⚠️ Загрузка пакета из %d мешей отклонена", len(batch))
		return ErrInjectedFailure
	}

	for _, g := range batch {
		u.resident[g.Coord] = g
		u.uploadCount[g.Coord]++
		u.backlog += g.SizeBytes()
	}
	u.batches++
	u.logger.Trace("📦 Пакет загружен: %d мешей, очередь GPU %d байт", len(batch), u.backlog)
	return nil
}

// PendingUploadCount возвращает число мешей, условно ожидающих в очереди GPU
func (u *HeadlessUploader) PendingUploadCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.drainLocked()
	return (u.backlog + u.cfg.BytesPerSlot - 1) / u.cfg.BytesPerSlot
}

// RecommendedUploadCount адаптивный лимит: меньше при заполненной очереди GPU.
// Всегда не меньше единицы, чтобы конвейер не вставал.
func (u *HeadlessUploader) RecommendedUploadCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.drainLocked()
	n := u.cfg.MaxPerTick - u.backlog/u.cfg.BytesPerSlot
	if n < 1 {
		n = 1
	}
	return n
}

func (u *HeadlessUploader) drainLocked() {
	now := u.now()
	elapsed := now.Sub(u.lastDrain)
	u.lastDrain = now
	if u.cfg.DrainBytesPerSecond <= 0 || elapsed <= 0 {
		return
	}
	drained := int(elapsed.Seconds() * float64(u.cfg.DrainBytesPerSecond))
	u.backlog -= drained
	if u.backlog < 0 {
		u.backlog = 0
	}
}

// Unload освобождает видеопамять выгруженного чанка
func (u *HeadlessUploader) Unload(coord world.ChunkCoord) {
	u.mu.Lock()
	delete(u.resident, coord)
	u.mu.Unlock()
}

// FailNext заставляет следующие n вызовов SubmitBatch завершиться ошибкой
func (u *HeadlessUploader) FailNext(n int) {
	u.mu.Lock()
	u.failNext = n
	u.mu.Unlock()
}

// UploadCount сколько раз геометрия чанка была загружена
func (u *HeadlessUploader) UploadCount(coord world.ChunkCoord) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploadCount[coord]
}

// Uploaded возвращает координаты всех когда-либо загруженных чанков
func (u *HeadlessUploader) Uploaded() []world.ChunkCoord {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]world.ChunkCoord, 0, len(u.uploadCount))
	for c := range u.uploadCount {
		out = append(out, c)
	}
	return out
}

// Stats возвращает снимок статистики
func (u *HeadlessUploader) Stats() UploaderStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := UploaderStats{
		Resident:     len(u.resident),
		Batches:      u.batches,
		BacklogBytes: u.backlog,
		Pending:      (u.backlog + u.cfg.BytesPerSlot - 1) / u.cfg.BytesPerSlot,
	}
	for _, n := range u.uploadCount {
		s.Uploads += n
	}
	for _, g := range u.resident {
		s.Bytes += int64(g.SizeBytes())
	}
	return s
}
