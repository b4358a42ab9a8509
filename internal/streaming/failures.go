package streaming

import (
	"sync"
	"time"

	"github.com/annel0/chunk-streamer/internal/world"
)

// FailedChunk запись о неудачных попытках генерации
type FailedChunk struct {
	Coord       world.ChunkCoord
	Tier        world.DetailTier
	Failures    int
	LastAttempt time.Time
	NextRetry   time.Time
	LastError   error
	Abandoned   bool

	pending bool // уже выдан через Due и ждёт результата
}

// FailureTracker учитывает неудачи с экспоненциальной задержкой повторов.
// После MaxAttempts неудач координата больше не повторяется.
type FailureTracker struct {
	mu          sync.Mutex
	records     map[world.ChunkCoord]*FailedChunk
	base        time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewFailureTracker создаёт трекер. now может быть nil (time.Now).
func NewFailureTracker(base time.Duration, maxAttempts int, now func() time.Time) *FailureTracker {
	if now == nil {
		now = time.Now
	}
	return &FailureTracker{
		records:     make(map[world.ChunkCoord]*FailedChunk),
		base:        base,
		maxAttempts: maxAttempts,
		now:         now,
	}
}

// Record регистрирует неудачу: следующий повтор не раньше base·2^failures
func (t *FailureTracker) Record(coord world.ChunkCoord, tier world.DetailTier, err error) FailedChunk {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[coord]
	if !ok {
		rec = &FailedChunk{Coord: coord}
		t.records[coord] = rec
	}
	rec.Tier = tier
	rec.Failures++
	rec.LastAttempt = now
	rec.LastError = err
	rec.pending = false
	rec.NextRetry = now.Add(t.base << uint(rec.Failures))
	if rec.Failures >= t.maxAttempts {
		rec.Abandoned = true
	}
	return *rec
}

// Due возвращает записи, окно ожидания которых истекло, и помечает их выданными.
// Выданная запись не возвращается повторно до следующего Record.
func (t *FailureTracker) Due(now time.Time) []FailedChunk {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []FailedChunk
	for _, rec := range t.records {
		if rec.Abandoned || rec.pending || now.Before(rec.NextRetry) {
			continue
		}
		rec.pending = true
		due = append(due, *rec)
	}
	return due
}

// Release снимает отметку выдачи: повтор не состоялся и должен быть предложен снова
func (t *FailureTracker) Release(coord world.ChunkCoord) {
	t.mu.Lock()
	if rec, ok := t.records[coord]; ok {
		rec.pending = false
	}
	t.mu.Unlock()
}

// Succeeded забывает координату после успешной интеграции
func (t *FailureTracker) Succeeded(coord world.ChunkCoord) {
	t.mu.Lock()
	delete(t.records, coord)
	t.mu.Unlock()
}

// IsAbandoned сообщает, что координата больше не генерируется
func (t *FailureTracker) IsAbandoned(coord world.ChunkCoord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[coord]
	return ok && rec.Abandoned
}

// Get возвращает копию записи
func (t *FailureTracker) Get(coord world.ChunkCoord) (FailedChunk, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[coord]
	if !ok {
		return FailedChunk{}, false
	}
	return *rec, true
}

// Len количество записей (включая брошенные)
func (t *FailureTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// AbandonedCount количество брошенных координат
func (t *FailureTracker) AbandonedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rec := range t.records {
		if rec.Abandoned {
			n++
		}
	}
	return n
}
