package streaming

import (
	"sync"

	"github.com/annel0/chunk-streamer/internal/world"
)

// saveQueue очередь снимков изменённых чанков на сохранение.
// Снимок остаётся видимым через lookup, пока не записан: повторная загрузка
// чанка до окончания сохранения не прочитает устаревшие данные из хранилища.
type saveQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[world.ChunkCoord]*world.BlockArray
	order   []world.ChunkCoord
	ordered map[world.ChunkCoord]struct{}
	// attempts число неудачных записей текущего снимка
	attempts map[world.ChunkCoord]int
	closed   bool
}

func newSaveQueue() *saveQueue {
	q := &saveQueue{
		pending: make(map[world.ChunkCoord]*world.BlockArray),
		ordered:  make(map[world.ChunkCoord]struct{}),
		attempts: make(map[world.ChunkCoord]int),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push ставит снимок в очередь; более новый снимок заменяет старый
func (q *saveQueue) push(coord world.ChunkCoord, blocks *world.BlockArray) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending[coord] = blocks
	if _, ok := q.ordered[coord]; !ok {
		q.ordered[coord] = struct{}{}
		q.order = append(q.order, coord)
	}
	q.cond.Signal()
	return true
}

// nextBatch блокируется до появления снимков и забирает не больше max из них.
// После закрытия отдаёт остаток и возвращает false, когда очередь пуста.
func (q *saveQueue) nextBatch(max int) (map[world.ChunkCoord]*world.BlockArray, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.order) == 0 {
		return nil, false
	}
	n := min(max, len(q.order))
	batch := make(map[world.ChunkCoord]*world.BlockArray, n)
	for _, coord := range q.order[:n] {
		batch[coord] = q.pending[coord]
		delete(q.ordered, coord)
	}
	clear(q.order[:n])
	q.order = q.order[n:]
	return batch, true
}

// done убирает снимок, если его не заменили новым за время записи
func (q *saveQueue) done(coord world.ChunkCoord, blocks *world.BlockArray) {
	q.mu.Lock()
	if q.pending[coord] == blocks {
		delete(q.pending, coord)
		delete(q.attempts, coord)
	}
	q.mu.Unlock()
}

// retry возвращает снимок в очередь после неудачной записи. Работает и после
// close, чтобы финальный сброс тоже повторял запись. Возвращает false, когда
// попытки исчерпаны и снимок снят с очереди.
func (q *saveQueue) retry(coord world.ChunkCoord, blocks *world.BlockArray, limit int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[coord] != blocks {
		// Более новый снимок уже стоит в очереди
		delete(q.attempts, coord)
		return true
	}
	q.attempts[coord]++
	if q.attempts[coord] >= limit {
		delete(q.pending, coord)
		delete(q.attempts, coord)
		return false
	}
	if _, ok := q.ordered[coord]; !ok {
		q.ordered[coord] = struct{}{}
		q.order = append(q.order, coord)
	}
	q.cond.Signal()
	return true
}

// lookup копирует ещё не записанный снимок
func (q *saveQueue) lookup(coord world.ChunkCoord, dst *world.BlockArray) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.pending[coord]
	if ok {
		*dst = *b
	}
	return ok
}

func (q *saveQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *saveQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
