package streaming

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/annel0/chunk-streamer/internal/mesh"
	"github.com/annel0/chunk-streamer/internal/world"
)

// MeshTask задание для воркера меша: только координата, не владение чанком
type MeshTask struct {
	Coord    world.ChunkCoord
	Priority int
	// Waits сколько раз задание откладывалось в ожидании соседей
	Waits int
	seq   uint64
}

type meshHeap []MeshTask

func (h meshHeap) Len() int { return len(h) }
func (h meshHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h meshHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *meshHeap) Push(x interface{}) { *h = append(*h, x.(MeshTask)) }
func (h *meshHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MeshQueue блокирующая очередь заданий меша без дубликатов
type MeshQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  meshHeap
	queued map[world.ChunkCoord]struct{}
	seq    uint64
	closed bool
}

// NewMeshQueue создаёт очередь
func NewMeshQueue() *MeshQueue {
	q := &MeshQueue{queued: make(map[world.ChunkCoord]struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push добавляет задание, если координата ещё не стоит в очереди
func (q *MeshQueue) Push(t MeshTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, ok := q.queued[t.Coord]; ok {
		return false
	}
	q.queued[t.Coord] = struct{}{}
	q.seq++
	t.seq = q.seq
	heap.Push(&q.tasks, t)
	q.cond.Signal()
	return true
}

// Pop блокируется до появления задания; false: очередь закрыта
func (q *MeshQueue) Pop() (MeshTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return MeshTask{}, false
	}
	t := heap.Pop(&q.tasks).(MeshTask)
	delete(q.queued, t.Coord)
	return t, true
}

// Len количество заданий
func (q *MeshQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close будит всех ожидающих воркеров
func (q *MeshQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.tasks = nil
	q.queued = make(map[world.ChunkCoord]struct{})
	q.mu.Unlock()
	q.cond.Broadcast()
}

// MeshResult готовая к загрузке геометрия
type MeshResult struct {
	Coord    world.ChunkCoord
	Geometry *mesh.Geometry
	Priority int
}

// ReadyQueue очередь готовых мешей. Одна запись на координату:
// более свежая геометрия заменяет устаревшую.
// Ёмкость мягкая: воркеры проверяют заполненность до построения меша.
type ReadyQueue struct {
	mu       sync.Mutex
	items    map[world.ChunkCoord]MeshResult
	capacity int
}

// NewReadyQueue создаёт очередь указанной ёмкости
func NewReadyQueue(capacity int) *ReadyQueue {
	return &ReadyQueue{items: make(map[world.ChunkCoord]MeshResult), capacity: capacity}
}

// Push добавляет или заменяет результат
func (q *ReadyQueue) Push(r MeshResult) {
	q.mu.Lock()
	q.items[r.Coord] = r
	q.mu.Unlock()
}

// TakeBest извлекает до n лучших результатов: ближние раньше,
// при равенстве: выше расположенные (поверхность видна первой).
func (q *ReadyQueue) TakeBest(n int) []MeshResult {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}

	all := make([]MeshResult, 0, len(q.items))
	for _, r := range q.items {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Coord.Y != b.Coord.Y {
			return a.Coord.Y > b.Coord.Y
		}
		if a.Coord.X != b.Coord.X {
			return a.Coord.X < b.Coord.X
		}
		return a.Coord.Z < b.Coord.Z
	})
	if n > len(all) {
		n = len(all)
	}
	taken := all[:n]
	for _, r := range taken {
		delete(q.items, r.Coord)
	}
	return taken
}

// Restore возвращает результаты после неудачной загрузки.
// Если за это время появилась более свежая геометрия, она остаётся.
func (q *ReadyQueue) Restore(results []MeshResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range results {
		if _, newer := q.items[r.Coord]; !newer {
			q.items[r.Coord] = r
		}
	}
}

// Remove убирает результат выгруженного чанка
func (q *ReadyQueue) Remove(coord world.ChunkCoord) {
	q.mu.Lock()
	delete(q.items, coord)
	q.mu.Unlock()
}

// Len количество результатов
func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap ёмкость очереди
func (q *ReadyQueue) Cap() int {
	return q.capacity
}
