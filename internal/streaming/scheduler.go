package streaming

import (
	"container/heap"
	"sync"

	"github.com/annel0/chunk-streamer/internal/world"
)

// LoadRequest запрос на загрузку чанка.
// Priority: квадрат расстояния до наблюдателя: меньше: раньше.
type LoadRequest struct {
	Coord    world.ChunkCoord
	Priority int
	Tier     world.DetailTier
	seq      uint64
}

type requestHeap []LoadRequest

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x interface{}) { *h = append(*h, x.(LoadRequest)) }
func (h *requestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler очередь запросов на загрузку с приоритетом и множеством "в работе".
// Координата остаётся в множестве от Enqueue до Complete: повторный запрос
// отклоняется всё время жизни запроса, а не только пока он в очереди.
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    requestHeap
	inFlight map[world.ChunkCoord]struct{}
	seq      uint64
	closed   bool
}

// NewScheduler создаёт пустой планировщик
func NewScheduler() *Scheduler {
	s := &Scheduler{inFlight: make(map[world.ChunkCoord]struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue добавляет запрос, если координата ещё не в работе.
// Проверка и вставка выполняются в одной критической секции.
func (s *Scheduler) Enqueue(coord world.ChunkCoord, priority int, tier world.DetailTier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, busy := s.inFlight[coord]; busy {
		return false
	}
	s.inFlight[coord] = struct{}{}
	s.seq++
	heap.Push(&s.queue, LoadRequest{Coord: coord, Priority: priority, Tier: tier, seq: s.seq})
	s.cond.Signal()
	return true
}

// Dequeue блокируется до появления запроса. Возвращает false только при остановке.
func (s *Scheduler) Dequeue() (LoadRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return LoadRequest{}, false
	}
	return heap.Pop(&s.queue).(LoadRequest), true
}

// Complete снимает координату с учёта: чанк интегрирован, отклонён или генерация не удалась
func (s *Scheduler) Complete(coord world.ChunkCoord) {
	s.mu.Lock()
	delete(s.inFlight, coord)
	s.mu.Unlock()
}

// InFlight сообщает, запрошена ли координата
func (s *Scheduler) InFlight(coord world.ChunkCoord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[coord]
	return ok
}

// Len количество запросов в очереди
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlightCount количество координат в работе (в очереди и у воркеров)
func (s *Scheduler) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Close будит всех ожидающих воркеров; дальнейшие Dequeue возвращают false.
// Запросы, оставшиеся в очереди, снимаются с учёта.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.queue {
		delete(s.inFlight, r.Coord)
	}
	s.queue = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}
