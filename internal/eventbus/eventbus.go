package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed возвращается при публикации в закрытую шину
var ErrBusClosed = errors.New("event bus is closed")

// Envelope описывает универсальный контейнер события.
// Все поля фиксированы для версиирования и трассировки.
type Envelope struct {
	ID            string            // Глобально уникальный идентификатор (UUID).
	Timestamp     time.Time         // Время создания события (UTC).
	Source        string            // Имя сервиса-источника.
	EventType     string            // Тип события (ChunkUnloadBatch, ChunkGenerationAbandoned…).
	Version       int               // Схема полезной нагрузки.
	CorrelationID string            // Для связывания цепочек.
	Tenant        string            // Для мульти-тенанности (пока пусто).
	Priority      int               // 0=Low … 9=Critical (для backpressure).
	Payload       []byte            // Сериализованная полезная нагрузка (JSON).
	Metadata      map[string]string // Произвольные метаданные.
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто: все типы.
	Sources []string // Если пусто: все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
// Реализации: in-memory (тесты, одиночный процесс) и NATS JetStream.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
	buffer      chan *Envelope
	capacity    int

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64

	closed    atomic.Bool
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory Bus с указанным буфером.
// События доставляются подписчикам в порядке публикации одной горутиной.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 1
	}
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		capacity:    capacity,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}

	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	// Буфер заполнен: дропаём низкий приоритет (<5)
	if ev.Priority < 5 {
		mb.dropped.Add(1)
		return nil
	}

	// Для High-priority блокируем до освобождения места или отмены контекста
	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.quit:
		return ErrBusClosed
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	if mb.closed.Load() {
		return nil, ErrBusClosed
	}

	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.buffer),
	}
}

// Close прекращает приём событий и ждёт доставки уже принятых
func (mb *memoryBus) Close() error {
	mb.closeOnce.Do(func() {
		mb.closed.Store(true)
		close(mb.quit)
	})
	<-mb.done
	return nil
}

// dispatchLoop рассылает события подписчикам.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)
	for {
		select {
		case ev := <-mb.buffer:
			mb.deliver(ev)
		case <-mb.quit:
			for {
				select {
				case ev := <-mb.buffer:
					mb.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (mb *memoryBus) deliver(ev *Envelope) {
	mb.mu.RLock()
	subs := make([]subscriber, 0, len(mb.subscribers))
	for _, sub := range mb.subscribers {
		subs = append(subs, sub)
	}
	mb.mu.RUnlock()

	for _, sub := range subs {
		if !matchFilter(ev, sub.filter) || sub.ctx.Err() != nil {
			continue
		}
		sub.handler(sub.ctx, ev)
		mb.consumed.Add(1)
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
