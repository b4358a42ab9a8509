package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/chunk-streamer/internal/logging"
	"github.com/annel0/chunk-streamer/internal/world"
)

// Типы событий чанков
const (
	EventChunkUnloadBatch         = "ChunkUnloadBatch"
	EventChunkGenerationAbandoned = "ChunkGenerationAbandoned"
)

// UnloadBatchPayload полезная нагрузка ChunkUnloadBatch
type UnloadBatchPayload struct {
	Coords []world.ChunkCoord `json:"coords"`
}

// AbandonedPayload полезная нагрузка ChunkGenerationAbandoned
type AbandonedPayload struct {
	Coord    world.ChunkCoord `json:"coord"`
	Tier     string           `json:"tier"`
	Failures int              `json:"failures"`
	Error    string           `json:"error"`
}

// ChunkEventPublisher публикует события чанков в шину.
// Вызовы из главного потока не блокируются: события складываются в буфер,
// который разбирает отдельная горутина. При переполнении событие отбрасывается.
type ChunkEventPublisher struct {
	bus    EventBus
	source string
	queue  chan *Envelope
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	logger  *logging.Logger
}

// NewChunkEventPublisher создаёт издателя и запускает горутину отправки
func NewChunkEventPublisher(bus EventBus, source string, buffer int) *ChunkEventPublisher {
	if buffer <= 0 {
		buffer = 64
	}
	p := &ChunkEventPublisher{
		bus:    bus,
		source: source,
		queue:  make(chan *Envelope, buffer),
		logger: logging.GetEventLogger(),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// NotifyUnloadBatch сообщает о выгрузке пачки чанков одним событием
func (p *ChunkEventPublisher) NotifyUnloadBatch(coords []world.ChunkCoord) {
	if len(coords) == 0 {
		return
	}
	payload := UnloadBatchPayload{Coords: append([]world.ChunkCoord(nil), coords...)}
	p.enqueue(EventChunkUnloadBatch, 3, payload)
}

// NotifyAbandoned сообщает, что генерация чанка окончательно прекращена
func (p *ChunkEventPublisher) NotifyAbandoned(coord world.ChunkCoord, tier world.DetailTier, failures int, err error) {
	payload := AbandonedPayload{Coord: coord, Tier: tier.String(), Failures: failures}
	if err != nil {
		payload.Error = err.Error()
	}
	p.enqueue(EventChunkGenerationAbandoned, 7, payload)
}

// Dropped сколько событий отброшено из-за переполнения буфера
func (p *ChunkEventPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *ChunkEventPublisher) enqueue(eventType string, priority int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("❌ Ошибка сериализации события %s: %v", eventType, err)
		return
	}

	ev := &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    p.source,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   data,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
	}
}

func (p *ChunkEventPublisher) run() {
	defer p.wg.Done()
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.bus.Publish(ctx, ev); err != nil {
			p.logger.Warn("⚠️ Не удалось опубликовать %s: %v", ev.EventType, err)
		}
		cancel()
	}
}

// Close дожидается отправки буферизованных событий
func (p *ChunkEventPublisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

// DecodeUnloadBatch разбирает полезную нагрузку ChunkUnloadBatch
func DecodeUnloadBatch(ev *Envelope) (UnloadBatchPayload, error) {
	var p UnloadBatchPayload
	err := json.Unmarshal(ev.Payload, &p)
	return p, err
}

// DecodeAbandoned разбирает полезную нагрузку ChunkGenerationAbandoned
func DecodeAbandoned(ev *Envelope) (AbandonedPayload, error) {
	var p AbandonedPayload
	err := json.Unmarshal(ev.Payload, &p)
	return p, err
}
