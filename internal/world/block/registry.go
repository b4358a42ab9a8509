package block

import (
	"fmt"
	"sync"
)

// BlockID представляет идентификатор блока
type BlockID uint16

// Константы ID блоков
const (
	// Базовые типы блоков
	AirBlockID   BlockID = iota // 0
	StoneBlockID                // 1
	GrassBlockID                // 2
	WaterBlockID                // 3
	SandBlockID                 // 4
	DirtBlockID                 // 5
	BedrockBlockID              // 6

	// Декоративные блоки (начиная с 100)
	FlowerBlockID BlockID = 100 // Цветок
	WoodBlockID   BlockID = 101 // Ствол дерева
	LeavesBlockID BlockID = 102 // Листва
	CactusBlockID BlockID = 103 // Кактус
)

// Properties описывает свойства блока, нужные конвейеру стриминга
type Properties struct {
	ID     BlockID
	Name   string
	Opaque bool // перекрывает свет и соседние грани
	Solid  bool // имеет геометрию
}

// Registry хранит свойства блоков. Создаётся явно и передаётся в компоненты,
// которым он нужен; глобального реестра нет.
type Registry struct {
	mu     sync.RWMutex
	props  map[BlockID]Properties
	opaque [1 << 16]bool
	solid  [1 << 16]bool
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{props: make(map[BlockID]Properties)}
}

// Register добавляет блок в реестр
func (r *Registry) Register(p Properties) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.props[p.ID]; ok {
		return fmt.Errorf("блок %d уже зарегистрирован как %q", p.ID, existing.Name)
	}
	r.props[p.ID] = p
	r.opaque[p.ID] = p.Opaque
	r.solid[p.ID] = p.Solid
	return nil
}

// Get возвращает свойства блока по ID
func (r *Registry) Get(id BlockID) (Properties, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.props[id]
	return p, ok
}

// IsValidBlockID проверяет, является ли ID допустимым идентификатором блока
func (r *Registry) IsValidBlockID(id BlockID) bool {
	_, ok := r.Get(id)
	return ok
}

// IsOpaque вызывается в горячих циклах мешинга и освещения, поэтому читает
// плоскую таблицу без блокировки. Регистрация допустима только до старта конвейера.
func (r *Registry) IsOpaque(id BlockID) bool {
	return r.opaque[id]
}

// IsSolid сообщает, имеет ли блок видимую геометрию
func (r *Registry) IsSolid(id BlockID) bool {
	return r.solid[id]
}

// Len возвращает количество зарегистрированных блоков
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.props)
}
