package plans

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory plan store for demo/development.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*Plan // by ID
	codes map[string]string
}

// NewMemoryStore creates a new in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans: make(map[string]*Plan),
		codes: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.codes[p.PlanCode]; exists {
		return ErrPlanExists
	}
	cp := *p
	m.plans[p.ID] = &cp
	m.codes[p.PlanCode] = p.ID
	return nil
}

func (m *MemoryStore) Update(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		return ErrPlanNotFound
	}
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByCode(_ context.Context, code string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[code]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *m.plans[id]
	return &cp, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Plan
	for _, p := range m.plans {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
