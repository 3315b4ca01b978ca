package subscription

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory subscription store for demo/development.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // by ID
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subs {
		if existing.TenantID == s.TenantID || existing.Reference == s.Reference {
			return ErrDuplicate
		}
	}
	m.subs[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	for id, existing := range m.subs {
		if id != s.ID && existing.Reference == s.Reference {
			return ErrDuplicate
		}
	}
	m.subs[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) GetByTenant(_ context.Context, tenantID string) (*Subscription, error) {
	return m.find(func(s *Subscription) bool { return s.TenantID == tenantID })
}

func (m *MemoryStore) GetByReference(_ context.Context, reference string) (*Subscription, error) {
	return m.find(func(s *Subscription) bool { return s.Reference == reference })
}

func (m *MemoryStore) GetBySubscriptionCode(_ context.Context, code string) (*Subscription, error) {
	return m.find(func(s *Subscription) bool { return s.SubscriptionCode == code })
}

func (m *MemoryStore) GetByCustomerEmail(_ context.Context, email string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Subscription
	for _, s := range m.subs {
		if strings.EqualFold(s.CustomerEmail, email) && (latest == nil || s.CreatedAt.After(latest.CreatedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	return clone(latest), nil
}

func (m *MemoryStore) find(match func(*Subscription) bool) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs {
		if match(s) {
			return clone(s), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func clone(s *Subscription) *Subscription {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = append([]byte(nil), s.Metadata...)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
