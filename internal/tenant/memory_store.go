package tenant

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/bakehouse/internal/pagination"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[string]*Tenant // by ID
	slugs     map[string]string  // slug → ID
	companies map[string]string  // company name → ID
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*Tenant),
		slugs:     make(map[string]string),
		companies: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}
	if _, exists := m.companies[t.CompanyName]; exists {
		return ErrSlugTaken
	}

	cp := *t
	m.tenants[t.ID] = &cp
	m.slugs[t.Slug] = t.ID
	m.companies[t.CompanyName] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *m.tenants[id]
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStore) ListPage(ctx context.Context, limit int, after *pagination.Cursor) ([]*Tenant, error) {
	all, _ := m.List(ctx)

	out := make([]*Tenant, 0, limit)
	for _, t := range all {
		if !after.After(t.CreatedAt, t.ID) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	delete(m.slugs, t.Slug)
	delete(m.companies, t.CompanyName)
	delete(m.tenants, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
