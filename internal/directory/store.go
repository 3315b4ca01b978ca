package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/mbd888/bakehouse/internal/tenancy"
)

// Store persists the entities of a single tenant namespace.
type Store interface {
	// EnsureRole inserts a role unless one with the same name exists.
	EnsureRole(ctx context.Context, r *Role) (bool, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)

	// EnsureDepartment inserts a department unless one with the same name exists.
	EnsureDepartment(ctx context.Context, d *Department) (bool, error)
	ListDepartments(ctx context.Context) ([]*Department, error)
	GetDepartment(ctx context.Context, id string) (*Department, error)

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
	// SetPassword stores hash only if the user has no password yet.
	SetPassword(ctx context.Context, id, hash string) error

	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string) ([]*Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// ErrUnsupportedHandle is returned when a handle has no backing store.
var ErrUnsupportedHandle = errors.New("directory: unsupported tenant handle")

// Stores maps a tenant handle to the Store bound to its namespace.
type Stores interface {
	For(h tenancy.Handle) (Store, error)
}

// PostgresStores builds stores over *tenancy.SQLHandle connections.
type PostgresStores struct{}

func (PostgresStores) For(h tenancy.Handle) (Store, error) {
	sh, ok := h.(*tenancy.SQLHandle)
	if !ok {
		return nil, ErrUnsupportedHandle
	}
	return NewPostgresStore(sh.DB()), nil
}

// MemoryStores keeps one MemoryStore per namespace.
type MemoryStores struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryStores creates an empty registry.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{stores: make(map[string]*MemoryStore)}
}

func (m *MemoryStores) For(h tenancy.Handle) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := h.Namespace()
	s, ok := m.stores[ns]
	if !ok {
		s = NewMemoryStore()
		m.stores[ns] = s
	}
	return s, nil
}

// Forget discards the data of a dropped namespace.
func (m *MemoryStores) Forget(ns string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, ns)
}

// Len returns the number of namespaces holding data.
func (m *MemoryStores) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
