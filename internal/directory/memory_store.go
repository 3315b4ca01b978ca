package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory namespace store for demo/development.
type MemoryStore struct {
	mu            sync.RWMutex
	roles         map[string]*Role
	departments   map[string]*Department
	users         map[string]*User
	emails        map[string]string // lower(email) → user ID
	notifications []*Notification
}

// NewMemoryStore creates an empty namespace store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]*Role),
		departments: make(map[string]*Department),
		users:       make(map[string]*User),
		emails:      make(map[string]string),
	}
}

// ---------- Roles ----------

func (m *MemoryStore) EnsureRole(_ context.Context, r *Role) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == r.Name {
			return false, nil
		}
	}
	cp := *r
	m.roles[r.ID] = &cp
	return true, nil
}

func (m *MemoryStore) ListRoles(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetRole(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetRoleByName(_ context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRoleNotFound
}

// ---------- Departments ----------

func (m *MemoryStore) EnsureDepartment(_ context.Context, d *Department) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.departments {
		if existing.Name == d.Name {
			return false, nil
		}
	}
	cp := *d
	m.departments[d.ID] = &cp
	return true, nil
}

func (m *MemoryStore) ListDepartments(_ context.Context) ([]*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Department, 0, len(m.departments))
	for _, d := range m.departments {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetDepartment(_ context.Context, id string) (*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[id]
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	cp := *d
	return &cp, nil
}

// ---------- Users ----------

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, exists := m.emails[key]; exists {
		return ErrEmailTaken
	}
	cp := *u
	m.users[u.ID] = &cp
	m.emails[key] = u.ID
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountUsers(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) SetPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.PasswordHash != "" {
		return ErrAlreadyActivated
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now()
	return nil
}

// ---------- Notifications ----------

func (m *MemoryStore) CreateNotification(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications = append(m.notifications, &cp)
	return nil
}

// ListNotifications returns the user's and broadcast notifications, newest first.
func (m *MemoryStore) ListNotifications(_ context.Context, userID string) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.visibleTo(userID) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id {
			n.IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (m *MemoryStore) MarkAllRead(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if !n.IsRead && n.visibleTo(userID) {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if !n.IsRead && n.visibleTo(userID) {
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemoryStore)(nil)
