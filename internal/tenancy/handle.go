package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // registers the postgres driver
)

// ErrHandleClosed is returned by Ping on a closed handle.
var ErrHandleClosed = errors.New("tenancy: handle closed")

// Handle is a live data-access handle scoped to exactly one tenant namespace.
type Handle interface {
	Namespace() string
	Ping(ctx context.Context) error
	Close() error
}

// Connector opens a new Handle for a namespace.
type Connector interface {
	Connect(ctx context.Context, namespace string) (Handle, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, namespace string) (Handle, error)

func (f ConnectorFunc) Connect(ctx context.Context, namespace string) (Handle, error) {
	return f(ctx, namespace)
}

// ---------- PostgreSQL ----------

// SQLHandle is a *sql.DB whose sessions all run with search_path set to the
// tenant schema, so unqualified table names resolve inside the namespace.
type SQLHandle struct {
	namespace string
	db        *sql.DB
}

// NewSQLHandle wraps an already scoped database.
func NewSQLHandle(namespace string, db *sql.DB) *SQLHandle {
	return &SQLHandle{namespace: namespace, db: db}
}

func (h *SQLHandle) Namespace() string { return h.namespace }

// DB returns the scoped database.
func (h *SQLHandle) DB() *sql.DB { return h.db }

func (h *SQLHandle) Ping(ctx context.Context) error { return h.db.PingContext(ctx) }

func (h *SQLHandle) Close() error { return h.db.Close() }

// PostgresConnector opens search_path-scoped lib/pq pools.
type PostgresConnector struct {
	BaseDSN         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect opens and verifies a scoped pool for namespace.
func (c *PostgresConnector) Connect(ctx context.Context, namespace string) (Handle, error) {
	db, err := OpenScoped(c.BaseDSN, namespace)
	if err != nil {
		return nil, err
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tenancy: connect %s: %w", namespace, err)
	}
	return NewSQLHandle(namespace, db), nil
}

// OpenScoped opens a pool whose connections use namespace as search_path.
func OpenScoped(baseDSN, namespace string) (*sql.DB, error) {
	dsn, err := ScopedDSN(baseDSN, namespace)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("tenancy: open %s: %w", namespace, err)
	}
	return db, nil
}

// ScopedDSN adds a search_path runtime parameter to a lib/pq connection
// string. Both URL and key=value forms are accepted.
func ScopedDSN(baseDSN, namespace string) (string, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return "", err
	}
	searchPath := QuoteIdent(namespace)

	if strings.HasPrefix(baseDSN, "postgres://") || strings.HasPrefix(baseDSN, "postgresql://") {
		u, err := url.Parse(baseDSN)
		if err != nil {
			return "", fmt.Errorf("tenancy: parse dsn: %w", err)
		}
		q := u.Query()
		q.Set("search_path", searchPath)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	dsn := strings.TrimSpace(baseDSN)
	if dsn != "" {
		dsn += " "
	}
	return dsn + "search_path='" + searchPath + "'", nil
}

// ---------- In-memory ----------

// MemoryHandle is a connection-less handle for development and tests.
type MemoryHandle struct {
	namespace string
	closed    atomic.Bool
}

// NewMemoryHandle creates a live in-memory handle.
func NewMemoryHandle(namespace string) *MemoryHandle {
	return &MemoryHandle{namespace: namespace}
}

func (h *MemoryHandle) Namespace() string { return h.namespace }

func (h *MemoryHandle) Ping(ctx context.Context) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	return ctx.Err()
}

func (h *MemoryHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// MemoryConnector hands out MemoryHandles.
type MemoryConnector struct{}

func (MemoryConnector) Connect(_ context.Context, namespace string) (Handle, error) {
	return NewMemoryHandle(namespace), nil
}
