package tenancy

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/mbd888/bakehouse/internal/tenant"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations returns the tenant-schema migration set.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		panic("tenancy: embedded migrations: " + err.Error())
	}
	return sub
}

// Schemas creates, migrates and drops tenant namespaces.
type Schemas interface {
	Create(ctx context.Context, ns string) error
	Migrate(ctx context.Context, ns string) error
	Drop(ctx context.Context, ns string) error
}

// PostgresSchemas manages tenant schemas in the shared database. DDL runs on
// the control-plane pool; migrations run on a short-lived pool scoped to the
// target schema so goose keeps a version table per tenant.
type PostgresSchemas struct {
	db      *sql.DB
	baseDSN string
	logger  *slog.Logger
}

// NewPostgresSchemas creates a schema manager.
func NewPostgresSchemas(db *sql.DB, baseDSN string, logger *slog.Logger) *PostgresSchemas {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSchemas{db: db, baseDSN: baseDSN, logger: logger}
}

func (s *PostgresSchemas) Create(ctx context.Context, ns string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+QuoteIdent(ns)); err != nil { // #nosec G202 -- validated identifier
		return fmt.Errorf("tenancy: create schema %s: %w", ns, err)
	}
	return nil
}

func (s *PostgresSchemas) Migrate(ctx context.Context, ns string) error {
	db, err := OpenScoped(s.baseDSN, ns)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return fmt.Errorf("tenancy: migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("tenancy: migrate %s: %w", ns, err)
	}
	if len(results) > 0 {
		s.logger.Info("tenant schema migrated", "namespace", ns, "applied", len(results))
	}
	return nil
}

func (s *PostgresSchemas) Drop(ctx context.Context, ns string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+QuoteIdent(ns)+" CASCADE"); err != nil { // #nosec G202 -- validated identifier
		return fmt.Errorf("tenancy: drop schema %s: %w", ns, err)
	}
	return nil
}

var _ Schemas = (*PostgresSchemas)(nil)

// MemorySchemas tracks namespaces in memory. Fail* hooks inject faults.
type MemorySchemas struct {
	mu       sync.Mutex
	created  map[string]bool
	migrated map[string]bool

	FailCreate  error
	FailMigrate error
	FailDrop    error

	// OnDrop, if set, runs after a namespace is dropped.
	OnDrop func(ns string)
}

// NewMemorySchemas creates an empty in-memory schema manager.
func NewMemorySchemas() *MemorySchemas {
	return &MemorySchemas{
		created:  make(map[string]bool),
		migrated: make(map[string]bool),
	}
}

func (m *MemorySchemas) Create(_ context.Context, ns string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return m.FailCreate
	}
	m.created[ns] = true
	return nil
}

func (m *MemorySchemas) Migrate(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMigrate != nil {
		return m.FailMigrate
	}
	if !m.created[ns] {
		return fmt.Errorf("tenancy: migrate %s: schema does not exist", ns)
	}
	m.migrated[ns] = true
	return nil
}

func (m *MemorySchemas) Drop(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDrop != nil {
		return m.FailDrop
	}
	delete(m.created, ns)
	delete(m.migrated, ns)
	if m.OnDrop != nil {
		m.OnDrop(ns)
	}
	return nil
}

// Exists reports whether ns has been created and not dropped.
func (m *MemorySchemas) Exists(ns string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created[ns]
}

// Migrated reports whether ns has been migrated.
func (m *MemorySchemas) Migrated(ns string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.migrated[ns]
}

// Count returns the number of existing namespaces.
func (m *MemorySchemas) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

var _ Schemas = (*MemorySchemas)(nil)

// Lister enumerates registered tenants.
type Lister interface {
	List(ctx context.Context) ([]*tenant.Tenant, error)
}

// MigrateAll brings every registered tenant schema up to date. It continues
// past individual failures and returns how many schemas succeeded along with
// the first error.
func MigrateAll(ctx context.Context, tenants Lister, schemas Schemas, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	list, err := tenants.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("tenancy: list tenants: %w", err)
	}

	var (
		migrated int
		firstErr error
	)
	for _, t := range list {
		ns := SchemaName(t.Slug)
		err := schemas.Create(ctx, ns)
		if err == nil {
			err = schemas.Migrate(ctx, ns)
		}
		if err != nil {
			logger.Error("tenant migration failed", "tenant_id", t.ID, "namespace", ns, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		migrated++
	}
	logger.Info("tenant migrations complete", "migrated", migrated, "total", len(list))
	return migrated, firstErr
}
