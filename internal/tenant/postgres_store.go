package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/bakehouse/internal/pagination"
)

const tenantColumns = `id, company_name, company_email, company_phone_number, slug, status, created_at, updated_at`

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.CompanyName, t.CompanyEmail, t.CompanyPhoneNumber, t.Slug, string(t.Status),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectTenants(rows)
}

func (p *PostgresStore) ListPage(ctx context.Context, limit int, after *pagination.Cursor) ([]*Tenant, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+tenantColumns+` FROM tenants
			ORDER BY created_at, id LIMIT $1`, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+tenantColumns+` FROM tenants
			WHERE (created_at, id) > ($1, $2)
			ORDER BY created_at, id LIMIT $3`, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	return collectTenants(rows)
}

func collectTenants(rows *sql.Rows) ([]*Tenant, error) {
	defer func() { _ = rows.Close() }()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now(), id,
	)
	return checkAffected(result, err)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	return checkAffected(result, err)
}

func checkAffected(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (*Tenant, error) {
	t := &Tenant{}
	var (
		status string
		phone  sql.NullString
	)
	err := row.Scan(&t.ID, &t.CompanyName, &t.CompanyEmail, &phone, &t.Slug, &status,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.CompanyPhoneNumber = phone.String
	return t, nil
}

var _ Store = (*PostgresStore)(nil)
