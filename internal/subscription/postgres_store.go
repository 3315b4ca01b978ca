package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

const subscriptionColumns = `id, tenant_id, plan_id, reference, customer_email, customer_code,
	authorization_code, subscription_code, status, current_period_start, current_period_end,
	next_payment_date, metadata, created_at, updated_at`

// PostgresStore persists subscriptions in the control-plane database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.TenantID, s.PlanID, s.Reference, s.CustomerEmail,
		nullString(s.CustomerCode), nullString(s.AuthorizationCode), nullString(s.SubscriptionCode),
		string(s.Status), nullTime(s.CurrentPeriodStart), nullTime(s.CurrentPeriodEnd),
		nullTime(s.NextPaymentDate), nullJSON(s.Metadata), s.CreatedAt, s.UpdatedAt,
	)
	return mapWriteError(err)
}

func (p *PostgresStore) Update(ctx context.Context, s *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			plan_id = $1, reference = $2, customer_email = $3, customer_code = $4,
			authorization_code = $5, subscription_code = $6, status = $7,
			current_period_start = $8, current_period_end = $9, next_payment_date = $10,
			metadata = $11, updated_at = $12
		WHERE id = $13`,
		s.PlanID, s.Reference, s.CustomerEmail, nullString(s.CustomerCode),
		nullString(s.AuthorizationCode), nullString(s.SubscriptionCode), string(s.Status),
		nullTime(s.CurrentPeriodStart), nullTime(s.CurrentPeriodEnd), nullTime(s.NextPaymentDate),
		nullJSON(s.Metadata), s.UpdatedAt, s.ID,
	)
	if err != nil {
		return mapWriteError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	return p.queryOne(ctx, `WHERE id = $1`, id)
}

func (p *PostgresStore) GetByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	return p.queryOne(ctx, `WHERE tenant_id = $1`, tenantID)
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Subscription, error) {
	return p.queryOne(ctx, `WHERE reference = $1`, reference)
}

func (p *PostgresStore) GetBySubscriptionCode(ctx context.Context, code string) (*Subscription, error) {
	return p.queryOne(ctx, `WHERE subscription_code = $1 ORDER BY created_at DESC LIMIT 1`, code)
}

func (p *PostgresStore) GetByCustomerEmail(ctx context.Context, email string) (*Subscription, error) {
	return p.queryOne(ctx, `WHERE LOWER(customer_email) = LOWER($1) ORDER BY created_at DESC LIMIT 1`, email)
}

func (p *PostgresStore) queryOne(ctx context.Context, where string, arg any) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions `+where, arg)

	s := &Subscription{}
	var customerCode, authCode, subCode sql.NullString
	var start, end, npd sql.NullTime
	var metadata []byte
	var status string
	err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &s.Reference, &s.CustomerEmail,
		&customerCode, &authCode, &subCode, &status, &start, &end, &npd, &metadata,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	s.Status = Status(status)
	s.CustomerCode = customerCode.String
	s.AuthorizationCode = authCode.String
	s.SubscriptionCode = subCode.String
	s.CurrentPeriodStart = timePtr(start)
	s.CurrentPeriodEnd = timePtr(end)
	s.NextPaymentDate = timePtr(npd)
	if len(metadata) > 0 {
		s.Metadata = metadata
	}
	return s, nil
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ Store = (*PostgresStore)(nil)
