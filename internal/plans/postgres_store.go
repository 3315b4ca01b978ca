package plans

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const planColumns = `id, plan_code, name, amount, interval, currency, active,
	paystack_plan_id, description, created_at, updated_at`

// PostgresStore persists plans in the control-plane database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed plan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, plan *Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		plan.ID, plan.PlanCode, plan.Name, plan.Amount, plan.Interval, plan.Currency, plan.Active,
		nullString(plan.PaystackPlanID), nullString(plan.Description), plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrPlanExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, plan *Plan) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE plans SET name = $1, amount = $2, interval = $3, currency = $4, active = $5,
			paystack_plan_id = $6, description = $7, updated_at = $8
		WHERE id = $9`,
		plan.Name, plan.Amount, plan.Interval, plan.Currency, plan.Active,
		nullString(plan.PaystackPlanID), nullString(plan.Description), plan.UpdatedAt, plan.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
}

func (p *PostgresStore) GetByCode(ctx context.Context, code string) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE plan_code = $1`, code))
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans WHERE active = TRUE ORDER BY amount, plan_code`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*Plan, error) {
	plan := &Plan{}
	var paystackID, description sql.NullString
	err := row.Scan(&plan.ID, &plan.PlanCode, &plan.Name, &plan.Amount, &plan.Interval, &plan.Currency,
		&plan.Active, &paystackID, &description, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	plan.PaystackPlanID = paystackID.String
	plan.Description = description.String
	return plan, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
