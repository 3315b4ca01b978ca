package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists namespace entities. The *sql.DB must already be
// scoped to the tenant schema through its search_path.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over a tenant-scoped connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// ---------- Roles ----------

const roleColumns = `id, name, created_by_id, created_at, updated_at`

func (p *PostgresStore) EnsureRole(ctx context.Context, r *Role) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING`,
		r.ID, r.Name, nullString(r.CreatedByID), r.CreatedAt, r.UpdatedAt,
	)
	return inserted(result, err)
}

func (p *PostgresStore) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetRole(ctx context.Context, id string) (*Role, error) {
	return scanRole(p.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

func (p *PostgresStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(p.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

func scanRole(row scanner) (*Role, error) {
	r := &Role{}
	var createdBy sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &createdBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	r.CreatedByID = createdBy.String
	return r, nil
}

// ---------- Departments ----------

const departmentColumns = `id, name, created_by_id, created_at, updated_at`

func (p *PostgresStore) EnsureDepartment(ctx context.Context, d *Department) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO departments (`+departmentColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING`,
		d.ID, d.Name, nullString(d.CreatedByID), d.CreatedAt, d.UpdatedAt,
	)
	return inserted(result, err)
}

func (p *PostgresStore) ListDepartments(ctx context.Context) ([]*Department, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetDepartment(ctx context.Context, id string) (*Department, error) {
	return scanDepartment(p.db.QueryRowContext(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id))
}

func scanDepartment(row scanner) (*Department, error) {
	d := &Department{}
	var createdBy sql.NullString
	if err := row.Scan(&d.ID, &d.Name, &createdBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}
	d.CreatedByID = createdBy.String
	return d, nil
}

// ---------- Users ----------

const userColumns = `id, first_name, last_name, email, phone_number, password_hash,
	role_id, department_id, invited_by_id, created_at, updated_at`

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.PhoneNumber, u.PasswordHash,
		nullString(u.RoleID), nullString(u.DepartmentID), nullString(u.InvitedByID),
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (p *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (p *PostgresStore) SetPassword(ctx context.Context, id, hash string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, updated_at = $2
		WHERE id = $3 AND password_hash = ''`,
		hash, time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Distinguish a missing user from one that already has a password.
	if _, err := p.GetUser(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyActivated
}

func scanUser(row scanner) (*User, error) {
	u := &User{}
	var roleID, departmentID, invitedBy sql.NullString
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PhoneNumber, &u.PasswordHash,
		&roleID, &departmentID, &invitedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.RoleID = roleID.String
	u.DepartmentID = departmentID.String
	u.InvitedByID = invitedBy.String
	return u, nil
}

// ---------- Notifications ----------

const notificationColumns = `id, recipient_id, triggered_by_id, message, is_read, type, created_at`

func (p *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, nullString(n.RecipientID), nullString(n.TriggeredByID), n.Message, n.IsRead, n.Type, n.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id IS NULL OR recipient_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var recipient, triggeredBy sql.NullString
		if err := rows.Scan(&n.ID, &recipient, &triggeredBy, &n.Message, &n.IsRead, &n.Type, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.RecipientID = recipient.String
		n.TriggeredByID = triggeredBy.String
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (p *PostgresStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE is_read = FALSE AND (recipient_id IS NULL OR recipient_id = $1)`, userID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE is_read = FALSE AND (recipient_id IS NULL OR recipient_id = $1)`, userID).Scan(&n)
	return n, err
}

// inserted reports whether an ON CONFLICT DO NOTHING insert wrote a row.
func inserted(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
