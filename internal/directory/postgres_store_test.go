package directory

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_EnsureRole(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (name) DO NOTHING")).
		WithArgs("r1", "accountant", sql.NullString{}, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (name) DO NOTHING")).
		WithArgs("r2", "accountant", sql.NullString{}, now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := store.EnsureRole(context.Background(), &Role{ID: "r1", Name: "accountant", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureRole(context.Background(), &Role{ID: "r2", Name: "accountant", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUser_DuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateUser(context.Background(), &User{ID: "u1", Email: "a@b.test"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "first_name", "last_name", "email", "phone_number", "password_hash",
		"role_id", "department_id", "invited_by_id", "created_at", "updated_at"}).
		AddRow("u2", "Bo", "Cook", "bo@crumbs.test", "", "", "r1", nil, "u1", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u2").
		WillReturnRows(rows)

	u, err := store.GetUser(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.InvitedByID)
	assert.Equal(t, "", u.DepartmentID)
	assert.False(t, u.Activated())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUser_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetUser(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPostgresStore_SetPassword_AlreadyActivated(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"id", "first_name", "last_name", "email", "phone_number", "password_hash",
		"role_id", "department_id", "invited_by_id", "created_at", "updated_at"}).
		AddRow("u1", "Ada", "B", "ada@crumbs.test", "", "$2a$hash", "r1", nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(rows)

	err := store.SetPassword(context.Background(), "u1", "$2a$new")
	assert.ErrorIs(t, err, ErrAlreadyActivated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkRead_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = TRUE WHERE id = $1")).
		WithArgs("n1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.MarkRead(context.Background(), "n1"), ErrNotificationNotFound)
}

func TestPostgresStore_UnreadCount(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("recipient_id IS NULL OR recipient_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
