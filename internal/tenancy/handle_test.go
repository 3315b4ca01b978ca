package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedDSN_URL(t *testing.T) {
	dsn, err := ScopedDSN("postgres://app:secret@db:5432/bakehouse?sslmode=disable", "tenant_acme-bakery")
	require.NoError(t, err)
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "search_path=%22tenant_acme-bakery%22")
}

func TestScopedDSN_KeyValue(t *testing.T) {
	dsn, err := ScopedDSN("host=db dbname=bakehouse sslmode=disable", "tenant_acme")
	require.NoError(t, err)
	assert.Equal(t, `host=db dbname=bakehouse sslmode=disable search_path='"tenant_acme"'`, dsn)
}

func TestScopedDSN_RejectsBadNamespace(t *testing.T) {
	_, err := ScopedDSN("host=db", "public")
	assert.ErrorIs(t, err, ErrInvalidNamespace)
}

func TestMemoryHandle_PingAfterClose(t *testing.T) {
	h := NewMemoryHandle("tenant_acme")
	assert.Equal(t, "tenant_acme", h.Namespace())
	assert.NoError(t, h.Ping(context.Background()))

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Ping(context.Background()), ErrHandleClosed)
}
