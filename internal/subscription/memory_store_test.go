package subscription

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_OneSubscriptionPerTenant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, &Subscription{ID: "sub_1", TenantID: "t_1", Reference: "ref_1"}))
	assert.ErrorIs(t, store.Create(ctx, &Subscription{ID: "sub_2", TenantID: "t_1", Reference: "ref_2"}), ErrDuplicate)
	assert.ErrorIs(t, store.Create(ctx, &Subscription{ID: "sub_3", TenantID: "t_2", Reference: "ref_1"}), ErrDuplicate)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Subscription{
		ID: "sub_1", TenantID: "t_1", Reference: "ref_1", Metadata: json.RawMessage(`{"a":1}`),
	}))

	got, err := store.Get(ctx, "sub_1")
	require.NoError(t, err)
	got.Status = StatusActive
	got.Metadata[1] = 'X'

	again, err := store.Get(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, Status(""), again.Status)
	assert.JSONEq(t, `{"a":1}`, string(again.Metadata))
}

func TestMemoryStore_LatestByCustomerEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Create(ctx, &Subscription{ID: "sub_old", TenantID: "t_1", Reference: "r1", CustomerEmail: "a@b.test", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.Create(ctx, &Subscription{ID: "sub_new", TenantID: "t_2", Reference: "r2", CustomerEmail: "A@B.test", CreatedAt: now}))

	got, err := store.GetByCustomerEmail(ctx, "a@b.test")
	require.NoError(t, err)
	assert.Equal(t, "sub_new", got.ID)

	_, err = store.GetBySubscriptionCode(ctx, "SUB_none")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestHasMetadata(t *testing.T) {
	for _, raw := range []string{"", "null", `""`, "{}"} {
		assert.False(t, hasMetadata(json.RawMessage(raw)), raw)
	}
	assert.True(t, hasMetadata(json.RawMessage(`{"plan":"x"}`)))
}
