package tenancy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/bakehouse/internal/tenant"
)

// countingRegistry wraps a MemoryStore and counts lookups.
type countingRegistry struct {
	*tenant.MemoryStore
	gets atomic.Int32
}

func (r *countingRegistry) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	r.gets.Add(1)
	return r.MemoryStore.Get(ctx, id)
}

// countingConnector creates MemoryHandles slowly enough for concurrent
// callers to pile up behind the namespace lock.
type countingConnector struct {
	connects atomic.Int32
	delay    time.Duration
	fail     error
}

func (c *countingConnector) Connect(ctx context.Context, ns string) (Handle, error) {
	c.connects.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return NewMemoryHandle(ns), nil
}

func newTestPool(t *testing.T) (*Pool, *countingRegistry, *countingConnector) {
	t.Helper()
	reg := &countingRegistry{MemoryStore: tenant.NewMemoryStore()}
	require.NoError(t, reg.Create(context.Background(), &tenant.Tenant{
		ID: "t_1", CompanyName: "Acme Bakery", Slug: "acme-bakery", Status: tenant.StatusPending,
	}))
	require.NoError(t, reg.Create(context.Background(), &tenant.Tenant{
		ID: "t_2", CompanyName: "Crumbs", Slug: "crumbs", Status: tenant.StatusActive,
	}))
	conn := &countingConnector{delay: 10 * time.Millisecond}
	pool := NewPool(reg, conn, nil)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, reg, conn
}

func TestPool_ResolveScopesToNamespace(t *testing.T) {
	pool, _, _ := newTestPool(t)

	h, err := pool.Resolve(context.Background(), "t_1")
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme-bakery", h.Namespace())

	other, err := pool.Resolve(context.Background(), "t_2")
	require.NoError(t, err)
	assert.Equal(t, "tenant_crumbs", other.Namespace())
	assert.NotSame(t, h, other)
	assert.Equal(t, 2, pool.Size())
}

func TestPool_ResolveUnknownTenant(t *testing.T) {
	pool, _, conn := newTestPool(t)

	_, err := pool.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	assert.Equal(t, int32(0), conn.connects.Load())
}

func TestPool_CacheHitSkipsRegistry(t *testing.T) {
	pool, reg, conn := newTestPool(t)
	ctx := context.Background()

	first, err := pool.Resolve(ctx, "t_1")
	require.NoError(t, err)
	second, err := pool.Resolve(ctx, "t_1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), reg.gets.Load())
	assert.Equal(t, int32(1), conn.connects.Load())
}

func TestPool_ConcurrentFirstResolutionOpensOnce(t *testing.T) {
	pool, _, conn := newTestPool(t)

	const n = 50
	var (
		wg      sync.WaitGroup
		handles = make([]Handle, n)
		errs    = make([]error, n)
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i], errs[i] = pool.Resolve(context.Background(), "t_1")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	assert.Equal(t, int32(1), conn.connects.Load())
	assert.Equal(t, 1, pool.Size())
}

func TestPool_DeadHandleIsReplaced(t *testing.T) {
	pool, _, conn := newTestPool(t)
	ctx := context.Background()

	first, err := pool.Resolve(ctx, "t_1")
	require.NoError(t, err)
	require.NoError(t, first.Close()) // simulate a dropped connection

	second, err := pool.Resolve(ctx, "t_1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NoError(t, second.Ping(ctx))
	assert.Equal(t, int32(2), conn.connects.Load())
	assert.Equal(t, 1, pool.Size())
}

func TestPool_ConnectFailureIsNotCached(t *testing.T) {
	pool, _, conn := newTestPool(t)
	conn.fail = errors.New("connection refused")

	_, err := pool.Resolve(context.Background(), "t_1")
	require.Error(t, err)
	assert.Equal(t, 0, pool.Size())

	conn.fail = nil
	h, err := pool.Resolve(context.Background(), "t_1")
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme-bakery", h.Namespace())
}

func TestPool_EvictForgetsTenant(t *testing.T) {
	pool, reg, _ := newTestPool(t)
	ctx := context.Background()

	h, err := pool.Resolve(ctx, "t_1")
	require.NoError(t, err)

	require.NoError(t, pool.Evict(ctx, "tenant_acme-bakery"))
	assert.Equal(t, 0, pool.Size())
	assert.ErrorIs(t, h.Ping(ctx), ErrHandleClosed)

	// The id memo is gone too, so the next resolution consults the registry.
	require.NoError(t, reg.Delete(ctx, "t_1"))
	_, err = pool.Resolve(ctx, "t_1")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestPool_ResolveNamespaceValidates(t *testing.T) {
	pool, _, _ := newTestPool(t)
	_, err := pool.ResolveNamespace(context.Background(), "public")
	assert.ErrorIs(t, err, ErrInvalidNamespace)
}

func TestPool_Close(t *testing.T) {
	pool, _, _ := newTestPool(t)
	ctx := context.Background()

	h, err := pool.Resolve(ctx, "t_1")
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	assert.ErrorIs(t, h.Ping(ctx), ErrHandleClosed)
	assert.Equal(t, 0, pool.Size())

	_, err = pool.Resolve(ctx, "t_2")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ResolveHonoursCancelledContext(t *testing.T) {
	pool, _, _ := newTestPool(t)

	// Hold the namespace lock so the resolution has to wait.
	unlock, err := pool.locks.LockContext(context.Background(), "tenant_acme-bakery")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Resolve(ctx, "t_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
