package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbd888/bakehouse/internal/metrics"
	"github.com/mbd888/bakehouse/internal/syncutil"
	"github.com/mbd888/bakehouse/internal/tenant"
	"github.com/mbd888/bakehouse/internal/traces"
)

// ErrPoolClosed is returned by Resolve after Close.
var ErrPoolClosed = errors.New("tenancy: pool closed")

// Registry looks tenants up in the control plane.
type Registry interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
}

// Pool caches at most one live Handle per tenant namespace.
//
// Handles are created lazily on first resolution and reused while Ping
// succeeds; a dead handle is closed and replaced on the next resolution.
// Creation is serialized per namespace so concurrent first requests for the
// same tenant share a single connection. Idle handles are never evicted:
// resident handle count equals the number of tenants seen since startup
// (exported as tenant_handles_resident).
type Pool struct {
	registry  Registry
	connector Connector
	logger    *slog.Logger
	locks     *syncutil.KeyedMutex

	mu      sync.RWMutex
	handles map[string]Handle // namespace → handle
	ids     map[string]string // tenant id → namespace; slugs are immutable
	closed  bool
}

// NewPool creates an empty pool.
func NewPool(registry Registry, connector Connector, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		registry:  registry,
		connector: connector,
		logger:    logger,
		locks:     syncutil.NewKeyedMutex(),
		handles:   make(map[string]Handle),
		ids:       make(map[string]string),
	}
}

// Resolve returns the handle for tenantID. The registry is consulted only the
// first time a tenant id is seen; it fails with tenant.ErrTenantNotFound for
// unknown ids.
func (p *Pool) Resolve(ctx context.Context, tenantID string) (Handle, error) {
	ctx, span := traces.StartSpan(ctx, "tenancy.Resolve", traces.TenantID(tenantID))
	defer span.End()

	ns, ok := p.namespaceFor(tenantID)
	if !ok {
		t, err := p.registry.Get(ctx, tenantID)
		if err != nil {
			traces.RecordError(span, err)
			return nil, fmt.Errorf("tenancy: resolve %s: %w", tenantID, err)
		}
		ns = SchemaName(t.Slug)
		p.mu.Lock()
		p.ids[tenantID] = ns
		p.mu.Unlock()
	}

	h, err := p.ResolveNamespace(ctx, ns)
	traces.RecordError(span, err)
	return h, err
}

// ResolveNamespace returns the handle for a namespace, creating it if needed.
func (p *Pool) ResolveNamespace(ctx context.Context, ns string) (Handle, error) {
	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}

	if h, ok := p.cached(ns); ok && h.Ping(ctx) == nil {
		metrics.TenantPoolLookups.WithLabelValues("hit").Inc()
		return h, nil
	}

	unlock, err := p.locks.LockContext(ctx, ns)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another caller may have created or repaired the handle while we waited.
	if h, ok := p.cached(ns); ok {
		pingErr := h.Ping(ctx)
		if pingErr == nil {
			metrics.TenantPoolLookups.WithLabelValues("hit").Inc()
			return h, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("tenant handle failed liveness check, reconnecting",
			"namespace", ns, "error", pingErr)
		p.drop(ns, h, "dead")
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	h, err := p.connector.Connect(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("tenancy: connect %s: %w", ns, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = h.Close()
		return nil, ErrPoolClosed
	}
	p.handles[ns] = h
	size := len(p.handles)
	p.mu.Unlock()

	metrics.TenantPoolLookups.WithLabelValues("miss").Inc()
	metrics.TenantConnectionsOpened.Inc()
	metrics.TenantHandlesResident.Set(float64(size))
	p.logger.Info("tenant handle opened", "namespace", ns, "resident", size)
	return h, nil
}

// Evict closes and forgets the handle for ns along with any tenant ids that
// mapped to it. Used when a namespace is dropped.
func (p *Pool) Evict(ctx context.Context, ns string) error {
	unlock, err := p.locks.LockContext(ctx, ns)
	if err != nil {
		return err
	}
	defer unlock()

	p.mu.Lock()
	for id, mapped := range p.ids {
		if mapped == ns {
			delete(p.ids, id)
		}
	}
	h, ok := p.handles[ns]
	p.mu.Unlock()

	if ok {
		p.drop(ns, h, "evicted")
	}
	return nil
}

// Size returns the number of resident handles.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// Close closes every handle. Resolve fails with ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	handles := p.handles
	p.handles = make(map[string]Handle)
	p.ids = make(map[string]string)
	p.mu.Unlock()

	var errs []error
	for ns, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ns, err))
		}
	}
	metrics.TenantHandlesResident.Set(0)
	return errors.Join(errs...)
}

func (p *Pool) namespaceFor(tenantID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ns, ok := p.ids[tenantID]
	return ns, ok
}

func (p *Pool) cached(ns string) (Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handles[ns]
	return h, ok
}

// drop removes h if it is still the cached handle for ns, then closes it.
func (p *Pool) drop(ns string, h Handle, reason string) {
	p.mu.Lock()
	if cur, ok := p.handles[ns]; ok && cur == h {
		delete(p.handles, ns)
	}
	size := len(p.handles)
	p.mu.Unlock()

	if err := h.Close(); err != nil {
		p.logger.Warn("failed to close tenant handle", "namespace", ns, "error", err)
	}
	metrics.TenantHandleEvictions.WithLabelValues(reason).Inc()
	metrics.TenantHandlesResident.Set(float64(size))
}
