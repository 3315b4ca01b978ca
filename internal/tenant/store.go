package tenant

import (
	"context"

	"github.com/mbd888/bakehouse/internal/pagination"
)

// Store persists tenants.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	// ListPage returns up to limit tenants ordered by (created_at, id),
	// starting strictly after the cursor when one is given.
	ListPage(ctx context.Context, limit int, after *pagination.Cursor) ([]*Tenant, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
}

// less orders tenants the way ListPage pages through them.
func less(a, b *Tenant) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
