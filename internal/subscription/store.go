package subscription

import "context"

// Store persists subscriptions. A tenant has at most one row.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Update(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	GetByReference(ctx context.Context, reference string) (*Subscription, error)
	GetBySubscriptionCode(ctx context.Context, code string) (*Subscription, error)
	// GetByCustomerEmail returns the most recently created match.
	GetByCustomerEmail(ctx context.Context, email string) (*Subscription, error)
}
