package plans

import "context"

// Store persists plans.
type Store interface {
	Create(ctx context.Context, p *Plan) error
	Update(ctx context.Context, p *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	// ListActive returns active plans ordered by amount.
	ListActive(ctx context.Context) ([]*Plan, error)
}
