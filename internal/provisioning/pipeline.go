// Package provisioning creates tenants: it allocates the tenant's schema,
// migrates and seeds it, and registers the tenant, undoing every completed
// step when a later one fails.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/directory"
	"github.com/mbd888/bakehouse/internal/idgen"
	"github.com/mbd888/bakehouse/internal/metrics"
	"github.com/mbd888/bakehouse/internal/notify"
	"github.com/mbd888/bakehouse/internal/syncutil"
	"github.com/mbd888/bakehouse/internal/tenancy"
	"github.com/mbd888/bakehouse/internal/tenant"
	"github.com/mbd888/bakehouse/internal/traces"
)

// Provisioning outcomes, used as the metrics label.
const (
	OutcomeCreated  = "created"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

const welcomeTimeout = 30 * time.Second

// Handles opens and forgets tenant handles. *tenancy.Pool implements it.
type Handles interface {
	ResolveNamespace(ctx context.Context, ns string) (tenancy.Handle, error)
	Evict(ctx context.Context, ns string) error
}

// CreateTenantInput is the payload for CreateTenant.
type CreateTenantInput struct {
	CompanyName        string `json:"company_name" binding:"required"`
	CompanyEmail       string `json:"company_email" binding:"required,email"`
	CompanyPhoneNumber string `json:"company_phone_number"`
}

// Pipeline provisions tenants. Steps run strictly in order: schema, migrations,
// registry row, handle, seed. Creation is serialized per slug within the
// process; across processes the registry's unique constraint decides.
type Pipeline struct {
	tenants     tenant.Store
	schemas     tenancy.Schemas
	handles     Handles
	stores      directory.Stores
	sender      notify.Sender
	frontEndURL string
	logger      *slog.Logger
	locks       *syncutil.KeyedMutex
	wg          sync.WaitGroup
	now         func() time.Time
}

// NewPipeline creates a provisioning pipeline. sender may be nil, in which
// case no welcome email is sent.
func NewPipeline(tenants tenant.Store, schemas tenancy.Schemas, handles Handles, stores directory.Stores, sender notify.Sender, frontEndURL string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		tenants:     tenants,
		schemas:     schemas,
		handles:     handles,
		stores:      stores,
		sender:      sender,
		frontEndURL: strings.TrimRight(frontEndURL, "/"),
		logger:      logger,
		locks:       syncutil.NewKeyedMutex(),
		now:         time.Now,
	}
}

// CreateTenant provisions a new tenant and returns it with status pending.
//
// Errors are classified: BadRequest for a name that yields no usable slug,
// Conflict when the slug is taken (nothing is created or rolled back),
// Internal for any failure after the schema was created, in which case the
// schema, registry row and cached handle have been removed.
func (p *Pipeline) CreateTenant(ctx context.Context, in CreateTenantInput) (*tenant.Tenant, error) {
	start := time.Now()
	name := strings.TrimSpace(in.CompanyName)
	slug := tenancy.Slugify(name)
	ns := tenancy.SchemaName(slug)

	ctx, span := traces.StartSpan(ctx, "provisioning.CreateTenant", traces.Namespace(ns))
	defer span.End()

	t, outcome, err := p.create(ctx, name, slug, ns, in)
	metrics.ProvisioningTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	metrics.ProvisioningDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.TenantID(t.ID))

	p.logger.Info("tenant provisioned",
		"tenant_id", t.ID, "slug", t.Slug, "namespace", ns, "duration", time.Since(start))
	p.welcome(ctx, t)
	return t, nil
}

func (p *Pipeline) create(ctx context.Context, name, slug, ns string, in CreateTenantInput) (*tenant.Tenant, string, error) {
	if err := tenancy.ValidateSlug(slug); err != nil {
		return nil, OutcomeInvalid, apperr.Wrap(apperr.KindBadRequest, "invalid_company_name",
			"Company name must produce a slug of letters, digits, hyphens or underscores", err)
	}

	unlock, err := p.locks.LockContext(ctx, slug)
	if err != nil {
		return nil, OutcomeFailed, apperr.Internal(err)
	}
	defer unlock()

	if _, err := p.tenants.GetBySlug(ctx, slug); err == nil {
		return nil, OutcomeConflict, conflict(slug, tenant.ErrSlugTaken)
	} else if !errors.Is(err, tenant.ErrTenantNotFound) {
		return nil, OutcomeFailed, apperr.Internal(fmt.Errorf("check slug %s: %w", slug, err))
	}

	if err := p.schemas.Create(ctx, ns); err != nil {
		return nil, OutcomeFailed, apperr.Internal(fmt.Errorf("create schema %s: %w", ns, err))
	}

	if err := p.schemas.Migrate(ctx, ns); err != nil {
		p.rollback(ctx, ns, "")
		return nil, OutcomeFailed, apperr.Internal(fmt.Errorf("migrate schema %s: %w", ns, err))
	}

	now := p.now()
	t := &tenant.Tenant{
		ID:                 idgen.New(),
		CompanyName:        name,
		CompanyEmail:       strings.TrimSpace(in.CompanyEmail),
		CompanyPhoneNumber: strings.TrimSpace(in.CompanyPhoneNumber),
		Slug:               slug,
		Status:             tenant.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := p.tenants.Create(ctx, t); err != nil {
		if errors.Is(err, tenant.ErrSlugTaken) {
			// Another process registered the slug first; the schema is theirs.
			return nil, OutcomeConflict, conflict(slug, err)
		}
		p.rollback(ctx, ns, "")
		return nil, OutcomeFailed, apperr.Internal(fmt.Errorf("register tenant: %w", err))
	}

	if err := p.seed(ctx, ns); err != nil {
		p.rollback(ctx, ns, t.ID)
		return nil, OutcomeFailed, apperr.Internal(err)
	}

	return t, OutcomeCreated, nil
}

func (p *Pipeline) seed(ctx context.Context, ns string) error {
	h, err := p.handles.ResolveNamespace(ctx, ns)
	if err != nil {
		return fmt.Errorf("open handle %s: %w", ns, err)
	}
	st, err := p.stores.For(h)
	if err != nil {
		return fmt.Errorf("bind store %s: %w", ns, err)
	}
	res, err := directory.Seed(ctx, st)
	if err != nil {
		return fmt.Errorf("seed %s: %w", ns, err)
	}
	p.logger.Debug("tenant seeded", "namespace", ns, "roles", res.Roles, "departments", res.Departments)
	return nil
}

// rollback undoes a partial provisioning. It runs on a context detached from
// the caller's cancellation. Failures are logged; the caller reports the
// original error.
func (p *Pipeline) rollback(ctx context.Context, ns, tenantID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := p.handles.Evict(ctx, ns); err != nil {
		p.logger.Error("rollback: evict handle failed", "namespace", ns, "error", err)
	}
	if err := p.schemas.Drop(ctx, ns); err != nil {
		p.logger.Error("rollback: drop schema failed", "namespace", ns, "error", err)
	}
	if tenantID != "" {
		if err := p.tenants.Delete(ctx, tenantID); err != nil && !errors.Is(err, tenant.ErrTenantNotFound) {
			p.logger.Error("rollback: delete tenant failed", "tenant_id", tenantID, "error", err)
		}
	}
	p.logger.Warn("tenant provisioning rolled back", "namespace", ns, "tenant_id", tenantID)
}

// welcome emails the company address in the background.
func (p *Pipeline) welcome(ctx context.Context, t *tenant.Tenant) {
	if p.sender == nil || t.CompanyEmail == "" {
		return
	}
	msg := notify.Welcome(t.CompanyEmail, t.CompanyName, t.CompanyName,
		p.frontEndURL+"/tenants/"+t.ID+"/login")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), welcomeTimeout)
		defer cancel()
		if err := p.sender.Send(ctx, msg); err != nil {
			p.logger.Error("welcome email failed", "tenant_id", t.ID, "error", err)
		}
	}()
}

// Wait blocks until background welcome emails have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func conflict(slug string, err error) error {
	return apperr.Wrap(apperr.KindConflict, "tenant_exists",
		fmt.Sprintf("A tenant with slug %q already exists", slug), err)
}
