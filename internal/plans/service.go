package plans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mbd888/bakehouse/internal/idgen"
	"github.com/mbd888/bakehouse/internal/metrics"
	"github.com/mbd888/bakehouse/internal/paystack"
	"github.com/mbd888/bakehouse/internal/syncutil"
	"github.com/mbd888/bakehouse/internal/traces"
)

// Remote is the processor's plan catalog. *paystack.Client implements it.
type Remote interface {
	ListAllPlans(ctx context.Context) ([]paystack.Plan, error)
	GetPlan(ctx context.Context, code string) (*paystack.Plan, error)
}

// Sync outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
)

// SyncResult counts the plans a sync run touched. Synced is the number of
// remote plans processed.
type SyncResult struct {
	Synced    int `json:"synced"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

func (r *SyncResult) add(outcome string) {
	r.Synced++
	switch outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeUnchanged:
		r.Unchanged++
	}
}

// Service serves the plan catalog and reconciles it with the processor.
// Sync only creates and updates; plans missing remotely are left alone.
type Service struct {
	store  Store
	remote Remote
	locks  *syncutil.KeyedMutex
	logger *slog.Logger
}

// NewService creates a plan service.
func NewService(store Store, remote Remote, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, remote: remote, locks: syncutil.NewKeyedMutex(), logger: logger}
}

// FindAll returns active plans ordered by amount.
func (s *Service) FindAll(ctx context.Context) ([]*Plan, error) {
	return s.store.ListActive(ctx)
}

// FindByCode returns an active plan.
func (s *Service) FindByCode(ctx context.Context, code string) (*Plan, error) {
	p, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

// Get returns a plan by id regardless of status.
func (s *Service) Get(ctx context.Context, id string) (*Plan, error) {
	return s.store.Get(ctx, id)
}

// SyncAll reconciles every remote plan. A failure on one plan does not stop
// the others; the joined errors are returned with the partial result.
func (s *Service) SyncAll(ctx context.Context) (SyncResult, error) {
	ctx, span := traces.StartSpan(ctx, "plans.SyncAll")
	defer span.End()

	var res SyncResult
	remote, err := s.remote.ListAllPlans(ctx)
	if err != nil {
		metrics.PlanSyncRunsTotal.WithLabelValues("failed").Inc()
		traces.RecordError(span, err)
		return res, fmt.Errorf("list remote plans: %w", err)
	}

	var errs []error
	for i := range remote {
		outcome, _, err := s.apply(ctx, &remote[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("plan %s: %w", remote[i].PlanCode, err))
			continue
		}
		res.add(outcome)
	}

	if err := errors.Join(errs...); err != nil {
		metrics.PlanSyncRunsTotal.WithLabelValues("partial").Inc()
		traces.RecordError(span, err)
		s.logger.Warn("plan sync finished with errors", "synced", res.Synced, "failed", len(errs), "error", err)
		return res, err
	}
	metrics.PlanSyncRunsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("plan sync finished",
		"synced", res.Synced, "created", res.Created, "updated", res.Updated, "unchanged", res.Unchanged)
	return res, nil
}

// SyncOne reconciles a single plan by code.
func (s *Service) SyncOne(ctx context.Context, code string) (*Plan, string, error) {
	ctx, span := traces.StartSpan(ctx, "plans.SyncOne", traces.PlanCode(code))
	defer span.End()

	rp, err := s.remote.GetPlan(ctx, code)
	if err != nil {
		traces.RecordError(span, err)
		if errors.Is(err, paystack.ErrNotFound) {
			return nil, "", ErrPlanNotFound
		}
		return nil, "", fmt.Errorf("fetch remote plan: %w", err)
	}
	outcome, p, err := s.apply(ctx, rp)
	if err != nil {
		traces.RecordError(span, err)
		return nil, "", err
	}
	return p, outcome, nil
}

// apply upserts one remote plan, writing only when a field differs.
func (s *Service) apply(ctx context.Context, rp *paystack.Plan) (string, *Plan, error) {
	unlock, err := s.locks.LockContext(ctx, rp.PlanCode)
	if err != nil {
		return "", nil, err
	}
	defer unlock()

	want := fromRemote(rp)
	now := time.Now()

	local, err := s.store.GetByCode(ctx, rp.PlanCode)
	if errors.Is(err, ErrPlanNotFound) {
		want.ID = idgen.New()
		want.CreatedAt = now
		want.UpdatedAt = now
		if err := s.store.Create(ctx, want); err != nil {
			return "", nil, err
		}
		metrics.PlanSyncPlansTotal.WithLabelValues(OutcomeCreated).Inc()
		return OutcomeCreated, want, nil
	}
	if err != nil {
		return "", nil, err
	}

	if !differs(local, want) {
		metrics.PlanSyncPlansTotal.WithLabelValues(OutcomeUnchanged).Inc()
		return OutcomeUnchanged, local, nil
	}
	want.ID = local.ID
	want.CreatedAt = local.CreatedAt
	want.UpdatedAt = now
	if err := s.store.Update(ctx, want); err != nil {
		return "", nil, err
	}
	metrics.PlanSyncPlansTotal.WithLabelValues(OutcomeUpdated).Inc()
	return OutcomeUpdated, want, nil
}

func fromRemote(rp *paystack.Plan) *Plan {
	currency := rp.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	var remoteID string
	if rp.ID != 0 {
		remoteID = strconv.FormatInt(rp.ID, 10)
	}
	return &Plan{
		PlanCode:       rp.PlanCode,
		Name:           rp.Name,
		Amount:         rp.Amount,
		Interval:       rp.Interval,
		Currency:       currency,
		Active:         rp.Active(),
		PaystackPlanID: remoteID,
		Description:    rp.Description,
	}
}

func differs(local, want *Plan) bool {
	return local.Name != want.Name ||
		local.Amount != want.Amount ||
		local.Interval != want.Interval ||
		local.Currency != want.Currency ||
		local.Active != want.Active ||
		local.PaystackPlanID != want.PaystackPlanID ||
		local.Description != want.Description
}
