package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/bakehouse/internal/idgen"
	"github.com/mbd888/bakehouse/internal/metrics"
	"github.com/mbd888/bakehouse/internal/paystack"
	"github.com/mbd888/bakehouse/internal/plans"
	"github.com/mbd888/bakehouse/internal/syncutil"
	"github.com/mbd888/bakehouse/internal/tenant"
	"github.com/mbd888/bakehouse/internal/traces"
)

// Processor is the payment processor API used for billing.
// *paystack.Client implements it.
type Processor interface {
	FindCustomer(ctx context.Context, email string) (*paystack.Customer, error)
	CreateCustomer(ctx context.Context, in paystack.CustomerInput) (*paystack.Customer, error)
	InitializeTransaction(ctx context.Context, in paystack.TransactionInput) (*paystack.Session, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error)
	GetSubscription(ctx context.Context, code string) (*paystack.Subscription, error)
	DisableSubscription(ctx context.Context, code, emailToken string) error
}

// Tenants is the subset of the tenant registry billing touches.
type Tenants interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	UpdateStatus(ctx context.Context, id string, status tenant.Status) error
}

// Plans resolves catalog entries. *plans.Service implements it.
type Plans interface {
	FindByCode(ctx context.Context, code string) (*plans.Plan, error)
	Get(ctx context.Context, id string) (*plans.Plan, error)
}

// Service implements the subscription state machine.
//
// Status moves pending → active on a verified payment, and active →
// canceled on disablement or explicit cancel. Every webhook handler
// re-reads the row under a per-subscription lock and checks status
// before writing, so replays and out-of-order deliveries are harmless.
type Service struct {
	store     Store
	tenants   Tenants
	plans     Plans
	processor Processor
	locks     *syncutil.KeyedMutex
	handlers  map[EventType]eventHandler
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a subscription service.
func NewService(store Store, tenants Tenants, plans Plans, processor Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		tenants:   tenants,
		plans:     plans,
		processor: processor,
		locks:     syncutil.NewKeyedMutex(),
		logger:    logger,
		now:       time.Now,
	}
	s.handlers = s.dispatch()
	return s
}

// InitializeInput is the payload for Initialize.
type InitializeInput struct {
	TenantSlug string `json:"tenant_slug" binding:"required"`
	PlanCode   string `json:"plan_code" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
}

// InitializeResult points the caller at the processor's payment page.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Initialize opens a payment session for a tenant's subscription. The
// pending row is written before the processor is called so the eventual
// webhook can always be matched by reference.
func (s *Service) Initialize(ctx context.Context, in InitializeInput) (*InitializeResult, error) {
	ctx, span := traces.StartSpan(ctx, "subscription.Initialize", traces.PlanCode(in.PlanCode))
	defer span.End()

	t, err := s.tenants.GetBySlug(ctx, in.TenantSlug)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TenantID(t.ID))

	unlock, err := s.locks.LockContext(ctx, "tenant:"+t.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.GetByTenant(ctx, t.ID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == StatusActive {
		return nil, ErrAlreadyActive
	}

	plan, err := s.plans.FindByCode(ctx, in.PlanCode)
	if err != nil {
		return nil, err
	}

	customer, err := s.findOrCreateCustomer(ctx, in.Email, t)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	reference := idgen.Reference()
	now := s.now()
	sub := existing
	if sub == nil {
		sub = &Subscription{ID: idgen.New(), TenantID: t.ID, CreatedAt: now}
	}
	// A previous attempt's row is reset in place to keep one row per tenant.
	sub.PlanID = plan.ID
	sub.Reference = reference
	sub.CustomerEmail = in.Email
	sub.CustomerCode = customer.CustomerCode
	sub.AuthorizationCode = ""
	sub.SubscriptionCode = ""
	sub.Status = StatusPending
	sub.CurrentPeriodStart = nil
	sub.CurrentPeriodEnd = nil
	sub.NextPaymentDate = nil
	sub.Metadata = nil
	sub.UpdatedAt = now

	if existing == nil {
		err = s.store.Create(ctx, sub)
	} else {
		err = s.store.Update(ctx, sub)
	}
	if err != nil {
		return nil, fmt.Errorf("persist pending subscription: %w", err)
	}
	span.SetAttributes(traces.Reference(reference))

	session, err := s.processor.InitializeTransaction(ctx, paystack.TransactionInput{
		Email:     in.Email,
		Amount:    plan.Amount,
		Plan:      plan.PlanCode,
		Reference: reference,
	})
	if err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("initialize transaction: %w", err)
	}

	s.logger.Info("subscription initialized",
		"tenant_id", t.ID, "plan", plan.PlanCode, "reference", reference)
	return &InitializeResult{
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.AccessCode,
		Reference:        reference,
	}, nil
}

func (s *Service) findOrCreateCustomer(ctx context.Context, email string, t *tenant.Tenant) (*paystack.Customer, error) {
	customer, err := s.processor.FindCustomer(ctx, email)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, paystack.ErrNotFound) {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	first, last := splitCompanyName(t.CompanyName)
	customer, err = s.processor.CreateCustomer(ctx, paystack.CustomerInput{
		Email:     email,
		FirstName: first,
		LastName:  last,
		Phone:     t.CompanyPhoneNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return customer, nil
}

// splitCompanyName maps a company name onto the processor's person fields.
func splitCompanyName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", "Company"
	case 1:
		return parts[0], "Company"
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// HandleWebhook applies a verified webhook event. Unknown event types are
// ignored. The returned outcome is one of the Outcome* constants.
func (s *Service) HandleWebhook(ctx context.Context, ev Event) (string, error) {
	ctx, span := traces.StartSpan(ctx, "subscription.HandleWebhook", traces.Event(string(ev.Event)))
	defer span.End()

	handler, ok := s.handlers[ev.Event]
	if !ok {
		s.logger.Info("webhook event ignored", "event", ev.Event)
		metrics.WebhookEventsTotal.WithLabelValues("other", OutcomeUnknown).Inc()
		return OutcomeUnknown, nil
	}

	applied, err := handler(ctx, &ev.Data)
	outcome := OutcomeIgnored
	switch {
	case err != nil:
		outcome = OutcomeFailed
		traces.RecordError(span, err)
		s.logger.Error("webhook handler failed", "event", ev.Event,
			"reference", ev.Data.Reference, "subscription_code", ev.Data.SubscriptionCode, "error", err)
	case applied:
		outcome = OutcomeApplied
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(ev.Event), outcome).Inc()
	return outcome, err
}

// locked finds a subscription, then re-reads it under its lock before fn
// runs, so handlers for the same row never interleave.
func (s *Service) locked(ctx context.Context, find func() (*Subscription, error), fn func(*Subscription) (bool, error)) (bool, error) {
	found, err := find()
	if errors.Is(err, ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	unlock, err := s.locks.LockContext(ctx, "subscription:"+found.ID)
	if err != nil {
		return false, err
	}
	defer unlock()

	sub, err := s.store.Get(ctx, found.ID)
	if err != nil {
		return false, err
	}
	return fn(sub)
}

func (s *Service) onChargeSuccess(ctx context.Context, data *EventData) (bool, error) {
	if data.Reference == "" {
		return false, nil
	}
	return s.locked(ctx,
		func() (*Subscription, error) { return s.store.GetByReference(ctx, data.Reference) },
		func(sub *Subscription) (bool, error) {
			if sub.Status != StatusPending {
				s.logger.Info("charge.success for non-pending subscription ignored",
					"subscription_id", sub.ID, "status", sub.Status)
				return false, nil
			}

			tx, err := s.processor.VerifyTransaction(ctx, sub.Reference)
			if err != nil {
				return false, fmt.Errorf("verify transaction: %w", err)
			}
			if !tx.Succeeded() || tx.Authorization.AuthorizationCode == "" {
				s.logger.Warn("transaction not verified, subscription left pending",
					"reference", sub.Reference, "status", tx.Status)
				return false, nil
			}

			plan, err := s.plans.Get(ctx, sub.PlanID)
			if err != nil {
				return false, fmt.Errorf("load plan: %w", err)
			}

			sub.AuthorizationCode = tx.Authorization.AuthorizationCode
			if tx.Customer.CustomerCode != "" {
				sub.CustomerCode = tx.Customer.CustomerCode
			}
			switch {
			case hasMetadata(data.Metadata):
				sub.Metadata = data.Metadata
			case hasMetadata(tx.Metadata):
				sub.Metadata = tx.Metadata
			}
			s.applyBillingCycle(ctx, sub, plan)
			sub.Status = StatusActive
			sub.UpdatedAt = s.now()

			if err := s.store.Update(ctx, sub); err != nil {
				return false, err
			}
			s.transitioned(sub, StatusActive)
			return true, s.setTenantStatus(ctx, sub.TenantID, tenant.StatusActive)
		})
}

// applyBillingCycle adopts the processor's subscription for this plan when
// there is one. Otherwise the period is computed locally from the plan
// interval, and only the code of the customer's first subscription is kept
// so later subscription events can still be matched.
func (s *Service) applyBillingCycle(ctx context.Context, sub *Subscription, plan *plans.Plan) {
	now := s.now()
	var match, fallback *paystack.Subscription

	customer, err := s.processor.FindCustomer(ctx, sub.CustomerEmail)
	if err != nil {
		s.logger.Warn("customer subscriptions unavailable, computing period locally",
			"reference", sub.Reference, "error", err)
	} else {
		for i := range customer.Subscriptions {
			if customer.Subscriptions[i].Plan.PlanCode == plan.PlanCode {
				match = &customer.Subscriptions[i]
				break
			}
		}
		if match == nil && len(customer.Subscriptions) > 0 {
			fallback = &customer.Subscriptions[0]
		}
	}

	if match != nil {
		sub.SubscriptionCode = match.SubscriptionCode
		start := now
		if match.CreatedAt != nil {
			start = *match.CreatedAt
		}
		sub.CurrentPeriodStart = &start
		if match.NextPaymentDate != nil {
			sub.setNextPayment(*match.NextPaymentDate)
			return
		}
		end := plans.NextPeriodEnd(plan.Interval, start)
		sub.CurrentPeriodEnd = &end
		sub.NextPaymentDate = &end
		return
	}

	if fallback != nil && fallback.SubscriptionCode != "" {
		sub.SubscriptionCode = fallback.SubscriptionCode
	}
	start := now
	end := plans.NextPeriodEnd(plan.Interval, start)
	sub.CurrentPeriodStart = &start
	sub.CurrentPeriodEnd = &end
	sub.NextPaymentDate = &end
}

func (s *Service) onSubscriptionCreate(ctx context.Context, data *EventData) (bool, error) {
	find := func() (*Subscription, error) {
		if data.SubscriptionCode != "" {
			sub, err := s.store.GetBySubscriptionCode(ctx, data.SubscriptionCode)
			if !errors.Is(err, ErrSubscriptionNotFound) {
				return sub, err
			}
		}
		if email := data.customerEmail(); email != "" {
			return s.store.GetByCustomerEmail(ctx, email)
		}
		return nil, ErrSubscriptionNotFound
	}
	return s.locked(ctx, find, func(sub *Subscription) (bool, error) {
		changed := false
		if data.SubscriptionCode != "" && sub.SubscriptionCode != data.SubscriptionCode {
			sub.SubscriptionCode = data.SubscriptionCode
			changed = true
		}
		if code := data.authorizationCode(); code != "" && sub.AuthorizationCode != code {
			sub.AuthorizationCode = code
			changed = true
		}
		if code := data.customerCode(); code != "" && sub.CustomerCode != code {
			sub.CustomerCode = code
			changed = true
		}
		if created := data.createdAt(); created != nil && !sameTime(sub.CurrentPeriodStart, *created) {
			start := *created
			sub.CurrentPeriodStart = &start
			changed = true
		}
		if npd := data.NextPaymentDate; npd != nil && !sameTime(sub.NextPaymentDate, *npd) {
			sub.setNextPayment(*npd)
			changed = true
		}
		if !changed {
			return false, nil
		}
		sub.UpdatedAt = s.now()
		return true, s.store.Update(ctx, sub)
	})
}

func (s *Service) onInvoiceUpdate(ctx context.Context, data *EventData) (bool, error) {
	find := func() (*Subscription, error) {
		if data.Reference != "" {
			sub, err := s.store.GetByReference(ctx, data.Reference)
			if !errors.Is(err, ErrSubscriptionNotFound) {
				return sub, err
			}
		}
		if data.SubscriptionCode != "" {
			return s.store.GetBySubscriptionCode(ctx, data.SubscriptionCode)
		}
		return nil, ErrSubscriptionNotFound
	}
	return s.locked(ctx, find, func(sub *Subscription) (bool, error) {
		updated := false
		if data.SubscriptionCode != "" && sub.SubscriptionCode != data.SubscriptionCode {
			sub.SubscriptionCode = data.SubscriptionCode
			updated = true
		}
		if code := data.authorizationCode(); code != "" && sub.AuthorizationCode != code {
			sub.AuthorizationCode = code
			updated = true
		}
		if npd := data.NextPaymentDate; npd != nil && !sameTime(sub.NextPaymentDate, *npd) {
			sub.setNextPayment(*npd)
			updated = true
		}
		if hasMetadata(data.Metadata) && !sameJSON(sub.Metadata, data.Metadata) {
			sub.Metadata = data.Metadata
			updated = true
		}

		activate := data.Status == "success" && sub.Status != StatusActive
		if activate {
			sub.Status = StatusActive
			updated = true
		}
		if !updated {
			return false, nil
		}

		sub.UpdatedAt = s.now()
		if err := s.store.Update(ctx, sub); err != nil {
			return false, err
		}
		if activate {
			s.transitioned(sub, StatusActive)
			return true, s.setTenantStatus(ctx, sub.TenantID, tenant.StatusActive)
		}
		return true, nil
	})
}

func (s *Service) onSubscriptionDisable(ctx context.Context, data *EventData) (bool, error) {
	if data.SubscriptionCode == "" {
		return false, nil
	}
	return s.locked(ctx,
		func() (*Subscription, error) { return s.store.GetBySubscriptionCode(ctx, data.SubscriptionCode) },
		func(sub *Subscription) (bool, error) {
			if sub.Status == StatusCanceled {
				return false, nil
			}
			sub.Status = StatusCanceled
			sub.UpdatedAt = s.now()
			if err := s.store.Update(ctx, sub); err != nil {
				return false, err
			}
			s.transitioned(sub, StatusCanceled)
			return true, s.setTenantStatus(ctx, sub.TenantID, tenant.StatusSuspended)
		})
}

// onPaymentFailed suspends the tenant; the subscription row is finalized
// by the disablement event that follows.
func (s *Service) onPaymentFailed(ctx context.Context, data *EventData) (bool, error) {
	if data.SubscriptionCode == "" {
		return false, nil
	}
	return s.locked(ctx,
		func() (*Subscription, error) { return s.store.GetBySubscriptionCode(ctx, data.SubscriptionCode) },
		func(sub *Subscription) (bool, error) {
			t, err := s.tenants.Get(ctx, sub.TenantID)
			if err != nil {
				return false, err
			}
			if t.Status == tenant.StatusSuspended {
				return false, nil
			}
			return true, s.setTenantStatus(ctx, sub.TenantID, tenant.StatusSuspended)
		})
}

// Cancel cancels a subscription. The processor is asked to stop renewing
// it, but a processor failure does not block the local cancellation; it is
// logged and counted so operators can reconcile.
func (s *Service) Cancel(ctx context.Context, id string) (*Subscription, error) {
	ctx, span := traces.StartSpan(ctx, "subscription.Cancel")
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, "subscription:"+id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TenantID(sub.TenantID), traces.SubscriptionCode(sub.SubscriptionCode))

	if sub.SubscriptionCode != "" {
		if err := s.disableRemote(ctx, sub.SubscriptionCode); err != nil {
			metrics.ProcessorCancelFailures.Inc()
			traces.RecordError(span, err)
			s.logger.Error("processor cancellation failed, canceling locally",
				"subscription_id", sub.ID, "subscription_code", sub.SubscriptionCode, "error", err)
		}
	}

	if sub.Status != StatusCanceled {
		sub.Status = StatusCanceled
		sub.UpdatedAt = s.now()
		if err := s.store.Update(ctx, sub); err != nil {
			return nil, err
		}
		s.transitioned(sub, StatusCanceled)
	}
	if err := s.setTenantStatus(ctx, sub.TenantID, tenant.StatusSuspended); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) disableRemote(ctx context.Context, code string) error {
	remote, err := s.processor.GetSubscription(ctx, code)
	if err != nil {
		return err
	}
	return s.processor.DisableSubscription(ctx, code, remote.EmailToken)
}

// FindByTenant returns a tenant's subscription.
func (s *Service) FindByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.store.GetByTenant(ctx, tenantID)
}

func (s *Service) setTenantStatus(ctx context.Context, tenantID string, status tenant.Status) error {
	if err := s.tenants.UpdateStatus(ctx, tenantID, status); err != nil {
		return fmt.Errorf("set tenant %s %s: %w", tenantID, status, err)
	}
	s.logger.Info("tenant status changed", "tenant_id", tenantID, "status", status)
	return nil
}

func (s *Service) transitioned(sub *Subscription, to Status) {
	metrics.SubscriptionTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("subscription status changed",
		"subscription_id", sub.ID, "tenant_id", sub.TenantID, "status", to)
}
