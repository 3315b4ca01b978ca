package subscription

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// EventType is a processor webhook event name.
type EventType string

// Handled webhook events.
const (
	EventChargeSuccess        EventType = "charge.success"
	EventSubscriptionCreate   EventType = "subscription.create"
	EventSubscriptionDisable  EventType = "subscription.disable"
	EventSubscriptionNotRenew EventType = "subscription.not_renew"
	EventInvoiceUpdate        EventType = "invoice.update"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
)

// Event is a decoded webhook body.
type Event struct {
	Event EventType `json:"event"`
	Data  EventData `json:"data"`
}

// EventData is the union of the fields the handled events carry.
type EventData struct {
	Reference        string          `json:"reference,omitempty"`
	SubscriptionCode string          `json:"subscription_code,omitempty"`
	Status           string          `json:"status,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	NextPaymentDate  *time.Time      `json:"next_payment_date,omitempty"`
	CreatedAt        *time.Time      `json:"created_at,omitempty"`
	CreatedAtAlt     *time.Time      `json:"createdAt,omitempty"`
	Customer         *EventCustomer  `json:"customer,omitempty"`
	Authorization    *EventAuth      `json:"authorization,omitempty"`
}

// UnmarshalJSON decodes date fields leniently: a missing, empty or
// unparseable date is left nil instead of failing the whole event.
func (d *EventData) UnmarshalJSON(b []byte) error {
	type plain EventData
	aux := struct {
		*plain
		NextPaymentDate json.RawMessage `json:"next_payment_date,omitempty"`
		CreatedAt       json.RawMessage `json:"created_at,omitempty"`
		CreatedAtAlt    json.RawMessage `json:"createdAt,omitempty"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d.NextPaymentDate = parseEventTime(aux.NextPaymentDate)
	d.CreatedAt = parseEventTime(aux.CreatedAt)
	d.CreatedAtAlt = parseEventTime(aux.CreatedAtAlt)
	return nil
}

// eventTimeLayouts are the date formats the processor has been seen to send.
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseEventTime(raw json.RawMessage) *time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// EventCustomer identifies the paying customer.
type EventCustomer struct {
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code,omitempty"`
}

// EventAuth carries the reusable card authorization.
type EventAuth struct {
	AuthorizationCode string `json:"authorization_code"`
}

func (d *EventData) createdAt() *time.Time {
	if d.CreatedAt != nil {
		return d.CreatedAt
	}
	return d.CreatedAtAlt
}

func (d *EventData) customerEmail() string {
	if d.Customer == nil {
		return ""
	}
	return d.Customer.Email
}

func (d *EventData) customerCode() string {
	if d.Customer == nil {
		return ""
	}
	return d.Customer.CustomerCode
}

func (d *EventData) authorizationCode() string {
	if d.Authorization == nil {
		return ""
	}
	return d.Authorization.AuthorizationCode
}

// Webhook outcomes, used as the metrics label.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeUnknown = "unknown"
	OutcomeFailed  = "failed"
)

// eventHandler applies one event type. It reports whether state changed.
type eventHandler func(ctx context.Context, data *EventData) (bool, error)

// dispatch maps each handled event type to its handler. Types not listed
// are acknowledged and ignored.
func (s *Service) dispatch() map[EventType]eventHandler {
	return map[EventType]eventHandler{
		EventChargeSuccess:        s.onChargeSuccess,
		EventSubscriptionCreate:   s.onSubscriptionCreate,
		EventSubscriptionDisable:  s.onSubscriptionDisable,
		EventSubscriptionNotRenew: s.onSubscriptionDisable,
		EventInvoiceUpdate:        s.onInvoiceUpdate,
		EventInvoicePaymentFailed: s.onPaymentFailed,
	}
}
