// Package subscription drives tenant billing: it opens payment sessions
// with the processor and applies the processor's webhook events to the
// subscription and tenant status.
package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Errors
var (
	ErrSubscriptionNotFound = errors.New("subscription: not found")
	ErrAlreadyActive        = errors.New("subscription: tenant already has an active subscription")
	ErrDuplicate            = errors.New("subscription: tenant or reference already has a subscription")
)

// Status of a subscription.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusDisabled Status = "disabled"
)

// Subscription binds a tenant to a plan. Reference correlates the locally
// opened payment session with the processor's verified transaction.
type Subscription struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	PlanID             string          `json:"plan_id"`
	Reference          string          `json:"reference"`
	CustomerEmail      string          `json:"customer_email"`
	CustomerCode       string          `json:"customer_code,omitempty"`
	AuthorizationCode  string          `json:"authorization_code,omitempty"`
	SubscriptionCode   string          `json:"subscription_code,omitempty"`
	Status             Status          `json:"status"`
	CurrentPeriodStart *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time      `json:"current_period_end,omitempty"`
	NextPaymentDate    *time.Time      `json:"next_payment_date,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// periodGrace separates the end of a period from the next charge.
const periodGrace = 24 * time.Hour

// setNextPayment records the next charge date; the period ends a day before.
func (s *Subscription) setNextPayment(npd time.Time) {
	end := npd.Add(-periodGrace)
	s.NextPaymentDate = &npd
	s.CurrentPeriodEnd = &end
}

func sameTime(a *time.Time, b time.Time) bool {
	return a != nil && a.Equal(b)
}

// hasMetadata reports whether raw carries a JSON value worth storing.
// The processor sends "" or null when a transaction has none.
func hasMetadata(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", `""`, "{}":
		return false
	}
	return true
}

// sameJSON reports whether a and b encode the same JSON value. Stored
// metadata may come back from jsonb with different key order or spacing.
func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
