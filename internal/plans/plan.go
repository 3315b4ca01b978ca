// Package plans maintains the local billing plan catalog, mirrored from the
// payment processor.
package plans

import (
	"errors"
	"time"
)

// Errors
var (
	ErrPlanNotFound = errors.New("plans: plan not found")
	ErrPlanExists   = errors.New("plans: plan code already exists")
)

// Billing intervals.
const (
	IntervalDaily      = "daily"
	IntervalWeekly     = "weekly"
	IntervalMonthly    = "monthly"
	IntervalQuarterly  = "quarterly"
	IntervalBiannually = "biannually"
	IntervalAnnually   = "annually"
)

// DefaultCurrency applies when the processor omits one.
const DefaultCurrency = "NGN"

// Plan is a catalog entry. Amount is in minor currency units.
type Plan struct {
	ID             string    `json:"id"`
	PlanCode       string    `json:"plan_code"`
	Name           string    `json:"name"`
	Amount         int64     `json:"amount"`
	Interval       string    `json:"interval"`
	Currency       string    `json:"currency"`
	Active         bool      `json:"active"`
	PaystackPlanID string    `json:"paystack_plan_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NextPeriodEnd returns the end of a billing period starting at start.
// Unknown intervals are treated as monthly.
func NextPeriodEnd(interval string, start time.Time) time.Time {
	switch interval {
	case IntervalDaily:
		return start.AddDate(0, 0, 1)
	case IntervalWeekly:
		return start.AddDate(0, 0, 7)
	case IntervalQuarterly:
		return start.AddDate(0, 3, 0)
	case IntervalBiannually:
		return start.AddDate(0, 6, 0)
	case IntervalAnnually:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}
