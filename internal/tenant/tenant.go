// Package tenant is the control-plane registry of tenant organizations.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrSlugTaken      = errors.New("tenant: slug already taken")
	ErrInvalidStatus  = errors.New("tenant: invalid status")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCanceled  Status = "canceled"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCanceled, StatusSuspended:
		return true
	}
	return false
}

// Tenant represents an organisation using the platform. Slug is derived from
// CompanyName at creation and never changes; it names the tenant's schema.
type Tenant struct {
	ID                 string    `json:"id"`
	CompanyName        string    `json:"company_name"`
	CompanyEmail       string    `json:"company_email"`
	CompanyPhoneNumber string    `json:"company_phone_number"`
	Slug               string    `json:"slug"`
	Status             Status    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
