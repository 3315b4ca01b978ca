// Package directory holds the entities that live inside a tenant's
// namespace: users, roles, departments and notifications.
package directory

import (
	"errors"
	"time"
)

// Errors
var (
	ErrUserNotFound         = errors.New("directory: user not found")
	ErrEmailTaken           = errors.New("directory: email already registered")
	ErrRoleNotFound         = errors.New("directory: role not found")
	ErrRoleRequired         = errors.New("directory: role is required")
	ErrDepartmentNotFound   = errors.New("directory: department not found")
	ErrNotificationNotFound = errors.New("directory: notification not found")
	ErrAlreadyActivated     = errors.New("directory: account already activated")
	ErrPasswordTooShort     = errors.New("directory: password too short")
	ErrPasswordMismatch     = errors.New("directory: passwords do not match")
)

// ManagerRole is assigned to the first user of a tenant and cannot be
// picked from the role selection list.
const ManagerRole = "bakery manager"

// Default reference data seeded into every new namespace.
var (
	DefaultRoles       = []string{ManagerRole, "production supervisor", "sales manager", "accountant"}
	DefaultDepartments = []string{"production", "sales", "accounting"}
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Role is a named permission group.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedByID string    `json:"created_by_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Department groups users by function.
type Department struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedByID string    `json:"created_by_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is a member of a tenant. InvitedByID points at another user in the
// same namespace; it is a lookup relation only.
type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	PhoneNumber  string    `json:"phone_number"`
	PasswordHash string    `json:"-"`
	RoleID       string    `json:"role_id,omitempty"`
	DepartmentID string    `json:"department_id,omitempty"`
	InvitedByID  string    `json:"invited_by_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Activated reports whether the user has set a password.
func (u *User) Activated() bool { return u.PasswordHash != "" }

// FullName joins first and last name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UserSummary is the single-level view of an inviter.
type UserSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// UserView is the API representation of a user.
type UserView struct {
	*User
	Activated bool         `json:"activated"`
	InvitedBy *UserSummary `json:"invited_by,omitempty"`
}

// Notification types.
const (
	NotificationGeneral        = "general"
	NotificationUserJoined     = "user_joined"
	NotificationInviteAccepted = "invite_accepted"
)

// Notification is a message to one user or, with an empty RecipientID, to
// every user in the tenant.
type Notification struct {
	ID            string    `json:"id"`
	RecipientID   string    `json:"recipient_id,omitempty"`
	TriggeredByID string    `json:"triggered_by_id,omitempty"`
	Message       string    `json:"message"`
	IsRead        bool      `json:"is_read"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"created_at"`
}

// visibleTo reports whether userID may see n.
func (n *Notification) visibleTo(userID string) bool {
	return n.RecipientID == "" || n.RecipientID == userID
}
