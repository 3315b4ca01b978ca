package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mbd888/bakehouse/internal/idgen"
	"github.com/mbd888/bakehouse/internal/notify"
)

// Publisher fans newly created notifications out to connected clients.
// *realtime.Hub implements it.
type Publisher interface {
	PublishNotification(tenant, recipientID string, notification any)
}

// Service implements the user and notification workflows of a namespace.
// Every method takes the Store bound to the caller's tenant.
type Service struct {
	sender      notify.Sender
	publisher   Publisher
	frontEndURL string
	hashCost    int
	logger      *slog.Logger
}

// NewService creates a directory service. publisher may be nil.
func NewService(sender notify.Sender, publisher Publisher, frontEndURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = notify.LogSender{Logger: logger}
	}
	return &Service{
		sender:      sender,
		publisher:   publisher,
		frontEndURL: strings.TrimRight(frontEndURL, "/"),
		hashCost:    bcrypt.DefaultCost,
		logger:      logger,
	}
}

// WithHashCost overrides the bcrypt cost.
func (s *Service) WithHashCost(cost int) *Service {
	s.hashCost = cost
	return s
}

// CreateUserInput is the payload for CreateUser.
type CreateUserInput struct {
	FirstName    string `json:"first_name" binding:"required"`
	LastName     string `json:"last_name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	PhoneNumber  string `json:"phone_number"`
	Password     string `json:"password" binding:"required"`
	RoleID       string `json:"role_id"`
	DepartmentID string `json:"department_id"`
}

// CreateUser registers a user. The first user of a tenant becomes its
// manager; later users must name an existing role.
func (s *Service) CreateUser(ctx context.Context, tenantID string, st Store, in CreateUserInput) (*UserView, error) {
	if len(in.Password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if _, err := st.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	count, err := st.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	first := count == 0

	roleID := in.RoleID
	if first {
		role, err := st.GetRoleByName(ctx, ManagerRole)
		if err != nil {
			return nil, fmt.Errorf("manager role: %w", err)
		}
		roleID = role.ID
	} else if err := s.checkAssignment(ctx, st, roleID, in.DepartmentID); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	u := &User{
		ID:           idgen.New(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.TrimSpace(in.Email),
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: string(hash),
		RoleID:       roleID,
		DepartmentID: in.DepartmentID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	if first {
		s.send(ctx, notify.AccountCreated(u.Email, u.FirstName, s.link("/login")))
	} else {
		s.notify(ctx, tenantID, st, &Notification{
			TriggeredByID: u.ID,
			Message:       fmt.Sprintf("%s joined the team", u.FullName()),
			Type:          NotificationUserJoined,
		})
	}
	return &UserView{User: u, Activated: true}, nil
}

// InviteInput is the payload for Invite.
type InviteInput struct {
	FirstName    string `json:"first_name" binding:"required"`
	LastName     string `json:"last_name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	PhoneNumber  string `json:"phone_number"`
	RoleID       string `json:"role_id"`
	DepartmentID string `json:"department_id"`
}

// Invite records a passwordless user invited by inviterID and emails an
// activation link.
func (s *Service) Invite(ctx context.Context, tenantID string, st Store, inviterID string, in InviteInput) (*UserView, error) {
	inviter, err := st.GetUser(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	if _, err := st.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if err := s.checkAssignment(ctx, st, in.RoleID, in.DepartmentID); err != nil {
		return nil, err
	}

	now := time.Now()
	u := &User{
		ID:           idgen.New(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.TrimSpace(in.Email),
		PhoneNumber:  in.PhoneNumber,
		RoleID:       in.RoleID,
		DepartmentID: in.DepartmentID,
		InvitedByID:  inviter.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	link := s.link(fmt.Sprintf("/tenants/%s/activate/%s", tenantID, u.ID))
	s.send(ctx, notify.Activation(u.Email, u.FirstName, inviter.FullName(), link))
	return &UserView{User: u, InvitedBy: summarize(inviter)}, nil
}

// Activate sets the password of an invited user.
func (s *Service) Activate(ctx context.Context, tenantID string, st Store, userID, password, confirm string) (*UserView, error) {
	if len(password) < MinPasswordLength || len(confirm) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if password != confirm {
		return nil, ErrPasswordMismatch
	}
	u, err := st.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Activated() {
		return nil, ErrAlreadyActivated
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := st.SetPassword(ctx, userID, string(hash)); err != nil {
		return nil, err
	}
	u.PasswordHash = string(hash)

	if u.InvitedByID != "" {
		s.notify(ctx, tenantID, st, &Notification{
			RecipientID:   u.InvitedByID,
			TriggeredByID: u.ID,
			Message:       fmt.Sprintf("%s accepted your invitation", u.FullName()),
			Type:          NotificationInviteAccepted,
		})
	}
	return s.view(ctx, st, u, nil), nil
}

// GetUser returns a user with its inviter resolved one level deep.
func (s *Service) GetUser(ctx context.Context, st Store, id string) (*UserView, error) {
	u, err := st.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, st, u, nil), nil
}

// ListUsers returns every user with inviters resolved one level deep.
func (s *Service) ListUsers(ctx context.Context, st Store) ([]*UserView, error) {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]*UserView, 0, len(users))
	for _, u := range users {
		out = append(out, s.view(ctx, st, u, byID))
	}
	return out, nil
}

// SelectableRoles lists the roles that can be assigned to new users.
func (s *Service) SelectableRoles(ctx context.Context, st Store) ([]*Role, error) {
	roles, err := st.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(roles))
	for _, r := range roles {
		if r.Name != ManagerRole {
			out = append(out, r)
		}
	}
	return out, nil
}

// NotificationInput is the payload for CreateNotification.
type NotificationInput struct {
	RecipientID   string `json:"recipient_id"`
	TriggeredByID string `json:"triggered_by_id"`
	Message       string `json:"message" binding:"required"`
	Type          string `json:"type"`
}

// CreateNotification stores a notification and pushes it to live clients.
// An empty RecipientID broadcasts to the whole tenant.
func (s *Service) CreateNotification(ctx context.Context, tenantID string, st Store, in NotificationInput) (*Notification, error) {
	if in.RecipientID != "" {
		if _, err := st.GetUser(ctx, in.RecipientID); err != nil {
			return nil, err
		}
	}
	n := &Notification{
		RecipientID:   in.RecipientID,
		TriggeredByID: in.TriggeredByID,
		Message:       in.Message,
		Type:          in.Type,
	}
	if err := s.store(ctx, tenantID, st, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) checkAssignment(ctx context.Context, st Store, roleID, departmentID string) error {
	if roleID == "" {
		return ErrRoleRequired
	}
	if _, err := st.GetRole(ctx, roleID); err != nil {
		return err
	}
	if departmentID != "" {
		if _, err := st.GetDepartment(ctx, departmentID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) view(ctx context.Context, st Store, u *User, known map[string]*User) *UserView {
	v := &UserView{User: u, Activated: u.Activated()}
	if u.InvitedByID == "" {
		return v
	}
	inviter, ok := known[u.InvitedByID]
	if !ok {
		var err error
		inviter, err = st.GetUser(ctx, u.InvitedByID)
		if err != nil {
			s.logger.Warn("inviter lookup failed", "user_id", u.ID, "invited_by", u.InvitedByID, "error", err)
			return v
		}
	}
	v.InvitedBy = summarize(inviter)
	return v
}

func summarize(u *User) *UserSummary {
	return &UserSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
}

func (s *Service) store(ctx context.Context, tenantID string, st Store, n *Notification) error {
	n.ID = idgen.New()
	n.CreatedAt = time.Now()
	if n.Type == "" {
		n.Type = NotificationGeneral
	}
	if err := st.CreateNotification(ctx, n); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.PublishNotification(tenantID, n.RecipientID, n)
	}
	return nil
}

// notify stores a system notification; failures are logged only.
func (s *Service) notify(ctx context.Context, tenantID string, st Store, n *Notification) {
	if err := s.store(ctx, tenantID, st, n); err != nil {
		s.logger.Warn("notification not stored", "tenant_id", tenantID, "type", n.Type, "error", err)
	}
}

// send delivers an email; failures are logged only.
func (s *Service) send(ctx context.Context, msg notify.Message) {
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Error("email delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
	}
}

func (s *Service) link(path string) string {
	return s.frontEndURL + path
}
