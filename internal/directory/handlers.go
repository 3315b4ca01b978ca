package directory

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/tenancy"
	"github.com/mbd888/bakehouse/internal/validation"
)

// Streamer upgrades a request to a live notification stream.
// *realtime.Hub implements it.
type Streamer interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, tenant, userID string)
}

// Handler provides the tenant-scoped HTTP endpoints.
type Handler struct {
	stores   Stores
	service  *Service
	streamer Streamer
}

// NewHandler creates a new directory handler. streamer may be nil.
func NewHandler(stores Stores, service *Service, streamer Streamer) *Handler {
	return &Handler{stores: stores, service: service, streamer: streamer}
}

// RegisterRoutes sets up routes on a group mounted at /tenants/:tenantID
// behind tenancy.RequireTenant.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.GET("/users/:userID", h.GetUser)
	r.POST("/users/:userID/invites", h.InviteUser)
	r.POST("/users/:userID/activate", h.ActivateUser)

	r.GET("/roles", h.ListRoles)
	r.GET("/selections/roles", h.SelectableRoles)
	r.GET("/departments", h.ListDepartments)

	r.POST("/notifications", h.CreateNotification)
	r.GET("/notifications", h.ListNotifications)
	r.GET("/notifications/unread-count", h.UnreadCount)
	r.PATCH("/notifications/read-all", h.MarkAllRead)
	r.PATCH("/notifications/:notificationID/read", h.MarkRead)
	if h.streamer != nil {
		r.GET("/notifications/stream", h.Stream)
	}
}

// store returns the namespace store for the resolved tenant.
func (h *Handler) store(c *gin.Context) (Store, bool) {
	handle, ok := tenancy.HandleFrom(c)
	if !ok {
		apperr.Respond(c, apperr.BadRequest("tenant_required", "Tenant identifier is required"))
		return nil, false
	}
	st, err := h.stores.For(handle)
	if err != nil {
		apperr.Respond(c, apperr.Internal(err))
		return nil, false
	}
	return st, true
}

// ---------- Users ----------

// CreateUser handles POST /tenants/:tenantID/users.
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_request", validation.FromBindError(err).Error()))
		return
	}
	st, ok := h.store(c)
	if !ok {
		return
	}
	u, err := h.service.CreateUser(c.Request.Context(), c.Param("tenantID"), st, req)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusCreated, "User created", u)
}

// ListUsers handles GET /tenants/:tenantID/users.
func (h *Handler) ListUsers(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	users, err := h.service.ListUsers(c.Request.Context(), st)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Users retrieved", users)
}

// GetUser handles GET /tenants/:tenantID/users/:userID.
func (h *Handler) GetUser(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	u, err := h.service.GetUser(c.Request.Context(), st, c.Param("userID"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "User retrieved", u)
}

// InviteUser handles POST /tenants/:tenantID/users/:userID/invites.
func (h *Handler) InviteUser(c *gin.Context) {
	var req InviteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_request", validation.FromBindError(err).Error()))
		return
	}
	st, ok := h.store(c)
	if !ok {
		return
	}
	u, err := h.service.Invite(c.Request.Context(), c.Param("tenantID"), st, c.Param("userID"), req)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusCreated, "Invitation sent", u)
}

// ActivateUser handles POST /tenants/:tenantID/users/:userID/activate.
func (h *Handler) ActivateUser(c *gin.Context) {
	var req struct {
		Password        string `json:"password" binding:"required"`
		ConfirmPassword string `json:"confirm_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_request", "password and confirm_password are required"))
		return
	}
	st, ok := h.store(c)
	if !ok {
		return
	}
	u, err := h.service.Activate(c.Request.Context(), c.Param("tenantID"), st, c.Param("userID"), req.Password, req.ConfirmPassword)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Account activated", u)
}

// ---------- Reference data ----------

// ListRoles handles GET /tenants/:tenantID/roles.
func (h *Handler) ListRoles(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	roles, err := st.ListRoles(c.Request.Context())
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	apperr.OK(c, http.StatusOK, "Roles retrieved", roles)
}

// SelectableRoles handles GET /tenants/:tenantID/selections/roles.
func (h *Handler) SelectableRoles(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	roles, err := h.service.SelectableRoles(c.Request.Context(), st)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Roles retrieved", roles)
}

// ListDepartments handles GET /tenants/:tenantID/departments.
func (h *Handler) ListDepartments(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	departments, err := st.ListDepartments(c.Request.Context())
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	if departments == nil {
		departments = []*Department{}
	}
	apperr.OK(c, http.StatusOK, "Departments retrieved", departments)
}

// ---------- Notifications ----------

// CreateNotification handles POST /tenants/:tenantID/notifications.
func (h *Handler) CreateNotification(c *gin.Context) {
	var req NotificationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.BadRequest("invalid_request", "message is required"))
		return
	}
	st, ok := h.store(c)
	if !ok {
		return
	}
	n, err := h.service.CreateNotification(c.Request.Context(), c.Param("tenantID"), st, req)
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusCreated, "Notification created", n)
}

// ListNotifications handles GET /tenants/:tenantID/notifications?user_id=.
func (h *Handler) ListNotifications(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	items, err := st.ListNotifications(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	if items == nil {
		items = []*Notification{}
	}
	apperr.OK(c, http.StatusOK, "Notifications retrieved", items)
}

// UnreadCount handles GET /tenants/:tenantID/notifications/unread-count?user_id=.
func (h *Handler) UnreadCount(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	n, err := st.UnreadCount(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Unread count retrieved", gin.H{"count": n})
}

// MarkRead handles PATCH /tenants/:tenantID/notifications/:notificationID/read.
func (h *Handler) MarkRead(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	if err := st.MarkRead(c.Request.Context(), c.Param("notificationID")); err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Notification marked as read", nil)
}

// MarkAllRead handles PATCH /tenants/:tenantID/notifications/read-all?user_id=.
func (h *Handler) MarkAllRead(c *gin.Context) {
	st, ok := h.store(c)
	if !ok {
		return
	}
	n, err := st.MarkAllRead(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		apperr.Respond(c, mapError(err))
		return
	}
	apperr.OK(c, http.StatusOK, "Notifications marked as read", gin.H{"updated": n})
}

// Stream handles GET /tenants/:tenantID/notifications/stream?user_id=.
func (h *Handler) Stream(c *gin.Context) {
	h.streamer.HandleWebSocket(c.Writer, c.Request, c.Param("tenantID"), c.Query("user_id"))
}

// mapError classifies directory errors for HTTP callers.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return apperr.Wrap(apperr.KindNotFound, "user_not_found", "User not found", err)
	case errors.Is(err, ErrRoleNotFound):
		return apperr.Wrap(apperr.KindNotFound, "role_not_found", "Role not found", err)
	case errors.Is(err, ErrDepartmentNotFound):
		return apperr.Wrap(apperr.KindNotFound, "department_not_found", "Department not found", err)
	case errors.Is(err, ErrNotificationNotFound):
		return apperr.Wrap(apperr.KindNotFound, "notification_not_found", "Notification not found", err)
	case errors.Is(err, ErrEmailTaken):
		return apperr.Wrap(apperr.KindConflict, "email_taken", "A user with this email already exists", err)
	case errors.Is(err, ErrRoleRequired):
		return apperr.Wrap(apperr.KindBadRequest, "role_required", "role_id is required", err)
	case errors.Is(err, ErrAlreadyActivated):
		return apperr.Wrap(apperr.KindBadRequest, "already_activated", "Account is already activated", err)
	case errors.Is(err, ErrPasswordTooShort):
		return apperr.Wrap(apperr.KindBadRequest, "password_too_short", "Password must be at least 6 characters", err)
	case errors.Is(err, ErrPasswordMismatch):
		return apperr.Wrap(apperr.KindBadRequest, "password_mismatch", "Passwords do not match", err)
	}
	return err
}
