package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	mw "github.com/lorrc/salon-notifications/internal/adapters/primary/http/middleware"
	"github.com/lorrc/salon-notifications/internal/adapters/primary/validation"
	"github.com/lorrc/salon-notifications/internal/auth"
	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
	"github.com/lorrc/salon-notifications/internal/core/services"
)

// NotificationHandler handles HTTP requests for notifications
type NotificationHandler struct {
	notifications ports.NotificationService
	errorHandler  *ErrorHandler
	logger        *slog.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(
	notifications ports.NotificationService,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		errorHandler:  errorHandler,
		logger:        logger.With("handler", "notification"),
	}
}

// RegisterRoutes sets up the routing for all notification endpoints.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/send", h.HandleSend)
	r.Get("/unread-count", h.HandleUnreadCount)
	r.Patch("/read-all", h.HandleMarkAllRead)
	r.Get("/connections", h.HandleConnections)
	r.Get("/stats", h.HandleStats)

	r.Route("/events", func(r chi.Router) {
		r.Post("/new-message", h.HandleNewMessage)
		r.Post("/reservation-change", h.HandleReservationChange)
		r.Post("/system-alert", h.HandleSystemAlert)
	})

	r.Route("/{notificationID}", func(r chi.Router) {
		r.Patch("/read", h.HandleMarkRead)
		r.Delete("/", h.HandleDelete)
	})
}

// --- Request/Response DTOs ---

// SendNotificationRequest defines the expected JSON body for sending a notification.
// TenantID is optional; when present it must match the token.
type SendNotificationRequest struct {
	Type       string         `json:"type" validate:"required,oneof=NEW_MESSAGE RESERVATION_CHANGE URGENT_ALERT SYSTEM_NOTIFICATION"`
	Title      string         `json:"title" validate:"required,max=255"`
	Message    string         `json:"message" validate:"required"`
	TenantID   string         `json:"tenantId"`
	StaffID    *string        `json:"staffId"`
	CustomerID *string        `json:"customerId"`
	Metadata   map[string]any `json:"metadata"`
	Priority   string         `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
}

// NewMessageRequest triggers a NEW_MESSAGE notification.
type NewMessageRequest struct {
	ThreadID   string  `json:"threadId" validate:"required"`
	Content    string  `json:"content" validate:"required"`
	CustomerID *string `json:"customerId"`
}

// ReservationChangeRequest triggers a RESERVATION_CHANGE notification.
type ReservationChangeRequest struct {
	ReservationID string  `json:"reservationId" validate:"required"`
	ChangeType    string  `json:"changeType" validate:"required,oneof=CREATED UPDATED CANCELLED"`
	CustomerID    *string `json:"customerId"`
	StaffID       *string `json:"staffId"`
}

// SystemAlertRequest triggers a tenant-wide SYSTEM_NOTIFICATION.
type SystemAlertRequest struct {
	Title    string `json:"title" validate:"required,max=255"`
	Message  string `json:"message" validate:"required"`
	Priority string `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
}

// UnreadCountDTO is the body of GET /notifications/unread-count
type UnreadCountDTO struct {
	Count int64 `json:"count"`
}

// MarkAllReadDTO is the body of PATCH /notifications/read-all
type MarkAllReadDTO struct {
	Updated int64 `json:"updated"`
}

// ConnectedUserDTO describes one live connection.
type ConnectedUserDTO struct {
	ConnectionID   string  `json:"connectionId"`
	StaffID        *string `json:"staffId"`
	Role           *string `json:"role"`
	ConnectedAt    string  `json:"connectedAt"`
	LastActivityAt string  `json:"lastActivityAt"`
}

// ConnectionStatsDTO is the admin view of live connections.
type ConnectionStatsDTO struct {
	TotalConnections  int                `json:"totalConnections"`
	TenantConnections int                `json:"tenantConnections"`
	StaffConnections  int                `json:"staffConnections"`
	ConnectedUsers    []ConnectedUserDTO `json:"connectedUsers"`
}

type typeCountDTO struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type priorityCountDTO struct {
	Priority string `json:"priority"`
	Count    int64  `json:"count"`
}

type dailyCountDTO struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// StatsDTO is the body of GET /notifications/stats
type StatsDTO struct {
	Days       int                `json:"days"`
	Since      string             `json:"since"`
	Total      int64              `json:"total"`
	Unread     int64              `json:"unread"`
	ByType     []typeCountDTO     `json:"byType"`
	ByPriority []priorityCountDTO `json:"byPriority"`
	ByDay      []dailyCountDTO    `json:"byDay"`
}

func toNotificationDTOs(items []*domain.Notification) []domain.NotificationSnapshot {
	return lo.Map(items, func(n *domain.Notification, _ int) domain.NotificationSnapshot {
		return domain.NewNotificationSnapshot(n)
	})
}

func toConnectionStatsDTO(stats domain.ConnectionStats) ConnectionStatsDTO {
	return ConnectionStatsDTO{
		TotalConnections:  stats.TotalConnections,
		TenantConnections: stats.TenantConnections,
		StaffConnections:  stats.StaffConnections,
		ConnectedUsers: lo.Map(stats.Connections, func(c domain.Connection, _ int) ConnectedUserDTO {
			var role *string
			if c.Role != nil {
				value := string(*c.Role)
				role = &value
			}
			return ConnectedUserDTO{
				ConnectionID:   c.ID,
				StaffID:        c.StaffID,
				Role:           role,
				ConnectedAt:    c.ConnectedAt.UTC().Format(time.RFC3339),
				LastActivityAt: c.LastActivityAt.UTC().Format(time.RFC3339),
			}
		}),
	}
}

func toStatsDTO(stats *domain.NotificationStats) StatsDTO {
	return StatsDTO{
		Days:   stats.Days,
		Since:  stats.Since.UTC().Format(time.DateOnly),
		Total:  stats.Total,
		Unread: stats.Unread,
		ByType: lo.Map(stats.ByType, func(c domain.TypeCount, _ int) typeCountDTO {
			return typeCountDTO{Type: string(c.Type), Count: c.Count}
		}),
		ByPriority: lo.Map(stats.ByPriority, func(c domain.PriorityCount, _ int) priorityCountDTO {
			return priorityCountDTO{Priority: string(c.Priority), Count: c.Count}
		}),
		ByDay: lo.Map(stats.ByDay, func(c domain.DailyCount, _ int) dailyCountDTO {
			return dailyCountDTO{Date: c.Day.UTC().Format(time.DateOnly), Count: c.Count}
		}),
	}
}

// --- Handlers ---

// HandleSend handles POST /notifications/send
func (h *NotificationHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[SendNotificationRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	if req.TenantID != "" && req.TenantID != claims.TenantID {
		h.errorHandler.Handle(w, r, apperrors.ErrTenantMismatch)
		return
	}

	n, err := h.notifications.Send(r.Context(), ports.SendParams{
		Type:       domain.NotificationType(req.Type),
		Title:      req.Title,
		Message:    req.Message,
		TenantID:   claims.TenantID,
		StaffID:    req.StaffID,
		CustomerID: req.CustomerID,
		Metadata:   req.Metadata,
		Priority:   domain.Priority(req.Priority),
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteCreated(w, domain.NewNotificationSnapshot(n))
}

// HandleNewMessage handles POST /notifications/events/new-message
func (h *NotificationHandler) HandleNewMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[NewMessageRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	if err := h.notifications.NotifyNewMessage(r.Context(), claims.TenantID, req.ThreadID, req.Content, req.CustomerID); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, SuccessResponse{Success: true, Message: "Notification sent"})
}

// HandleReservationChange handles POST /notifications/events/reservation-change
func (h *NotificationHandler) HandleReservationChange(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[ReservationChangeRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	err = h.notifications.NotifyReservationChange(
		r.Context(),
		claims.TenantID,
		req.ReservationID,
		domain.ReservationChange(req.ChangeType),
		req.CustomerID,
		req.StaffID,
	)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, SuccessResponse{Success: true, Message: "Notification sent"})
}

// HandleSystemAlert handles POST /notifications/events/system-alert
func (h *NotificationHandler) HandleSystemAlert(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getManagerClaims(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[SystemAlertRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	err = h.notifications.NotifySystemAlert(r.Context(), claims.TenantID, req.Title, req.Message, domain.Priority(req.Priority))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, SuccessResponse{Success: true, Message: "Notification sent"})
}

// HandleList handles GET /notifications
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	v := validation.NewValidator()
	page := validation.ParseIntQueryParam(r, v, "page", 1)
	limit := validation.ParseIntQueryParam(r, v, "limit", services.DefaultPageSize)
	v.Custom("page", page >= 1, "Must be at least 1")
	v.Range("limit", limit, 1, services.MaxPageSize)

	filter := domain.NotificationFilter{
		TenantID: claims.TenantID,
		StaffID:  h.staffScope(claims, validation.ParseStringQueryParam(r, "staffId")),
		IsRead:   validation.ParseBoolQueryParam(r, v, "isRead"),
	}

	if typ := validation.ParseStringQueryParam(r, "type"); typ != nil {
		v.OneOf("type", *typ, lo.Map(domain.NotificationTypes, func(t domain.NotificationType, _ int) string { return string(t) }))
		filter.Type = lo.ToPtr(domain.NotificationType(*typ))
	}
	if prio := validation.ParseStringQueryParam(r, "priority"); prio != nil {
		v.OneOf("priority", *prio, lo.Map(domain.Priorities, func(p domain.Priority, _ int) string { return string(p) }))
		filter.Priority = lo.ToPtr(domain.Priority(*prio))
	}

	if v.HasErrors() {
		h.errorHandler.Handle(w, r, v.Errors())
		return
	}

	result, err := h.notifications.List(r.Context(), ports.ListNotificationsParams{
		Filter:   filter,
		Page:     page,
		PageSize: limit,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WritePaginated(w, toNotificationDTOs(result.Items), result.Page, result.PageSize, result.TotalCount)
}

// HandleUnreadCount handles GET /notifications/unread-count
func (h *NotificationHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	staffID := h.staffScope(claims, validation.ParseStringQueryParam(r, "staffId"))
	count, err := h.notifications.CountUnread(r.Context(), claims.TenantID, staffID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteSuccess(w, UnreadCountDTO{Count: count})
}

// HandleMarkRead handles PATCH /notifications/{notificationID}/read
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	notificationID := chi.URLParam(r, "notificationID")
	if err := h.notifications.MarkRead(r.Context(), claims.TenantID, notificationID); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteMessage(w, "Notification marked as read")
}

// HandleMarkAllRead handles PATCH /notifications/read-all
func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	staffID := h.staffScope(claims, validation.ParseStringQueryParam(r, "staffId"))
	updated, err := h.notifications.MarkAllRead(r.Context(), claims.TenantID, staffID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteSuccess(w, MarkAllReadDTO{Updated: updated})
}

// HandleDelete handles DELETE /notifications/{notificationID}
func (h *NotificationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	notificationID := chi.URLParam(r, "notificationID")
	if err := h.notifications.Delete(r.Context(), claims.TenantID, notificationID); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.logger.Info("notification deleted",
		"notification_id", notificationID,
		"tenant_id", claims.TenantID,
	)

	WriteMessage(w, "Notification deleted")
}

// HandleConnections handles GET /notifications/connections
func (h *NotificationHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getManagerClaims(w, r)
	if !ok {
		return
	}

	WriteSuccess(w, toConnectionStatsDTO(h.notifications.ConnectionStats(claims.TenantID)))
}

// HandleStats handles GET /notifications/stats
func (h *NotificationHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getManagerClaims(w, r)
	if !ok {
		return
	}

	v := validation.NewValidator()
	days := validation.ParseIntQueryParam(r, v, "days", services.DefaultStatsDays)
	v.Range("days", days, 1, services.MaxStatsDays)
	if v.HasErrors() {
		h.errorHandler.Handle(w, r, v.Errors())
		return
	}

	stats, err := h.notifications.Stats(r.Context(), claims.TenantID, days)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteSuccess(w, toStatsDTO(stats))
}

// --- Helpers ---

// getClaims retrieves the token claims from the request context
func (h *NotificationHandler) getClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := mw.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// getManagerClaims rejects staff-role tokens.
func (h *NotificationHandler) getManagerClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return nil, false
	}
	if claims.Role == string(domain.RoleStaff) {
		h.errorHandler.Handle(w, r, apperrors.ErrForbidden)
		return nil, false
	}
	return claims, true
}

// staffScope pins staff-role tokens to their own notifications; other
// tokens use the requested staff filter, if any.
func (h *NotificationHandler) staffScope(claims *auth.Claims, requested *string) *string {
	if claims.Role == string(domain.RoleStaff) && claims.StaffID != "" {
		return claims.StaffIDPtr()
	}
	return requested
}
