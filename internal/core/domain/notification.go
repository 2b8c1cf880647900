package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
)

// NotificationType classifies the business event behind a notification.
type NotificationType string

const (
	TypeNewMessage         NotificationType = "NEW_MESSAGE"
	TypeReservationChange  NotificationType = "RESERVATION_CHANGE"
	TypeUrgentAlert        NotificationType = "URGENT_ALERT"
	TypeSystemNotification NotificationType = "SYSTEM_NOTIFICATION"
)

// NotificationTypes lists every accepted type, in display order.
var NotificationTypes = []NotificationType{
	TypeNewMessage,
	TypeReservationChange,
	TypeUrgentAlert,
	TypeSystemNotification,
}

// IsValid reports whether t is a known notification type.
func (t NotificationType) IsValid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority represents the urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Priorities lists every accepted priority, lowest first.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// ReservationChange is the kind of reservation event being announced.
type ReservationChange string

const (
	ReservationCreated   ReservationChange = "CREATED"
	ReservationUpdated   ReservationChange = "UPDATED"
	ReservationCancelled ReservationChange = "CANCELLED"
)

const (
	// MaxTitleLength bounds notification titles.
	MaxTitleLength = 255
	// MessagePreviewLength is the number of characters kept from a chat message.
	MessagePreviewLength = 50
)

// Notification is the persisted notification entity.
type Notification struct {
	ID         string
	Type       NotificationType
	Title      string
	Message    string
	TenantID   string
	StaffID    *string
	CustomerID *string
	Metadata   map[string]any
	Priority   Priority
	IsRead     bool
	ReadAt     *time.Time
	CreatedAt  time.Time
}

// IsTargeted reports whether the notification addresses a single staff member.
func (n *Notification) IsTargeted() bool {
	return n.StaffID != nil && *n.StaffID != ""
}

// NotificationParams holds the caller-provided fields of a new notification.
type NotificationParams struct {
	Type       NotificationType
	Title      string
	Message    string
	TenantID   string
	StaffID    *string
	CustomerID *string
	Metadata   map[string]any
	Priority   Priority
}

// Validate checks every field and reports all violations at once.
func (p *NotificationParams) Validate() error {
	errs := apperrors.NewValidationErrors()

	if p.Type == "" {
		errs.Add("type", "Type is required")
	} else if !p.Type.IsValid() {
		errs.Add("type", apperrors.ErrInvalidNotificationType.Error())
	}

	if strings.TrimSpace(p.Title) == "" {
		errs.Add("title", "Title is required")
	} else if utf8.RuneCountInString(p.Title) > MaxTitleLength {
		errs.Add("title", "Title must be 255 characters or less")
	}

	if strings.TrimSpace(p.Message) == "" {
		errs.Add("message", "Message is required")
	}

	if strings.TrimSpace(p.TenantID) == "" {
		errs.Add("tenantId", "Tenant ID is required")
	}

	if p.Priority != "" && !p.Priority.IsValid() {
		errs.Add("priority", apperrors.ErrInvalidPriority.Error())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// NewNotification validates params and builds an unread notification with a
// fresh id. The id is a UUIDv7: millisecond timestamp prefix plus random bits.
func NewNotification(params NotificationParams, now time.Time) (*Notification, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	priority := params.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	return &Notification{
		ID:         id.String(),
		Type:       params.Type,
		Title:      params.Title,
		Message:    params.Message,
		TenantID:   params.TenantID,
		StaffID:    nonEmpty(params.StaffID),
		CustomerID: nonEmpty(params.CustomerID),
		Metadata:   params.Metadata,
		Priority:   priority,
		IsRead:     false,
		CreatedAt:  now.UTC(),
	}, nil
}

// MarkRead flags the notification as read. Read state never goes back to unread,
// and the first read timestamp is kept.
func (n *Notification) MarkRead(at time.Time) {
	if n.IsRead {
		return
	}
	n.IsRead = true
	readAt := at.UTC()
	n.ReadAt = &readAt
}

// Preview shortens s to max characters, appending "..." when it was cut.
func Preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// NotificationFilter narrows paged listings. Nil fields are not filtered on.
type NotificationFilter struct {
	TenantID string
	StaffID  *string
	IsRead   *bool
	Type     *NotificationType
	Priority *Priority
}
