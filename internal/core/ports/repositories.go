package ports

import (
	"context"
	"time"

	"github.com/lorrc/salon-notifications/internal/core/domain"
)

// NotificationRepository is the persistence gateway for notifications.
// Storage failures are wrapped with errors.ErrPersistence; unknown ids
// return errors.ErrNotificationNotFound.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	MarkRead(ctx context.Context, tenantID, id string, at time.Time) error
	CountUnread(ctx context.Context, tenantID string, staffID *string) (int64, error)
	ListUnread(ctx context.Context, tenantID string, staffID *string, limit int) ([]*domain.Notification, error)
	ListPaged(ctx context.Context, filter domain.NotificationFilter, page, pageSize int) ([]*domain.Notification, int64, error)
	MarkAllRead(ctx context.Context, tenantID string, staffID *string, at time.Time) (int64, error)
	Delete(ctx context.Context, tenantID, id string) error
	Stats(ctx context.Context, tenantID string, since time.Time) (*domain.NotificationStats, error)
}

// StaffRepository resolves staff identities for the join handshake.
type StaffRepository interface {
	// FindActive returns errors.ErrStaffNotFound when the staff member does not
	// exist in the tenant or is inactive.
	FindActive(ctx context.Context, tenantID, staffID string) (*domain.Staff, error)
}
