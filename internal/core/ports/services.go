package ports

import (
	"context"
	"time"

	"github.com/lorrc/salon-notifications/internal/core/domain"
)

// Transport pushes events to live client connections.
type Transport interface {
	// Emit queues an event for one connection. Unknown connections return
	// errors.ErrConnectionNotFound.
	Emit(connectionID string, event domain.Event) error
	// Disconnect closes the connection after telling the client why.
	// Closing an unknown connection is a no-op.
	Disconnect(connectionID string, reason string) error
}

// PushNotifier delivers out-of-band push notifications (mobile/desktop).
type PushNotifier interface {
	Push(ctx context.Context, n *domain.Notification) error
}

// ConnectionRegistry tracks joined connections and their routing groups.
type ConnectionRegistry interface {
	Register(conn domain.Connection)
	RecordActivity(connectionID string)
	Leave(connectionID, reason string) bool
	LeaveIfStale(connectionID string, now time.Time, timeout time.Duration) bool
	Get(connectionID string) (domain.Connection, bool)
	ConnectionsForStaff(staffID string) []string
	ConnectionsInRoom(room string) []string
	Snapshot() []domain.Connection
	Stats(tenantID string) domain.ConnectionStats
	Stale(now time.Time, timeout time.Duration) []string
}

// JoinParams is the join_room handshake input.
type JoinParams struct {
	ConnectionID string
	TenantID     string
	StaffID      *string
	Role         *domain.Role
}

// RoomRouter handles the connection lifecycle events of the realtime channel.
type RoomRouter interface {
	Join(ctx context.Context, params JoinParams) (*domain.JoinResult, error)
	RecordActivity(connectionID string)
	Leave(connectionID, reason string)
}

// SendParams is the input for dispatching a notification.
type SendParams = domain.NotificationParams

// ListNotificationsParams defines the input for paged listings.
type ListNotificationsParams struct {
	Filter   domain.NotificationFilter
	Page     int
	PageSize int
}

// NotificationPage is one page of notifications plus the total match count.
type NotificationPage struct {
	Items      []*domain.Notification
	Page       int
	PageSize   int
	TotalCount int64
}

// NotificationService defines the core notification operations.
type NotificationService interface {
	Send(ctx context.Context, params SendParams) (*domain.Notification, error)
	NotifyNewMessage(ctx context.Context, tenantID, threadID, content string, customerID *string) error
	NotifyReservationChange(ctx context.Context, tenantID, reservationID string, change domain.ReservationChange, customerID, staffID *string) error
	NotifySystemAlert(ctx context.Context, tenantID, title, message string, priority domain.Priority) error
	MarkRead(ctx context.Context, tenantID, notificationID string) error
	MarkAllRead(ctx context.Context, tenantID string, staffID *string) (int64, error)
	Delete(ctx context.Context, tenantID, notificationID string) error
	CountUnread(ctx context.Context, tenantID string, staffID *string) (int64, error)
	List(ctx context.Context, params ListNotificationsParams) (*NotificationPage, error)
	Stats(ctx context.Context, tenantID string, days int) (*domain.NotificationStats, error)
	ConnectionStats(tenantID string) domain.ConnectionStats
	Shutdown()
}
