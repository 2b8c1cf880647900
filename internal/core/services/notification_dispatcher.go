package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

const (
	DefaultPageSize  = 20
	MaxPageSize      = 100
	DefaultStatsDays = 7
	MaxStatsDays     = 365
)

// DispatcherOptions tunes the dispatcher. Zero values disable the deadlines.
type DispatcherOptions struct {
	PersistTimeout time.Duration
	PushTimeout    time.Duration
	Clock          Clock
}

// NotificationDispatcher persists notifications and delivers them to live
// connections. Live delivery is best effort; persistence is not.
type NotificationDispatcher struct {
	repo      ports.NotificationRepository
	registry  ports.ConnectionRegistry
	transport ports.Transport
	pusher    ports.PushNotifier
	opts      DispatcherOptions
	now       Clock
	logger    *slog.Logger
	wg        sync.WaitGroup
}

var _ ports.NotificationService = (*NotificationDispatcher)(nil)

// NewNotificationDispatcher creates a dispatcher. pusher may be nil, in which
// case URGENT notifications are only delivered live.
func NewNotificationDispatcher(
	repo ports.NotificationRepository,
	registry ports.ConnectionRegistry,
	transport ports.Transport,
	pusher ports.PushNotifier,
	opts DispatcherOptions,
	logger *slog.Logger,
) *NotificationDispatcher {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &NotificationDispatcher{
		repo:      repo,
		registry:  registry,
		transport: transport,
		pusher:    pusher,
		opts:      opts,
		now:       now,
		logger:    logger.With("component", "notification_dispatcher"),
	}
}

// Send validates, persists and then delivers a notification. A persistence
// failure aborts the call before any delivery.
func (d *NotificationDispatcher) Send(ctx context.Context, params ports.SendParams) (*domain.Notification, error) {
	n, err := domain.NewNotification(params, d.now())
	if err != nil {
		return nil, err
	}

	if err := d.persist(ctx, n); err != nil {
		d.logger.Error("failed to persist notification",
			"tenant_id", n.TenantID,
			"type", n.Type,
			"error", err,
		)
		return nil, err
	}

	delivered := d.deliver(n)

	if n.Priority == domain.PriorityUrgent && d.pusher != nil {
		d.wg.Add(1)
		go d.push(ctx, n)
	}

	d.logger.Info("notification sent",
		"notification_id", n.ID,
		"tenant_id", n.TenantID,
		"staff_id", lo.FromPtr(n.StaffID),
		"type", n.Type,
		"priority", n.Priority,
		"delivered", delivered,
	)
	return n, nil
}

func (d *NotificationDispatcher) persist(ctx context.Context, n *domain.Notification) error {
	if d.opts.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.PersistTimeout)
		defer cancel()
	}
	if err := d.repo.Create(ctx, n); err != nil {
		if errors.Is(err, apperrors.ErrPersistence) {
			return err
		}
		return apperrors.Persistence("create notification", err)
	}
	return nil
}

// deliver emits the notification to its audience and returns the number of
// connections that accepted it.
func (d *NotificationDispatcher) deliver(n *domain.Notification) int {
	var targets []string
	if n.IsTargeted() {
		targets = d.registry.ConnectionsForStaff(*n.StaffID)
	} else {
		targets = d.registry.ConnectionsInRoom(domain.TenantRoom(n.TenantID))
	}

	if len(targets) == 0 {
		d.logger.Info("no live recipients",
			"notification_id", n.ID,
			"tenant_id", n.TenantID,
			"staff_id", lo.FromPtr(n.StaffID),
		)
		return 0
	}

	event := domain.NewNotificationEvent(n)
	delivered := 0
	for _, id := range targets {
		if err := d.transport.Emit(id, event); err != nil {
			d.logger.Info("live delivery failed",
				"notification_id", n.ID,
				"connection_id", id,
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// push runs in the background. Failures are logged, never returned.
func (d *NotificationDispatcher) push(ctx context.Context, n *domain.Notification) {
	defer d.wg.Done()

	ctx = context.WithoutCancel(ctx)
	if d.opts.PushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.PushTimeout)
		defer cancel()
	}

	if err := d.pusher.Push(ctx, n); err != nil {
		d.logger.Info("push notification failed",
			"notification_id", n.ID,
			"tenant_id", n.TenantID,
			"error", err,
		)
	}
}

// NotifyNewMessage announces an incoming chat message with a short preview.
func (d *NotificationDispatcher) NotifyNewMessage(ctx context.Context, tenantID, threadID, content string, customerID *string) error {
	_, err := d.Send(ctx, ports.SendParams{
		Type:       domain.TypeNewMessage,
		Title:      "New message",
		Message:    domain.Preview(content, domain.MessagePreviewLength),
		TenantID:   tenantID,
		CustomerID: customerID,
		Priority:   domain.PriorityHigh,
		Metadata: map[string]any{
			"threadId":   threadID,
			"customerId": lo.FromPtr(customerID),
		},
	})
	return err
}

var reservationCopy = map[domain.ReservationChange]struct{ title, message string }{
	domain.ReservationCreated:   {"New reservation", "A new reservation has been created"},
	domain.ReservationUpdated:   {"Reservation updated", "A reservation has been updated"},
	domain.ReservationCancelled: {"Reservation cancelled", "A reservation has been cancelled"},
}

// NotifyReservationChange announces a reservation lifecycle event.
func (d *NotificationDispatcher) NotifyReservationChange(
	ctx context.Context,
	tenantID, reservationID string,
	change domain.ReservationChange,
	customerID, staffID *string,
) error {
	text, ok := reservationCopy[change]
	if !ok {
		errs := apperrors.NewValidationErrors()
		errs.Add("changeType", apperrors.ErrInvalidChangeType.Error())
		return errs
	}

	priority := domain.PriorityMedium
	if change == domain.ReservationCancelled {
		priority = domain.PriorityHigh
	}

	_, err := d.Send(ctx, ports.SendParams{
		Type:       domain.TypeReservationChange,
		Title:      text.title,
		Message:    text.message,
		TenantID:   tenantID,
		StaffID:    staffID,
		CustomerID: customerID,
		Priority:   priority,
		Metadata: map[string]any{
			"reservationId": reservationID,
			"changeType":    string(change),
			"customerId":    lo.FromPtr(customerID),
		},
	})
	return err
}

// NotifySystemAlert broadcasts a system notification to the tenant.
func (d *NotificationDispatcher) NotifySystemAlert(ctx context.Context, tenantID, title, message string, priority domain.Priority) error {
	_, err := d.Send(ctx, ports.SendParams{
		Type:     domain.TypeSystemNotification,
		Title:    title,
		Message:  message,
		TenantID: tenantID,
		Priority: priority,
	})
	return err
}

// MarkRead flags a notification of the tenant as read. Unknown ids, and ids
// owned by another tenant, return ErrNotificationNotFound.
func (d *NotificationDispatcher) MarkRead(ctx context.Context, tenantID, notificationID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return apperrors.ErrTenantRequired
	}
	if strings.TrimSpace(notificationID) == "" {
		return apperrors.ErrNotificationNotFound
	}
	if err := d.repo.MarkRead(ctx, tenantID, notificationID, d.now().UTC()); err != nil {
		return err
	}
	d.logger.Debug("notification marked read", "notification_id", notificationID, "tenant_id", tenantID)
	return nil
}

// MarkAllRead flags every unread notification in scope and returns the count.
func (d *NotificationDispatcher) MarkAllRead(ctx context.Context, tenantID string, staffID *string) (int64, error) {
	if strings.TrimSpace(tenantID) == "" {
		return 0, apperrors.ErrTenantRequired
	}
	updated, err := d.repo.MarkAllRead(ctx, tenantID, nonEmptyPtr(staffID), d.now().UTC())
	if err != nil {
		return 0, err
	}
	d.logger.Info("notifications marked read",
		"tenant_id", tenantID,
		"staff_id", lo.FromPtr(staffID),
		"updated", updated,
	)
	return updated, nil
}

// Delete removes a notification of the tenant.
func (d *NotificationDispatcher) Delete(ctx context.Context, tenantID, notificationID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return apperrors.ErrTenantRequired
	}
	if strings.TrimSpace(notificationID) == "" {
		return apperrors.ErrNotificationNotFound
	}
	return d.repo.Delete(ctx, tenantID, notificationID)
}

// CountUnread returns the number of unread notifications in scope.
func (d *NotificationDispatcher) CountUnread(ctx context.Context, tenantID string, staffID *string) (int64, error) {
	if strings.TrimSpace(tenantID) == "" {
		return 0, apperrors.ErrTenantRequired
	}
	return d.repo.CountUnread(ctx, tenantID, nonEmptyPtr(staffID))
}

// List returns one page of notifications, newest first.
func (d *NotificationDispatcher) List(ctx context.Context, params ports.ListNotificationsParams) (*ports.NotificationPage, error) {
	if strings.TrimSpace(params.Filter.TenantID) == "" {
		return nil, apperrors.ErrTenantRequired
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	filter := params.Filter
	filter.StaffID = nonEmptyPtr(filter.StaffID)

	items, total, err := d.repo.ListPaged(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &ports.NotificationPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}, nil
}

// Stats aggregates the tenant's notifications over the last days days.
func (d *NotificationDispatcher) Stats(ctx context.Context, tenantID string, days int) (*domain.NotificationStats, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.ErrTenantRequired
	}
	if days == 0 {
		days = DefaultStatsDays
	}
	if days < 1 || days > MaxStatsDays {
		errs := apperrors.NewValidationErrors()
		errs.Add("days", fmt.Sprintf("Days must be between 1 and %d", MaxStatsDays))
		return nil, errs
	}

	since := d.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	stats, err := d.repo.Stats(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	stats.Since = since
	stats.Days = days
	return stats, nil
}

// ConnectionStats reports the live connections of a tenant.
func (d *NotificationDispatcher) ConnectionStats(tenantID string) domain.ConnectionStats {
	return d.registry.Stats(tenantID)
}

// Shutdown waits for in-flight push calls to finish.
func (d *NotificationDispatcher) Shutdown() {
	d.wg.Wait()
}
