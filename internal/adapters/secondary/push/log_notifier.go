package push

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

// LogNotifier is a push adapter that only logs. It is used when no push
// provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

var _ ports.PushNotifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "push_notifier", "provider", "log")}
}

// Push logs the notification instead of delivering it.
func (n *LogNotifier) Push(ctx context.Context, notification *domain.Notification) error {
	n.logger.InfoContext(ctx, "push notification (log only)",
		"notification_id", notification.ID,
		"tenant_id", notification.TenantID,
		"staff_id", lo.FromPtr(notification.StaffID),
		"priority", notification.Priority,
		"title", notification.Title,
	)
	return nil
}
