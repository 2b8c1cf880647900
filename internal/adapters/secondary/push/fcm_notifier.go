package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

// MessageSender is the part of the FCM messaging client the notifier uses.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier publishes notifications to FCM topics. Devices of a salon
// subscribe to "<prefix><tenantId>", and each staff device additionally to
// "<prefix><tenantId>_<staffId>" for messages addressed to that person.
type FCMNotifier struct {
	sender      MessageSender
	topicPrefix string
	logger      *slog.Logger
}

var _ ports.PushNotifier = (*FCMNotifier)(nil)

// NewFCMNotifier initializes the Firebase app from a service account file.
func NewFCMNotifier(ctx context.Context, credentialsFile, topicPrefix string, logger *slog.Logger) (*FCMNotifier, error) {
	if credentialsFile == "" {
		return nil, errors.New("fcm credentials file is required")
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init fcm messaging client: %w", err)
	}
	return NewFCMNotifierWithSender(client, topicPrefix, logger), nil
}

// NewFCMNotifierWithSender builds a notifier around an existing sender.
func NewFCMNotifierWithSender(sender MessageSender, topicPrefix string, logger *slog.Logger) *FCMNotifier {
	return &FCMNotifier{
		sender:      sender,
		topicPrefix: topicPrefix,
		logger:      logger.With("component", "push_notifier", "provider", "fcm"),
	}
}

// Push sends one high-priority message to the staff topic when the
// notification is targeted, and to the tenant topic otherwise.
func (n *FCMNotifier) Push(ctx context.Context, notification *domain.Notification) error {
	msg := n.buildMessage(notification)

	messageID, err := n.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}

	n.logger.InfoContext(ctx, "push notification sent",
		"notification_id", notification.ID,
		"topic", msg.Topic,
		"message_id", messageID,
	)
	return nil
}

func (n *FCMNotifier) buildMessage(notification *domain.Notification) *messaging.Message {
	data := map[string]string{
		"notificationId": notification.ID,
		"type":           string(notification.Type),
		"priority":       string(notification.Priority),
		"tenantId":       notification.TenantID,
		"createdAt":      notification.CreatedAt.UTC().Format(time.RFC3339),
	}
	if notification.StaffID != nil {
		data["staffId"] = *notification.StaffID
	}

	return &messaging.Message{
		Topic: n.topicFor(notification),
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Message,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
}

func (n *FCMNotifier) topicFor(notification *domain.Notification) string {
	topic := n.topicPrefix + topicSafe(notification.TenantID)
	if notification.IsTargeted() {
		topic += "_" + topicSafe(*notification.StaffID)
	}
	return topic
}

// topicSafe maps an id onto the FCM topic alphabet [a-zA-Z0-9-_.~%].
func topicSafe(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '~', r == '%':
			return r
		}
		return '_'
	}, id)
}

// IsPermanent reports whether retrying a failed send cannot help.
func IsPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errorutils.IsInvalidArgument(err) ||
		errorutils.IsPermissionDenied(err) ||
		errorutils.IsUnauthenticated(err) ||
		errorutils.IsNotFound(err)
}
