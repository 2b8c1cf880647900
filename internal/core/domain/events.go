package domain

import "time"

// EventType names a real-time event on the wire.
type EventType string

// Client -> server events.
const (
	EventJoinRoom             EventType = "join_room"
	EventMarkNotificationRead EventType = "mark_notification_read"
	EventPing                 EventType = "ping"
)

// Server -> client events.
const (
	EventRoomJoined             EventType = "room_joined"
	EventUnreadNotifications    EventType = "unread_notifications"
	EventNewNotification        EventType = "new_notification"
	EventNotificationMarkedRead EventType = "notification_marked_read"
	EventPong                   EventType = "pong"
	EventError                  EventType = "error"
	EventDisconnect             EventType = "disconnect"
)

// Event is the payload sent over WebSocket.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// RoomJoinedPayload acknowledges a join handshake.
type RoomJoinedPayload struct {
	RoomName  string  `json:"roomName"`
	TenantID  string  `json:"tenantId"`
	StaffID   *string `json:"staffId"`
	Timestamp string  `json:"timestamp"`
}

// ErrorPayload is emitted when a client event fails.
type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// MarkedReadPayload confirms a mark_notification_read request.
type MarkedReadPayload struct {
	NotificationID string `json:"notificationId"`
}

// DisconnectPayload tells the client why the server is closing the connection.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// NewNotificationEvent wraps a notification for live delivery.
func NewNotificationEvent(n *Notification) Event {
	return Event{Type: EventNewNotification, Payload: NewNotificationSnapshot(n)}
}

// NewUnreadEvent wraps the catch-up batch sent right after a join.
func NewUnreadEvent(items []*Notification) Event {
	snapshots := make([]NotificationSnapshot, 0, len(items))
	for _, n := range items {
		snapshots = append(snapshots, NewNotificationSnapshot(n))
	}
	return Event{Type: EventUnreadNotifications, Payload: snapshots}
}

// NewErrorEvent builds an error event from a message and the underlying error.
func NewErrorEvent(message string, err error) Event {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return Event{Type: EventError, Payload: ErrorPayload{Message: message, Error: detail}}
}

// NotificationSnapshot matches the API response shape for notifications.
type NotificationSnapshot struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	TenantID   string         `json:"tenantId"`
	StaffID    *string        `json:"staffId,omitempty"`
	CustomerID *string        `json:"customerId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Priority   string         `json:"priority"`
	IsRead     bool           `json:"isRead"`
	ReadAt     *string        `json:"readAt,omitempty"`
	CreatedAt  string         `json:"createdAt"`
}

// NewNotificationSnapshot builds a notification snapshot from a domain notification.
func NewNotificationSnapshot(n *Notification) NotificationSnapshot {
	var readAt *string
	if n.ReadAt != nil {
		value := n.ReadAt.UTC().Format(time.RFC3339)
		readAt = &value
	}

	return NotificationSnapshot{
		ID:         n.ID,
		Type:       string(n.Type),
		Title:      n.Title,
		Message:    n.Message,
		TenantID:   n.TenantID,
		StaffID:    n.StaffID,
		CustomerID: n.CustomerID,
		Metadata:   n.Metadata,
		Priority:   string(n.Priority),
		IsRead:     n.IsRead,
		ReadAt:     readAt,
		CreatedAt:  n.CreatedAt.UTC().Format(time.RFC3339),
	}
}
