package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
	"github.com/lorrc/salon-notifications/internal/infrastructure/logging"
)

// ClientConfig holds the per-connection timing and buffer limits.
type ClientConfig struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Outbound queue length.
	SendBufferSize int
}

// DefaultClientConfig returns the limits used when none are configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: 256,
	}
}

// Session is the identity established by the upgrade request's token.
type Session struct {
	TenantID string
	StaffID  string
	Role     string
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID string

	hub  *Hub
	conn *websocket.Conn
	send chan domain.Event

	session       Session
	router        ports.RoomRouter
	notifications ports.NotificationService
	cfg           ClientConfig

	// mu guards closed and serverReason
	mu           sync.Mutex
	closed       bool
	serverReason string
	closeOnce    sync.Once

	logger *slog.Logger
}

// NewClient creates a new WebSocket client
func NewClient(
	id string,
	hub *Hub,
	conn *websocket.Conn,
	session Session,
	router ports.RoomRouter,
	notifications ports.NotificationService,
	cfg ClientConfig,
	logger *slog.Logger,
) *Client {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultClientConfig().SendBufferSize
	}
	return &Client{
		ID:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan domain.Event, cfg.SendBufferSize),
		session:       session,
		router:        router,
		notifications: notifications,
		cfg:           cfg,
		logger:        logger.With("connection_id", id, "tenant_id", session.TenantID),
	}
}

// CloseSend safely closes the send channel exactly once
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *Client) enqueue(event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrConnectionNotFound
	}

	select {
	case c.send <- event:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) markServerClosed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverReason == "" {
		c.serverReason = reason
	}
}

func (c *Client) leaveReason(readErr error) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverReason != "" {
		return c.serverReason
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return domain.ReasonClientClosed
	}
	return domain.ReasonTransportClosed
}

// ReadPump pumps messages from the websocket connection to the services.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	var readErr error
	defer func() {
		c.router.Leave(c.ID, c.leaveReason(readErr))
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		readErr = err
		return
	}

	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			readErr = err
			return
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel. Send close message.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeJSON(event); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// writeJSON writes a JSON message to the websocket connection
func (c *Client) writeJSON(event domain.Event) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(event); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// ClientMessage is the structure for messages sent from the client.
type ClientMessage struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// JoinRoomPayload is the join_room handshake body.
type JoinRoomPayload struct {
	TenantID string  `json:"tenantId"`
	StaffID  *string `json:"staffId"`
	Role     *string `json:"role"`
}

// handleIncomingMessage processes messages received from the client
func (c *Client) handleIncomingMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		c.reply(domain.NewErrorEvent("Malformed message", err))
		return
	}

	ctx := logging.WithTenantID(context.Background(), c.session.TenantID)

	switch msg.Type {
	case domain.EventJoinRoom:
		c.handleJoin(ctx, msg.Payload)

	case domain.EventPing:
		c.router.RecordActivity(c.ID)
		c.reply(domain.Event{Type: domain.EventPong})

	case domain.EventMarkNotificationRead:
		c.handleMarkRead(ctx, msg.Payload)

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}
}

func (c *Client) handleJoin(ctx context.Context, payload json.RawMessage) {
	var p JoinRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("failed to unmarshal join payload", "error", err)
		c.reply(domain.NewErrorEvent("Failed to join room", err))
		return
	}

	if p.TenantID != "" && p.TenantID != c.session.TenantID {
		c.reply(domain.NewErrorEvent("Failed to join room", apperrors.ErrTenantMismatch))
		return
	}
	if c.session.StaffID != "" && p.StaffID != nil && *p.StaffID != "" && *p.StaffID != c.session.StaffID {
		c.reply(domain.NewErrorEvent("Failed to join room", apperrors.ErrForbidden))
		return
	}

	params := ports.JoinParams{
		ConnectionID: c.ID,
		TenantID:     p.TenantID,
		StaffID:      p.StaffID,
	}
	if params.StaffID == nil && c.session.StaffID != "" {
		staffID := c.session.StaffID
		params.StaffID = &staffID
	}
	if p.Role != nil && *p.Role != "" {
		role := domain.Role(strings.ToUpper(*p.Role))
		params.Role = &role
	}

	if _, err := c.router.Join(ctx, params); err != nil {
		c.logger.Info("join rejected", "error", err)
		c.reply(domain.NewErrorEvent("Failed to join room", err))
	}
}

func (c *Client) handleMarkRead(ctx context.Context, payload json.RawMessage) {
	id, err := notificationIDFrom(payload)
	if err != nil {
		c.reply(domain.NewErrorEvent("Failed to mark notification as read", err))
		return
	}

	if err := c.notifications.MarkRead(ctx, c.session.TenantID, id); err != nil {
		c.logger.Warn("mark read failed", "notification_id", id, "error", err)
		c.reply(domain.NewErrorEvent("Failed to mark notification as read", err))
		return
	}

	c.reply(domain.Event{
		Type:    domain.EventNotificationMarkedRead,
		Payload: domain.MarkedReadPayload{NotificationID: id},
	})
}

// notificationIDFrom accepts either a bare JSON string or {"notificationId": "..."}.
func notificationIDFrom(payload json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", apperrors.ErrNotificationNotFound
	}

	var id string
	if trimmed[0] == '{' {
		var body domain.MarkedReadPayload
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return "", fmt.Errorf("invalid payload: %w", err)
		}
		id = body.NotificationID
	} else if err := json.Unmarshal(trimmed, &id); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return "", apperrors.ErrNotificationNotFound
	}
	return id, nil
}

func (c *Client) reply(event domain.Event) {
	if err := c.hub.Emit(c.ID, event); err != nil && !errors.Is(err, apperrors.ErrConnectionNotFound) {
		c.logger.Debug("dropping reply", "event_type", event.Type, "error", err)
	}
}
