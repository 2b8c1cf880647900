package websocket

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

// ErrSendBufferFull is returned by Emit when a client stopped draining its
// outbound queue. The client is dropped.
var ErrSendBufferFull = errors.New("client send buffer full")

// Hub maintains the set of upgraded clients keyed by connection id.
type Hub struct {
	// clients maps connection IDs to their client
	clients map[string]*Client

	// mu protects the clients map
	mu sync.RWMutex

	logger *slog.Logger
}

// Ensure Hub implements the Transport interface.
var _ ports.Transport = (*Hub)(nil)

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With("component", "websocket_hub"),
	}
}

// Register adds an upgraded client. Registration is synchronous so events
// emitted right after the handshake always find the client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[client.ID]; ok && old != client {
		old.CloseSend()
	}
	h.clients[client.ID] = client

	h.logger.Info("client registered",
		"connection_id", client.ID,
		"tenant_id", client.session.TenantID,
		"total_connections", len(h.clients),
	)
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	client.CloseSend()

	h.logger.Info("client unregistered",
		"connection_id", client.ID,
		"total_connections", remaining,
	)
}

// Emit queues an event for one connection without blocking.
func (h *Hub) Emit(connectionID string, event domain.Event) error {
	client, ok := h.client(connectionID)
	if !ok {
		return apperrors.ErrConnectionNotFound
	}

	if err := client.enqueue(event); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			h.logger.Warn("client send buffer full, unregistering",
				"connection_id", connectionID,
				"event_type", event.Type,
			)
			h.Unregister(client)
		}
		return err
	}
	return nil
}

// Disconnect tells the client why it is being dropped, then closes it.
// Unknown connections are ignored.
func (h *Hub) Disconnect(connectionID string, reason string) error {
	client, ok := h.client(connectionID)
	if !ok {
		return nil
	}

	client.markServerClosed(reason)
	if err := client.enqueue(domain.Event{
		Type:    domain.EventDisconnect,
		Payload: domain.DisconnectPayload{Reason: reason},
	}); err != nil {
		h.logger.Debug("could not queue disconnect event",
			"connection_id", connectionID,
			"error", err,
		)
	}

	h.Unregister(client)
	return nil
}

// Close disconnects every client. Used on shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		_ = h.Disconnect(id, domain.ReasonServerShutdown)
	}
}

// GetClientCount returns the number of upgraded clients, joined or not.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) client(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connectionID]
	return c, ok
}
