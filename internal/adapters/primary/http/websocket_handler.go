package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lorrc/salon-notifications/internal/adapters/primary/http/middleware"
	wsAdapter "github.com/lorrc/salon-notifications/internal/adapters/primary/websocket"
	"github.com/lorrc/salon-notifications/internal/config"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

// WebSocketHandler upgrades authenticated requests to realtime connections.
// It must be mounted behind middleware.JWTMiddleware with query tokens allowed.
type WebSocketHandler struct {
	hub           *wsAdapter.Hub
	router        ports.RoomRouter
	notifications ports.NotificationService
	clientCfg     wsAdapter.ClientConfig
	upgrader      websocket.Upgrader
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *wsAdapter.Hub,
	router ports.RoomRouter,
	notifications ports.NotificationService,
	cfg *config.Config,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:           hub,
		router:        router,
		notifications: notifications,
		clientCfg: wsAdapter.ClientConfig{
			WriteWait:      wsAdapter.DefaultClientConfig().WriteWait,
			PongWait:       cfg.WebSocket.PongWait,
			PingPeriod:     cfg.WebSocket.PingInterval,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			SendBufferSize: cfg.WebSocket.SendBufferSize,
		},
		logger: logger.With("component", "websocket_handler"),
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if cfg.IsDevelopment() {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		if originAllowed(parsedOrigin.Host, allowedOrigins) {
			return true
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// originAllowed matches a host against exact entries and "*.example.com" wildcards.
func originAllowed(host string, allowed []string) bool {
	for _, entry := range allowed {
		if entry == "*" {
			return true
		}
		if strings.HasPrefix(entry, "*.") {
			suffix := entry[1:]
			if strings.HasSuffix(host, suffix) || host == entry[2:] {
				return true
			}
		} else if host == entry {
			return true
		}
	}
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection",
			"request_id", requestID,
			"tenant_id", claims.TenantID,
			"error", err,
		)
		return
	}

	connectionID := uuid.NewString()
	h.logger.Info("websocket connection established",
		"request_id", requestID,
		"connection_id", connectionID,
		"tenant_id", claims.TenantID,
		"staff_id", claims.StaffID,
		"remote_addr", r.RemoteAddr,
	)

	client := wsAdapter.NewClient(
		connectionID,
		h.hub,
		conn,
		wsAdapter.Session{TenantID: claims.TenantID, StaffID: claims.StaffID, Role: claims.Role},
		h.router,
		h.notifications,
		h.clientCfg,
		h.logger,
	)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
