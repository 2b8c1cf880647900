package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

// DefaultCatchUpLimit is the number of unread notifications pushed after a join.
const DefaultCatchUpLimit = 50

// RoomRouter runs the join handshake and forwards lifecycle events to the registry.
type RoomRouter struct {
	registry     ports.ConnectionRegistry
	staff        ports.StaffRepository
	notifRepo    ports.NotificationRepository
	transport    ports.Transport
	catchUpLimit int
	now          Clock
	logger       *slog.Logger
}

var _ ports.RoomRouter = (*RoomRouter)(nil)

// NewRoomRouter creates a router. A non-positive catchUpLimit uses DefaultCatchUpLimit.
func NewRoomRouter(
	registry ports.ConnectionRegistry,
	staff ports.StaffRepository,
	notifRepo ports.NotificationRepository,
	transport ports.Transport,
	catchUpLimit int,
	clock Clock,
	logger *slog.Logger,
) *RoomRouter {
	if catchUpLimit <= 0 {
		catchUpLimit = DefaultCatchUpLimit
	}
	if clock == nil {
		clock = time.Now
	}
	return &RoomRouter{
		registry:     registry,
		staff:        staff,
		notifRepo:    notifRepo,
		transport:    transport,
		catchUpLimit: catchUpLimit,
		now:          clock,
		logger:       logger.With("component", "room_router"),
	}
}

// Join validates the handshake, registers the connection, acknowledges it and
// sends the unread catch-up batch. On failure the registry is left untouched.
func (r *RoomRouter) Join(ctx context.Context, params ports.JoinParams) (*domain.JoinResult, error) {
	if err := r.validateJoin(ctx, params); err != nil {
		return nil, err
	}

	staffID := nonEmptyPtr(params.StaffID)
	now := r.now()
	conn := domain.Connection{
		ID:             params.ConnectionID,
		TenantID:       params.TenantID,
		StaffID:        staffID,
		Role:           params.Role,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	r.registry.Register(conn)

	room := domain.TenantRoom(conn.TenantID)
	result := &domain.JoinResult{Connection: conn, RoomName: room}

	ack := domain.Event{
		Type: domain.EventRoomJoined,
		Payload: domain.RoomJoinedPayload{
			RoomName:  room,
			TenantID:  conn.TenantID,
			StaffID:   staffID,
			Timestamp: now.UTC().Format(time.RFC3339),
		},
	}
	if err := r.transport.Emit(conn.ID, ack); err != nil {
		r.logger.Info("room_joined not delivered", "connection_id", conn.ID, "error", err)
	}

	unread, err := r.notifRepo.ListUnread(ctx, conn.TenantID, staffID, r.catchUpLimit)
	if err != nil {
		r.logger.Error("catch-up query failed",
			"connection_id", conn.ID,
			"tenant_id", conn.TenantID,
			"error", err,
		)
		return result, nil
	}
	result.Unread = unread

	if len(unread) > 0 {
		if err := r.transport.Emit(conn.ID, domain.NewUnreadEvent(unread)); err != nil {
			r.logger.Info("catch-up not delivered", "connection_id", conn.ID, "error", err)
		}
	}

	r.logger.Debug("join completed",
		"connection_id", conn.ID,
		"tenant_id", conn.TenantID,
		"staff_id", lo.FromPtr(staffID),
		"unread", len(unread),
	)
	return result, nil
}

func (r *RoomRouter) validateJoin(ctx context.Context, params ports.JoinParams) error {
	errs := apperrors.NewValidationErrors()

	if strings.TrimSpace(params.ConnectionID) == "" {
		errs.Add("connectionId", "Connection ID is required")
	}
	if strings.TrimSpace(params.TenantID) == "" {
		errs.Add("tenantId", apperrors.ErrTenantRequired.Error())
	}
	if params.Role != nil && !params.Role.IsValid() {
		errs.Add("role", "Role must be one of ADMIN, MANAGER, STAFF")
	}
	if errs.HasErrors() {
		return errs
	}

	staffID := nonEmptyPtr(params.StaffID)
	if staffID == nil {
		return nil
	}

	if _, err := r.staff.FindActive(ctx, params.TenantID, *staffID); err != nil {
		if errors.Is(err, apperrors.ErrStaffNotFound) {
			errs.Add("staffId", "Invalid staff ID or staff is inactive")
			return errs
		}
		return err
	}
	return nil
}

// RecordActivity marks a connection as alive.
func (r *RoomRouter) RecordActivity(connectionID string) {
	r.registry.RecordActivity(connectionID)
}

// Leave removes a connection from the registry.
func (r *RoomRouter) Leave(connectionID, reason string) {
	r.registry.Leave(connectionID, reason)
}

func nonEmptyPtr(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
