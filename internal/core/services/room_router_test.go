package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/mocks"
	"github.com/lorrc/salon-notifications/internal/core/ports"
	"github.com/lorrc/salon-notifications/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	registry  *services.ConnectionRegistry
	staff     *mocks.MockStaffRepository
	repo      *mocks.MockNotificationRepository
	transport *mocks.RecordingTransport
	router    *services.RoomRouter
}

func newRouterFixture() *routerFixture {
	clock := newFakeClock()
	f := &routerFixture{
		registry:  services.NewConnectionRegistry(clock.Now, testLogger()),
		staff:     mocks.NewMockStaffRepository(),
		repo:      mocks.NewMockNotificationRepository(),
		transport: mocks.NewRecordingTransport(),
	}
	f.router = services.NewRoomRouter(f.registry, f.staff, f.repo, f.transport, 0, clock.Now, testLogger())
	return f
}

func TestRoomRouter_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("tenant only join", func(t *testing.T) {
		f := newRouterFixture()
		f.repo.On("ListUnread", ctx, "t1", (*string)(nil), services.DefaultCatchUpLimit).
			Return([]*domain.Notification{}, nil)

		result, err := f.router.Join(ctx, ports.JoinParams{ConnectionID: "c1", TenantID: "t1"})

		require.NoError(t, err)
		assert.Equal(t, "tenant_t1", result.RoomName)
		assert.Equal(t, []string{"c1"}, f.registry.ConnectionsInRoom("tenant_t1"))

		joined := f.transport.EventsFor("c1", domain.EventRoomJoined)
		require.Len(t, joined, 1)
		payload := joined[0].Payload.(domain.RoomJoinedPayload)
		assert.Equal(t, "tenant_t1", payload.RoomName)
		assert.Equal(t, "t1", payload.TenantID)
		assert.Nil(t, payload.StaffID)

		assert.Empty(t, f.transport.EventsFor("c1", domain.EventUnreadNotifications))
		f.staff.AssertNotCalled(t, "FindActive", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("staff join sends catch-up to the new connection only", func(t *testing.T) {
		f := newRouterFixture()
		f.registry.Register(domain.Connection{ID: "other", TenantID: "t1", StaffID: strPtr("s1")})

		unread := []*domain.Notification{
			{ID: "n2", Type: domain.TypeNewMessage, Title: "b", Message: "b", TenantID: "t1", Priority: domain.PriorityHigh},
			{ID: "n1", Type: domain.TypeNewMessage, Title: "a", Message: "a", TenantID: "t1", Priority: domain.PriorityHigh},
		}
		f.staff.On("FindActive", ctx, "t1", "s1").Return(&domain.Staff{ID: "s1", TenantID: "t1", IsActive: true}, nil)
		f.repo.On("ListUnread", ctx, "t1", mock.MatchedBy(func(s *string) bool {
			return s != nil && *s == "s1"
		}), 50).Return(unread, nil)

		role := domain.RoleStaff
		result, err := f.router.Join(ctx, ports.JoinParams{
			ConnectionID: "c1",
			TenantID:     "t1",
			StaffID:      strPtr("s1"),
			Role:         &role,
		})

		require.NoError(t, err)
		assert.Len(t, result.Unread, 2)
		assert.Equal(t, []string{"c1", "other"}, f.registry.ConnectionsForStaff("s1"))

		catchUp := f.transport.EventsFor("c1", domain.EventUnreadNotifications)
		require.Len(t, catchUp, 1)
		snapshots := catchUp[0].Payload.([]domain.NotificationSnapshot)
		assert.Equal(t, "n2", snapshots[0].ID)
		assert.Empty(t, f.transport.EventsFor("other"))

		f.staff.AssertExpectations(t)
		f.repo.AssertExpectations(t)
	})

	t.Run("inactive staff is rejected and registry unchanged", func(t *testing.T) {
		f := newRouterFixture()
		f.staff.On("FindActive", ctx, "t1", "s1").Return(nil, apperrors.ErrStaffNotFound)

		result, err := f.router.Join(ctx, ports.JoinParams{ConnectionID: "c1", TenantID: "t1", StaffID: strPtr("s1")})

		assert.Nil(t, result)
		require.Error(t, err)
		var verrs *apperrors.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Contains(t, verrs.Errors, "staffId")
		assert.Equal(t, 0, f.registry.Len())
		assert.Empty(t, f.transport.Emitted)
		f.repo.AssertNotCalled(t, "ListUnread", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing tenant is a validation error", func(t *testing.T) {
		f := newRouterFixture()

		_, err := f.router.Join(ctx, ports.JoinParams{ConnectionID: "c1", TenantID: "  "})

		var verrs *apperrors.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Contains(t, verrs.Errors, "tenantId")
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("unknown role is a validation error", func(t *testing.T) {
		f := newRouterFixture()
		role := domain.Role("OWNER")

		_, err := f.router.Join(ctx, ports.JoinParams{ConnectionID: "c1", TenantID: "t1", Role: &role})

		var verrs *apperrors.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Contains(t, verrs.Errors, "role")
	})

	t.Run("staff lookup failure propagates", func(t *testing.T) {
		f := newRouterFixture()
		dbErr := apperrors.Persistence("find staff", errors.New("connection refused"))
		f.staff.On("FindActive", ctx, "t1", "s1").Return(nil, dbErr)

		_, err := f.router.Join(ctx, ports.JoinParams{ConnectionID: "c1", TenantID: "t1", StaffID: strPtr("s1")})

		assert.ErrorIs(t, err, apperrors.ErrPersistence)
		assert.False(t, apperrors.IsValidation(err))
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("catch-up failure does not fail the join", func(t *testing.T) {
		f := newRouterFixture()
		f.repo.On("ListUnread", ctx, "t1", (*string)(nil), 50).
			Return(nil, apperrors.Persistence("list unread", errors.New("timeout")))

		result, err := f.router.Join(ctx, ports.JoinParams{ConnectionID: "c1", TenantID: "t1"})

		require.NoError(t, err)
		assert.Empty(t, result.Unread)
		assert.Equal(t, 1, f.registry.Len())
		assert.Len(t, f.transport.EventsFor("c1", domain.EventRoomJoined), 1)
	})

	t.Run("empty staff id is treated as absent", func(t *testing.T) {
		f := newRouterFixture()
		f.repo.On("ListUnread", ctx, "t1", (*string)(nil), 50).Return([]*domain.Notification{}, nil)

		result, err := f.router.Join(ctx, ports.JoinParams{ConnectionID: "c1", TenantID: "t1", StaffID: strPtr("")})

		require.NoError(t, err)
		assert.Nil(t, result.Connection.StaffID)
		f.staff.AssertNotCalled(t, "FindActive", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRoomRouter_LeaveAndActivity(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})

	f.router.RecordActivity("c1")
	f.router.Leave("c1", domain.ReasonClientClosed)
	f.router.Leave("c1", domain.ReasonClientClosed)

	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.registry.ConnectionsForStaff("s1"))
}
