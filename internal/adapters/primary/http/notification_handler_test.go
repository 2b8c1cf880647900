package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mw "github.com/lorrc/salon-notifications/internal/adapters/primary/http/middleware"
	"github.com/lorrc/salon-notifications/internal/auth"
	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/mocks"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

func newNotificationRouter(svc ports.NotificationService) (*chi.Mux, *auth.TokenManager) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	errorHandler := NewErrorHandler(logger)
	handler := NewNotificationHandler(svc, errorHandler, logger)
	tokenManager := auth.NewTokenManager("test-secret", time.Hour)

	router := chi.NewRouter()
	router.Use(mw.JWTMiddleware(tokenManager, false))
	router.Route("/notifications", handler.RegisterRoutes)

	return router, tokenManager
}

func doRequest(t *testing.T, router stdhttp.Handler, tm *auth.TokenManager, method, target string, body any, role string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	staffID := ""
	if role == string(domain.RoleStaff) {
		staffID = "s-self"
	}
	token, err := tm.GenerateToken("t1", staffID, role)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func sampleNotification() *domain.Notification {
	return &domain.Notification{
		ID:        "0195c0de-0000-7000-8000-000000000001",
		Type:      domain.TypeNewMessage,
		Title:     "Hi",
		Message:   "hello",
		TenantID:  "t1",
		Priority:  domain.PriorityMedium,
		CreatedAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestNotificationHandler_Send(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("Send", mock.Anything, mock.MatchedBy(func(p ports.SendParams) bool {
			return p.TenantID == "t1" && p.Type == domain.TypeNewMessage && *p.StaffID == "s1"
		})).Return(sampleNotification(), nil)

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/send", map[string]any{
			"type":    "NEW_MESSAGE",
			"title":   "Hi",
			"message": "hello",
			"staffId": "s1",
		}, "MANAGER")

		require.Equal(t, stdhttp.StatusCreated, rec.Code)
		var body struct {
			Success bool                        `json:"success"`
			Data    domain.NotificationSnapshot `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.True(t, body.Success)
		assert.Equal(t, "0195c0de-0000-7000-8000-000000000001", body.Data.ID)
		assert.Equal(t, "2025-03-14T09:00:00Z", body.Data.CreatedAt)
		svc.AssertExpectations(t)
	})

	t.Run("validation error is 400 with fields", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/send", map[string]any{
			"type":     "PROMO",
			"priority": "CRITICAL",
		}, "")

		require.Equal(t, stdhttp.StatusBadRequest, rec.Code)
		var body ValidationErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.False(t, body.Success)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
		assert.Contains(t, body.Fields, "type")
		assert.Contains(t, body.Fields, "title")
		assert.Contains(t, body.Fields, "message")
		assert.Contains(t, body.Fields, "priority")
		svc.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("foreign tenant is forbidden", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/send", map[string]any{
			"type":     "NEW_MESSAGE",
			"title":    "Hi",
			"message":  "hello",
			"tenantId": "t2",
		}, "")

		assert.Equal(t, stdhttp.StatusForbidden, rec.Code)
	})

	t.Run("persistence failure is 500", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("Send", mock.Anything, mock.Anything).
			Return(nil, apperrors.Persistence("create notification", errors.New("db down")))

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/send", map[string]any{
			"type":    "SYSTEM_NOTIFICATION",
			"title":   "Hi",
			"message": "hello",
		}, "")

		require.Equal(t, stdhttp.StatusInternalServerError, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "PERSISTENCE_ERROR", body.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		router, _ := newNotificationRouter(mocks.NewMockNotificationService())

		req := httptest.NewRequest(stdhttp.MethodPost, "/notifications/send", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	})
}

func TestNotificationHandler_List(t *testing.T) {
	t.Run("filters and pagination", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("List", mock.Anything, mock.MatchedBy(func(p ports.ListNotificationsParams) bool {
			return p.Filter.TenantID == "t1" &&
				p.Filter.IsRead != nil && !*p.Filter.IsRead &&
				p.Filter.Type != nil && *p.Filter.Type == domain.TypeNewMessage &&
				p.Filter.StaffID != nil && *p.Filter.StaffID == "s1" &&
				p.Page == 2 && p.PageSize == 10
		})).Return(&ports.NotificationPage{
			Items:      []*domain.Notification{sampleNotification()},
			Page:       2,
			PageSize:   10,
			TotalCount: 11,
		}, nil)

		rec := doRequest(t, router, tm, stdhttp.MethodGet,
			"/notifications?page=2&limit=10&isRead=false&type=NEW_MESSAGE&staffId=s1", nil, "ADMIN")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		var body PaginatedResponse[domain.NotificationSnapshot]
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.True(t, body.Success)
		assert.Len(t, body.Data, 1)
		assert.Equal(t, int64(11), body.Pagination.Total)
		assert.Equal(t, int64(2), body.Pagination.TotalPages)
	})

	t.Run("limit above 100 is rejected", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)

		rec := doRequest(t, router, tm, stdhttp.MethodGet, "/notifications?limit=500", nil, "")

		assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	})

	t.Run("staff tokens only see their own notifications", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("List", mock.Anything, mock.MatchedBy(func(p ports.ListNotificationsParams) bool {
			return p.Filter.StaffID != nil && *p.Filter.StaffID == "s-self"
		})).Return(&ports.NotificationPage{Page: 1, PageSize: 20}, nil)

		rec := doRequest(t, router, tm, stdhttp.MethodGet, "/notifications?staffId=someone-else", nil, "STAFF")

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})
}

func TestNotificationHandler_ReadState(t *testing.T) {
	t.Run("mark read", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("MarkRead", mock.Anything, "t1", "n1").Return(nil)

		rec := doRequest(t, router, tm, stdhttp.MethodPatch, "/notifications/n1/read", nil, "")

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
	})

	t.Run("mark read unknown id is 404", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("MarkRead", mock.Anything, "t1", "missing").Return(apperrors.ErrNotificationNotFound)

		rec := doRequest(t, router, tm, stdhttp.MethodPatch, "/notifications/missing/read", nil, "")

		require.Equal(t, stdhttp.StatusNotFound, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "NOTIFICATION_NOT_FOUND", body.Code)
	})

	t.Run("mark all read", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("MarkAllRead", mock.Anything, "t1", (*string)(nil)).Return(int64(3), nil)

		rec := doRequest(t, router, tm, stdhttp.MethodPatch, "/notifications/read-all", nil, "")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		var body struct {
			Data MarkAllReadDTO `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, int64(3), body.Data.Updated)
	})

	t.Run("unread count", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("CountUnread", mock.Anything, "t1", mock.MatchedBy(func(s *string) bool {
			return s != nil && *s == "s1"
		})).Return(int64(7), nil)

		rec := doRequest(t, router, tm, stdhttp.MethodGet, "/notifications/unread-count?staffId=s1", nil, "")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		var body struct {
			Data UnreadCountDTO `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, int64(7), body.Data.Count)
	})

	t.Run("delete unknown id is 404", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("Delete", mock.Anything, "t1", "missing").Return(apperrors.ErrNotificationNotFound)

		rec := doRequest(t, router, tm, stdhttp.MethodDelete, "/notifications/missing", nil, "")

		assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	})
}

func TestNotificationHandler_Admin(t *testing.T) {
	t.Run("connections", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		role := domain.RoleStaff
		staff := "s1"
		svc.On("ConnectionStats", "t1").Return(domain.ConnectionStats{
			TotalConnections:  5,
			TenantConnections: 1,
			StaffConnections:  1,
			Connections: []domain.Connection{{
				ID:             "c1",
				TenantID:       "t1",
				StaffID:        &staff,
				Role:           &role,
				ConnectedAt:    time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
				LastActivityAt: time.Date(2025, 3, 14, 9, 1, 0, 0, time.UTC),
			}},
		})

		rec := doRequest(t, router, tm, stdhttp.MethodGet, "/notifications/connections", nil, "ADMIN")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		var body struct {
			Data ConnectionStatsDTO `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 5, body.Data.TotalConnections)
		require.Len(t, body.Data.ConnectedUsers, 1)
		assert.Equal(t, "c1", body.Data.ConnectedUsers[0].ConnectionID)
		assert.Equal(t, "STAFF", *body.Data.ConnectedUsers[0].Role)
	})

	t.Run("staff cannot view connections", func(t *testing.T) {
		router, tm := newNotificationRouter(mocks.NewMockNotificationService())

		rec := doRequest(t, router, tm, stdhttp.MethodGet, "/notifications/connections", nil, "STAFF")

		assert.Equal(t, stdhttp.StatusForbidden, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("Stats", mock.Anything, "t1", 30).Return(&domain.NotificationStats{
			Days:       30,
			Since:      time.Date(2025, 2, 13, 0, 0, 0, 0, time.UTC),
			Total:      4,
			Unread:     1,
			ByType:     []domain.TypeCount{{Type: domain.TypeNewMessage, Count: 4}},
			ByPriority: []domain.PriorityCount{{Priority: domain.PriorityHigh, Count: 4}},
			ByDay:      []domain.DailyCount{{Day: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Count: 4}},
		}, nil)

		rec := doRequest(t, router, tm, stdhttp.MethodGet, "/notifications/stats?days=30", nil, "MANAGER")

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		var body struct {
			Data StatsDTO `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "2025-02-13", body.Data.Since)
		assert.Equal(t, "2025-03-01", body.Data.ByDay[0].Date)
		assert.Equal(t, "NEW_MESSAGE", body.Data.ByType[0].Type)
	})

	t.Run("stats days out of range", func(t *testing.T) {
		router, tm := newNotificationRouter(mocks.NewMockNotificationService())

		rec := doRequest(t, router, tm, stdhttp.MethodGet, "/notifications/stats?days=0", nil, "")

		assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	})
}

func TestNotificationHandler_Events(t *testing.T) {
	t.Run("reservation change", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("NotifyReservationChange", mock.Anything, "t1", "r1", domain.ReservationCancelled, (*string)(nil), mock.Anything).Return(nil)

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/events/reservation-change", map[string]any{
			"reservationId": "r1",
			"changeType":    "CANCELLED",
			"staffId":       "s1",
		}, "")

		assert.Equal(t, stdhttp.StatusCreated, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("reservation change rejects unknown type", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/events/reservation-change", map[string]any{
			"reservationId": "r1",
			"changeType":    "MOVED",
		}, "")

		assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	})

	t.Run("new message", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("NotifyNewMessage", mock.Anything, "t1", "th1", "hello there", (*string)(nil)).Return(nil)

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/events/new-message", map[string]any{
			"threadId": "th1",
			"content":  "hello there",
		}, "")

		assert.Equal(t, stdhttp.StatusCreated, rec.Code)
	})

	t.Run("system alert", func(t *testing.T) {
		svc := mocks.NewMockNotificationService()
		router, tm := newNotificationRouter(svc)
		svc.On("NotifySystemAlert", mock.Anything, "t1", "Maintenance", "soon", domain.PriorityUrgent).Return(nil)

		rec := doRequest(t, router, tm, stdhttp.MethodPost, "/notifications/events/system-alert", map[string]any{
			"title":    "Maintenance",
			"message":  "soon",
			"priority": "URGENT",
		}, "ADMIN")

		assert.Equal(t, stdhttp.StatusCreated, rec.Code)
	})
}
