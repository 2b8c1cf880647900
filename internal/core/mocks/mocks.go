package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockNotificationRepository is a mock implementation of ports.NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{}
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotificationRepository) MarkRead(ctx context.Context, tenantID, id string, at time.Time) error {
	args := m.Called(ctx, tenantID, id, at)
	return args.Error(0)
}

func (m *MockNotificationRepository) CountUnread(ctx context.Context, tenantID string, staffID *string) (int64, error) {
	args := m.Called(ctx, tenantID, staffID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationRepository) ListUnread(ctx context.Context, tenantID string, staffID *string, limit int) ([]*domain.Notification, error) {
	args := m.Called(ctx, tenantID, staffID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Notification), args.Error(1)
}

func (m *MockNotificationRepository) ListPaged(ctx context.Context, filter domain.NotificationFilter, page, pageSize int) ([]*domain.Notification, int64, error) {
	args := m.Called(ctx, filter, page, pageSize)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.Notification), args.Get(1).(int64), args.Error(2)
}

func (m *MockNotificationRepository) MarkAllRead(ctx context.Context, tenantID string, staffID *string, at time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, staffID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationRepository) Delete(ctx context.Context, tenantID, id string) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockNotificationRepository) Stats(ctx context.Context, tenantID string, since time.Time) (*domain.NotificationStats, error) {
	args := m.Called(ctx, tenantID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationStats), args.Error(1)
}

// MockStaffRepository is a mock implementation of ports.StaffRepository
type MockStaffRepository struct {
	mock.Mock
}

func NewMockStaffRepository() *MockStaffRepository {
	return &MockStaffRepository{}
}

func (m *MockStaffRepository) FindActive(ctx context.Context, tenantID, staffID string) (*domain.Staff, error) {
	args := m.Called(ctx, tenantID, staffID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Staff), args.Error(1)
}

// MockPushNotifier is a mock implementation of ports.PushNotifier
type MockPushNotifier struct {
	mock.Mock
}

func NewMockPushNotifier() *MockPushNotifier {
	return &MockPushNotifier{}
}

func (m *MockPushNotifier) Push(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockNotificationService is a mock implementation of ports.NotificationService
type MockNotificationService struct {
	mock.Mock
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) Send(ctx context.Context, params ports.SendParams) (*domain.Notification, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

func (m *MockNotificationService) NotifyNewMessage(ctx context.Context, tenantID, threadID, content string, customerID *string) error {
	args := m.Called(ctx, tenantID, threadID, content, customerID)
	return args.Error(0)
}

func (m *MockNotificationService) NotifyReservationChange(ctx context.Context, tenantID, reservationID string, change domain.ReservationChange, customerID, staffID *string) error {
	args := m.Called(ctx, tenantID, reservationID, change, customerID, staffID)
	return args.Error(0)
}

func (m *MockNotificationService) NotifySystemAlert(ctx context.Context, tenantID, title, message string, priority domain.Priority) error {
	args := m.Called(ctx, tenantID, title, message, priority)
	return args.Error(0)
}

func (m *MockNotificationService) MarkRead(ctx context.Context, tenantID, notificationID string) error {
	args := m.Called(ctx, tenantID, notificationID)
	return args.Error(0)
}

func (m *MockNotificationService) MarkAllRead(ctx context.Context, tenantID string, staffID *string) (int64, error) {
	args := m.Called(ctx, tenantID, staffID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationService) Delete(ctx context.Context, tenantID, notificationID string) error {
	args := m.Called(ctx, tenantID, notificationID)
	return args.Error(0)
}

func (m *MockNotificationService) CountUnread(ctx context.Context, tenantID string, staffID *string) (int64, error) {
	args := m.Called(ctx, tenantID, staffID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationService) List(ctx context.Context, params ports.ListNotificationsParams) (*ports.NotificationPage, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.NotificationPage), args.Error(1)
}

func (m *MockNotificationService) Stats(ctx context.Context, tenantID string, days int) (*domain.NotificationStats, error) {
	args := m.Called(ctx, tenantID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NotificationStats), args.Error(1)
}

func (m *MockNotificationService) ConnectionStats(tenantID string) domain.ConnectionStats {
	args := m.Called(tenantID)
	return args.Get(0).(domain.ConnectionStats)
}

func (m *MockNotificationService) Shutdown() {
	m.Called()
}

// EmittedEvent is one event captured by RecordingTransport.
type EmittedEvent struct {
	ConnectionID string
	Event        domain.Event
}

// RecordingTransport implements ports.Transport in memory. Emit to a
// connection listed in Closed returns ErrConnectionNotFound.
type RecordingTransport struct {
	mu          sync.Mutex
	Emitted     []EmittedEvent
	Disconnects map[string]string
	Closed      map[string]bool
}

func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{
		Disconnects: make(map[string]string),
		Closed:      make(map[string]bool),
	}
}

func (t *RecordingTransport) Emit(connectionID string, event domain.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed[connectionID] {
		return apperrors.ErrConnectionNotFound
	}
	t.Emitted = append(t.Emitted, EmittedEvent{ConnectionID: connectionID, Event: event})
	return nil
}

func (t *RecordingTransport) Disconnect(connectionID string, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Disconnects[connectionID] = reason
	t.Closed[connectionID] = true
	return nil
}

// Close marks a connection as gone so later emits fail.
func (t *RecordingTransport) Close(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed[connectionID] = true
}

// EventsFor returns the events emitted to one connection, optionally
// restricted to a single type.
func (t *RecordingTransport) EventsFor(connectionID string, types ...domain.EventType) []domain.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.Event
	for _, e := range t.Emitted {
		if e.ConnectionID != connectionID {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Event.Type) {
			continue
		}
		out = append(out, e.Event)
	}
	return out
}

// DisconnectReason returns the reason passed to Disconnect, if any.
func (t *RecordingTransport) DisconnectReason(connectionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reason, ok := t.Disconnects[connectionID]
	return reason, ok
}

func containsType(types []domain.EventType, target domain.EventType) bool {
	for _, t := range types {
		if t == target {
			return true
		}
	}
	return false
}
