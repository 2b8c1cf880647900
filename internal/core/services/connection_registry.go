package services

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

type connectionSet map[string]struct{}

// ConnectionRegistry holds every joined connection, the staff index and room
// membership. A connection id appears in the staff index and rooms only while
// it is present in the connection map; empty sets are removed.
type ConnectionRegistry struct {
	connections map[string]*domain.Connection
	byStaff     map[string]connectionSet
	rooms       map[string]connectionSet

	// mu protects all three maps
	mu sync.RWMutex

	now    Clock
	logger *slog.Logger
}

var _ ports.ConnectionRegistry = (*ConnectionRegistry)(nil)

// NewConnectionRegistry creates an empty registry. A nil clock uses time.Now.
func NewConnectionRegistry(clock Clock, logger *slog.Logger) *ConnectionRegistry {
	if clock == nil {
		clock = time.Now
	}
	return &ConnectionRegistry{
		connections: make(map[string]*domain.Connection),
		byStaff:     make(map[string]connectionSet),
		rooms:       make(map[string]connectionSet),
		now:         clock,
		logger:      logger.With("component", "connection_registry"),
	}
}

// Register records a joined connection and adds it to its tenant room and,
// when a staff identity is present, to the staff room and index. Joining again
// with the same id replaces the previous registration.
func (r *ConnectionRegistry) Register(conn domain.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID]; exists {
		r.removeLocked(conn.ID)
	}

	now := r.now()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	if conn.LastActivityAt.IsZero() {
		conn.LastActivityAt = conn.ConnectedAt
	}

	r.connections[conn.ID] = &conn
	r.addToSet(r.rooms, domain.TenantRoom(conn.TenantID), conn.ID)

	if conn.HasStaff() {
		r.addToSet(r.byStaff, *conn.StaffID, conn.ID)
		r.addToSet(r.rooms, domain.StaffRoom(*conn.StaffID), conn.ID)
	}

	r.logger.Info("connection registered",
		"connection_id", conn.ID,
		"tenant_id", conn.TenantID,
		"staff_id", lo.FromPtr(conn.StaffID),
		"total_connections", len(r.connections),
	)
}

// RecordActivity refreshes the liveness timestamp. Unknown ids are ignored.
func (r *ConnectionRegistry) RecordActivity(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[connectionID]; ok {
		conn.LastActivityAt = r.now()
	}
}

// Leave removes a connection. It returns false when the id was not registered.
func (r *ConnectionRegistry) Leave(connectionID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return false
	}
	r.removeLocked(connectionID)

	r.logger.Info("connection left",
		"connection_id", connectionID,
		"tenant_id", conn.TenantID,
		"staff_id", lo.FromPtr(conn.StaffID),
		"reason", reason,
	)
	return true
}

// LeaveIfStale removes a connection only if it is still silent for longer
// than timeout at now. The check and the removal share one critical section,
// so activity recorded after a Stale scan keeps the connection alive.
func (r *ConnectionRegistry) LeaveIfStale(connectionID string, now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok || now.Sub(conn.LastActivityAt) <= timeout {
		return false
	}
	r.removeLocked(connectionID)

	r.logger.Info("connection left",
		"connection_id", connectionID,
		"tenant_id", conn.TenantID,
		"staff_id", lo.FromPtr(conn.StaffID),
		"reason", domain.ReasonInactive,
	)
	return true
}

// Get returns a copy of the connection metadata.
func (r *ConnectionRegistry) Get(connectionID string) (domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return domain.Connection{}, false
	}
	return *conn, true
}

// ConnectionsForStaff returns the live connection ids of a staff member.
func (r *ConnectionRegistry) ConnectionsForStaff(staffID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.byStaff[staffID])
}

// ConnectionsInRoom returns the connection ids currently in a room.
func (r *ConnectionRegistry) ConnectionsInRoom(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.rooms[room])
}

// Snapshot copies every registered connection, oldest first.
func (r *ConnectionRegistry) Snapshot() []domain.Connection {
	r.mu.RLock()
	conns := lo.MapToSlice(r.connections, func(_ string, c *domain.Connection) domain.Connection {
		return *c
	})
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
	return conns
}

// Stats summarises the live connections of one tenant.
func (r *ConnectionRegistry) Stats(tenantID string) domain.ConnectionStats {
	all := r.Snapshot()
	tenantConns := lo.Filter(all, func(c domain.Connection, _ int) bool {
		return c.TenantID == tenantID
	})
	staffIDs := lo.Uniq(lo.FilterMap(tenantConns, func(c domain.Connection, _ int) (string, bool) {
		return lo.FromPtr(c.StaffID), c.HasStaff()
	}))

	return domain.ConnectionStats{
		TotalConnections:  len(all),
		TenantConnections: len(tenantConns),
		StaffConnections:  len(staffIDs),
		Connections:       tenantConns,
	}
}

// Stale returns the ids of connections silent for longer than timeout.
func (r *ConnectionRegistry) Stale(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stale := make([]string, 0)
	for id, conn := range r.connections {
		if now.Sub(conn.LastActivityAt) > timeout {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// Len returns the number of registered connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// removeLocked drops a connection from every map. Caller holds mu.
func (r *ConnectionRegistry) removeLocked(connectionID string) {
	conn, ok := r.connections[connectionID]
	if !ok {
		return
	}
	delete(r.connections, connectionID)

	r.removeFromSet(r.rooms, domain.TenantRoom(conn.TenantID), connectionID)
	if conn.HasStaff() {
		r.removeFromSet(r.byStaff, *conn.StaffID, connectionID)
		r.removeFromSet(r.rooms, domain.StaffRoom(*conn.StaffID), connectionID)
	}
}

func (r *ConnectionRegistry) addToSet(sets map[string]connectionSet, key, connectionID string) {
	if sets[key] == nil {
		sets[key] = make(connectionSet)
	}
	sets[key][connectionID] = struct{}{}
}

func (r *ConnectionRegistry) removeFromSet(sets map[string]connectionSet, key, connectionID string) {
	set, ok := sets[key]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(sets, key)
	}
}

func sortedIDs(set connectionSet) []string {
	ids := lo.Keys(set)
	sort.Strings(ids)
	return ids
}
