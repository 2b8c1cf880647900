package domain

import "time"

// Role is the staff role claimed on join. Informational only.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleStaff   Role = "STAFF"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff:
		return true
	}
	return false
}

// Disconnect reasons
const (
	ReasonInactive        = "inactive"
	ReasonClientClosed    = "client disconnect"
	ReasonTransportClosed = "transport closed"
	ReasonServerShutdown  = "server shutdown"
)

// Connection is a live, joined client connection. It only exists in memory.
type Connection struct {
	ID             string
	TenantID       string
	StaffID        *string
	Role           *Role
	ConnectedAt    time.Time
	LastActivityAt time.Time
}

// HasStaff reports whether the connection is bound to a staff identity.
func (c *Connection) HasStaff() bool {
	return c.StaffID != nil && *c.StaffID != ""
}

// TenantRoom is the broadcast group every joined connection of a tenant belongs to.
func TenantRoom(tenantID string) string {
	return "tenant_" + tenantID
}

// StaffRoom is the group holding all connections of one staff member.
func StaffRoom(staffID string) string {
	return "staff_" + staffID
}

// Staff is the subset of a staff record the join handshake needs.
type Staff struct {
	ID       string
	TenantID string
	Name     string
	Role     Role
	IsActive bool
}

// JoinResult describes a successful join handshake.
type JoinResult struct {
	Connection Connection
	RoomName   string
	Unread     []*Notification
}

// ConnectionStats is the administrative view of live connections for a tenant.
type ConnectionStats struct {
	TotalConnections  int
	TenantConnections int
	StaffConnections  int
	Connections       []Connection
}
