package services_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	"github.com/lorrc/salon-notifications/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry_Register(t *testing.T) {
	t.Run("tenant only connection joins the tenant room", func(t *testing.T) {
		reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())

		reg.Register(domain.Connection{ID: "c1", TenantID: "t1"})

		assert.Equal(t, []string{"c1"}, reg.ConnectionsInRoom("tenant_t1"))
		assert.Empty(t, reg.ConnectionsForStaff("s1"))
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("staff connection joins tenant and staff rooms", func(t *testing.T) {
		reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())

		reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})
		reg.Register(domain.Connection{ID: "c2", TenantID: "t1", StaffID: strPtr("s1")})

		assert.Equal(t, []string{"c1", "c2"}, reg.ConnectionsForStaff("s1"))
		assert.Equal(t, []string{"c1", "c2"}, reg.ConnectionsInRoom("staff_s1"))
		assert.Equal(t, []string{"c1", "c2"}, reg.ConnectionsInRoom("tenant_t1"))
	})

	t.Run("re-registering moves the connection", func(t *testing.T) {
		reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())

		reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})
		reg.Register(domain.Connection{ID: "c1", TenantID: "t2", StaffID: strPtr("s2")})

		assert.Empty(t, reg.ConnectionsForStaff("s1"))
		assert.Empty(t, reg.ConnectionsInRoom("tenant_t1"))
		assert.Equal(t, []string{"c1"}, reg.ConnectionsForStaff("s2"))
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("timestamps default to the clock", func(t *testing.T) {
		clock := newFakeClock()
		reg := services.NewConnectionRegistry(clock.Now, testLogger())

		reg.Register(domain.Connection{ID: "c1", TenantID: "t1"})

		conn, ok := reg.Get("c1")
		require.True(t, ok)
		assert.Equal(t, clock.Now(), conn.ConnectedAt)
		assert.Equal(t, clock.Now(), conn.LastActivityAt)
	})
}

func TestConnectionRegistry_Leave(t *testing.T) {
	t.Run("removes connection from every index", func(t *testing.T) {
		reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())
		reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})

		assert.True(t, reg.Leave("c1", "client disconnect"))

		_, ok := reg.Get("c1")
		assert.False(t, ok)
		assert.Empty(t, reg.ConnectionsForStaff("s1"))
		assert.Empty(t, reg.ConnectionsInRoom("tenant_t1"))
		assert.Empty(t, reg.ConnectionsInRoom("staff_s1"))
	})

	t.Run("second leave is a no-op", func(t *testing.T) {
		reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())
		reg.Register(domain.Connection{ID: "c1", TenantID: "t1"})

		assert.True(t, reg.Leave("c1", "inactive"))
		assert.False(t, reg.Leave("c1", "inactive"))
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("other connections of the same staff stay", func(t *testing.T) {
		reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())
		reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})
		reg.Register(domain.Connection{ID: "c2", TenantID: "t1", StaffID: strPtr("s1")})

		reg.Leave("c1", "client disconnect")

		assert.Equal(t, []string{"c2"}, reg.ConnectionsForStaff("s1"))
	})
}

func TestConnectionRegistry_StaffIndexConsistency(t *testing.T) {
	reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())

	for i := 0; i < 6; i++ {
		staff := fmt.Sprintf("s%d", i%3)
		reg.Register(domain.Connection{ID: fmt.Sprintf("c%d", i), TenantID: "t1", StaffID: &staff})
	}
	reg.Leave("c0", "client disconnect")
	reg.Leave("c4", "client disconnect")

	snapshot := reg.Snapshot()
	byID := make(map[string]domain.Connection, len(snapshot))
	for _, c := range snapshot {
		byID[c.ID] = c
	}

	for _, staff := range []string{"s0", "s1", "s2"} {
		for _, id := range reg.ConnectionsForStaff(staff) {
			conn, ok := byID[id]
			require.True(t, ok, "indexed connection %s missing from snapshot", id)
			require.NotNil(t, conn.StaffID)
			assert.Equal(t, staff, *conn.StaffID)
		}
	}
	assert.NotContains(t, reg.ConnectionsForStaff("s0"), "c0")
	assert.NotContains(t, reg.ConnectionsForStaff("s1"), "c4")
}

func TestConnectionRegistry_RecordActivity(t *testing.T) {
	clock := newFakeClock()
	reg := services.NewConnectionRegistry(clock.Now, testLogger())
	reg.Register(domain.Connection{ID: "c1", TenantID: "t1"})

	clock.Advance(time.Minute)
	reg.RecordActivity("c1")
	reg.RecordActivity("unknown")

	conn, ok := reg.Get("c1")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), conn.LastActivityAt)
	assert.Equal(t, 1, reg.Len())
}

func TestConnectionRegistry_Stale(t *testing.T) {
	clock := newFakeClock()
	reg := services.NewConnectionRegistry(clock.Now, testLogger())
	reg.Register(domain.Connection{ID: "old", TenantID: "t1"})

	clock.Advance(5 * time.Minute)
	reg.Register(domain.Connection{ID: "fresh", TenantID: "t1"})

	assert.Empty(t, reg.Stale(clock.Now(), 5*time.Minute), "exactly at the timeout is not stale")

	clock.Advance(time.Second)
	assert.Equal(t, []string{"old"}, reg.Stale(clock.Now(), 5*time.Minute))
}

func TestConnectionRegistry_LeaveIfStale(t *testing.T) {
	clock := newFakeClock()
	reg := services.NewConnectionRegistry(clock.Now, testLogger())
	reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})
	reg.Register(domain.Connection{ID: "c2", TenantID: "t1"})

	clock.Advance(5 * time.Minute)
	assert.False(t, reg.LeaveIfStale("c1", clock.Now(), 5*time.Minute), "exactly at the timeout is kept")

	clock.Advance(time.Second)
	scanned := clock.Now()
	reg.RecordActivity("c2")

	assert.True(t, reg.LeaveIfStale("c1", scanned, 5*time.Minute))
	assert.False(t, reg.LeaveIfStale("c2", scanned, 5*time.Minute), "recent activity wins over an older scan")
	assert.False(t, reg.LeaveIfStale("c1", scanned, 5*time.Minute), "already removed")
	assert.False(t, reg.LeaveIfStale("unknown", scanned, 5*time.Minute))

	assert.Empty(t, reg.ConnectionsForStaff("s1"))
	assert.Equal(t, 1, reg.Len())
}

func TestConnectionRegistry_Stats(t *testing.T) {
	reg := services.NewConnectionRegistry(newFakeClock().Now, testLogger())
	reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})
	reg.Register(domain.Connection{ID: "c2", TenantID: "t1", StaffID: strPtr("s1")})
	reg.Register(domain.Connection{ID: "c3", TenantID: "t1"})
	reg.Register(domain.Connection{ID: "c4", TenantID: "t2", StaffID: strPtr("s9")})

	stats := reg.Stats("t1")

	assert.Equal(t, 4, stats.TotalConnections)
	assert.Equal(t, 3, stats.TenantConnections)
	assert.Equal(t, 1, stats.StaffConnections)
	assert.Len(t, stats.Connections, 3)
}

func TestConnectionRegistry_Concurrent(t *testing.T) {
	reg := services.NewConnectionRegistry(nil, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			reg.Register(domain.Connection{ID: id, TenantID: "t1", StaffID: strPtr("s1")})
			reg.RecordActivity(id)
			_ = reg.ConnectionsForStaff("s1")
			reg.Leave(id, "client disconnect")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.ConnectionsForStaff("s1"))
	assert.Empty(t, reg.ConnectionsInRoom("tenant_t1"))
}
