package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	"github.com/lorrc/salon-notifications/internal/core/mocks"
	"github.com/lorrc/salon-notifications/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessReaper_Sweep(t *testing.T) {
	t.Run("evicts silent connection and disconnects transport", func(t *testing.T) {
		clock := newFakeClock()
		reg := services.NewConnectionRegistry(clock.Now, testLogger())
		transport := mocks.NewRecordingTransport()
		reaper := services.NewLivenessReaper(reg, transport, 30*time.Second, 300*time.Second, clock.Now, testLogger())

		reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})
		clock.Advance(301 * time.Second)

		evicted := reaper.Sweep()

		assert.Equal(t, []string{"c1"}, evicted)
		assert.Equal(t, 0, reg.Len())
		assert.Empty(t, reg.ConnectionsForStaff("s1"))
		reason, ok := transport.DisconnectReason("c1")
		require.True(t, ok)
		assert.Equal(t, "inactive", reason)
	})

	t.Run("keeps connections active within the timeout", func(t *testing.T) {
		clock := newFakeClock()
		reg := services.NewConnectionRegistry(clock.Now, testLogger())
		transport := mocks.NewRecordingTransport()
		reaper := services.NewLivenessReaper(reg, transport, 0, 0, clock.Now, testLogger())

		reg.Register(domain.Connection{ID: "pinging", TenantID: "t1"})
		reg.Register(domain.Connection{ID: "silent", TenantID: "t1"})

		clock.Advance(4 * time.Minute)
		reg.RecordActivity("pinging")
		clock.Advance(2 * time.Minute)

		evicted := reaper.Sweep()

		assert.Equal(t, []string{"silent"}, evicted)
		_, ok := reg.Get("pinging")
		assert.True(t, ok)
		_, disconnected := transport.DisconnectReason("pinging")
		assert.False(t, disconnected)
	})

	t.Run("second sweep finds nothing", func(t *testing.T) {
		clock := newFakeClock()
		reg := services.NewConnectionRegistry(clock.Now, testLogger())
		reaper := services.NewLivenessReaper(reg, mocks.NewRecordingTransport(), 0, time.Minute, clock.Now, testLogger())

		reg.Register(domain.Connection{ID: "c1", TenantID: "t1"})
		clock.Advance(2 * time.Minute)

		assert.Len(t, reaper.Sweep(), 1)
		assert.Empty(t, reaper.Sweep())
	})
}

// activityAfterScan records activity for one connection right after the
// stale scan, before the reaper evicts anything.
type activityAfterScan struct {
	*services.ConnectionRegistry
	id string
}

func (r activityAfterScan) Stale(now time.Time, timeout time.Duration) []string {
	ids := r.ConnectionRegistry.Stale(now, timeout)
	r.ConnectionRegistry.RecordActivity(r.id)
	return ids
}

func TestLivenessReaper_SweepKeepsConnectionPingedDuringScan(t *testing.T) {
	clock := newFakeClock()
	reg := services.NewConnectionRegistry(clock.Now, testLogger())
	transport := mocks.NewRecordingTransport()
	reaper := services.NewLivenessReaper(activityAfterScan{reg, "c1"}, transport, 30*time.Second, 300*time.Second, clock.Now, testLogger())

	reg.Register(domain.Connection{ID: "c1", TenantID: "t1", StaffID: strPtr("s1")})
	clock.Advance(301 * time.Second)

	evicted := reaper.Sweep()

	assert.Empty(t, evicted)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{"c1"}, reg.ConnectionsForStaff("s1"))
	_, disconnected := transport.DisconnectReason("c1")
	assert.False(t, disconnected)
}

func TestLivenessReaper_Run(t *testing.T) {
	reg := services.NewConnectionRegistry(nil, testLogger())
	transport := mocks.NewRecordingTransport()
	reaper := services.NewLivenessReaper(reg, transport, 10*time.Millisecond, time.Millisecond, nil, testLogger())

	reg.Register(domain.Connection{ID: "c1", TenantID: "t1", LastActivityAt: time.Now().Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
