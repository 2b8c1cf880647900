package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

const (
	DefaultReapInterval      = 30 * time.Second
	DefaultConnectionTimeout = 5 * time.Minute
)

// LivenessReaper evicts connections that stopped pinging.
type LivenessReaper struct {
	registry  ports.ConnectionRegistry
	transport ports.Transport
	interval  time.Duration
	timeout   time.Duration
	now       Clock
	log       *slog.Logger
}

func NewLivenessReaper(
	registry ports.ConnectionRegistry,
	transport ports.Transport,
	interval, timeout time.Duration,
	clock Clock,
	log *slog.Logger,
) *LivenessReaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	if clock == nil {
		clock = time.Now
	}
	return &LivenessReaper{
		registry:  registry,
		transport: transport,
		interval:  interval,
		timeout:   timeout,
		now:       clock,
		log:       log.With("component", "liveness_reaper"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *LivenessReaper) Run(ctx context.Context) error {
	w.log.Info("Starting liveness reaper", "interval", w.interval, "timeout", w.timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Liveness reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep evicts every connection silent for longer than the timeout and
// returns their ids. Closing the transport is best effort.
func (w *LivenessReaper) Sweep() []string {
	now := w.now()
	stale := w.registry.Stale(now, w.timeout)
	evicted := make([]string, 0, len(stale))

	for _, id := range stale {
		// Activity may have landed since the scan.
		if !w.registry.LeaveIfStale(id, now, w.timeout) {
			continue
		}
		evicted = append(evicted, id)
		if err := w.transport.Disconnect(id, domain.ReasonInactive); err != nil {
			w.log.Debug("transport already closed", "connection_id", id, "error", err)
		}
	}

	if len(evicted) > 0 {
		w.log.Info("reaped inactive connections", "count", len(evicted))
	}
	return evicted
}
