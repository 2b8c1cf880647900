package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

// RetryConfig controls the exponential backoff between push attempts.
type RetryConfig struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryingNotifier retries transient push failures with exponential backoff.
type RetryingNotifier struct {
	next      ports.PushNotifier
	cfg       RetryConfig
	permanent func(error) bool
	logger    *slog.Logger
}

var _ ports.PushNotifier = (*RetryingNotifier)(nil)

// NewRetryingNotifier wraps next. Errors matching IsPermanent are not retried.
func NewRetryingNotifier(next ports.PushNotifier, cfg RetryConfig, logger *slog.Logger) *RetryingNotifier {
	return &RetryingNotifier{
		next:      next,
		cfg:       cfg,
		permanent: IsPermanent,
		logger:    logger.With("component", "push_retry"),
	}
}

// Push calls the wrapped notifier until it succeeds, the retry budget is
// spent or ctx is done.
func (r *RetryingNotifier) Push(ctx context.Context, n *domain.Notification) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := r.next.Push(ctx, n)
		if err != nil && r.permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "push attempt failed, retrying",
			"notification_id", n.ID,
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	}

	return backoff.RetryNotify(operation, r.policy(ctx), notify)
}

func (r *RetryingNotifier) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if r.cfg.InitialBackoff > 0 {
		exp.InitialInterval = r.cfg.InitialBackoff
	}
	if r.cfg.MaxBackoff > 0 {
		exp.MaxInterval = r.cfg.MaxBackoff
	}
	// The retry count bounds the attempts, not wall time.
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, r.cfg.MaxRetries), ctx)
}
