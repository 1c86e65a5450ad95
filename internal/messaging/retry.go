package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/metrics"
	"github.com/BTreeMap/ShopPipe/internal/models"
)

const (
	DefaultSendAttempts = 3
	DefaultSendDelay    = 2 * time.Second
)

// ReplySender sends one reply.
type ReplySender interface {
	SendReply(ctx context.Context, to string, reply models.Reply) error
}

// RetrySender retries failed sends a fixed number of times with a fixed delay.
type RetrySender struct {
	next     ReplySender
	attempts int
	delay    time.Duration
	metrics  *metrics.Metrics
}

// NewRetrySender wraps next. Non-positive values select the defaults.
func NewRetrySender(next ReplySender, attempts int, delay time.Duration, m *metrics.Metrics) *RetrySender {
	if attempts <= 0 {
		attempts = DefaultSendAttempts
	}
	if delay < 0 {
		delay = DefaultSendDelay
	}
	return &RetrySender{next: next, attempts: attempts, delay: delay, metrics: m}
}

// SendReply returns the last error once every attempt has failed.
func (r *RetrySender) SendReply(ctx context.Context, to string, reply models.Reply) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = r.next.SendReply(ctx, to, reply); err == nil {
			r.metrics.CountMessage(metrics.TypeOutbound)
			return nil
		}
		if err == ErrServiceStopped {
			break
		}
		slog.Warn("RetrySender.SendReply: attempt failed", "to", to, "attempt", attempt, "error", err)
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			r.metrics.CountMessage(metrics.TypeSendFailed)
			return ctx.Err()
		case <-time.After(r.delay):
		}
	}
	r.metrics.CountMessage(metrics.TypeSendFailed)
	slog.Error("RetrySender.SendReply: giving up", "to", to, "attempts", r.attempts, "error", err)
	return err
}
