package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OutboxSendFunc delivers one outbox message.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender drains the outbox on a ticker, retrying failed sends with
// exponential backoff.
type OutboxSender struct {
	repo           OutboxRepo
	send           OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time
}

// NewOutboxSender returns a sender polling every pollInterval (5s when unset).
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		send:           send,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		now:            time.Now,
	}
}

// RecoverStaleMessages requeues messages left in sending by a previous process.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(s.now().Add(-s.staleThreshold))
	if err != nil {
		return fmt.Errorf("recover stale outbox messages failed: %w", err)
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: started", "pollInterval", s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// outboxBackoff doubles from 10s per failed attempt.
func outboxBackoff(attempts int) time.Duration {
	return time.Duration(10*(1<<attempts)) * time.Second
}

func (s *OutboxSender) drain(ctx context.Context) {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.drain: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		if err := s.send(ctx, msg); err != nil {
			slog.Warn("OutboxSender.drain: send failed", "id", msg.ID, "recipient", msg.RecipientID, "attempts", msg.Attempts, "error", err)
			if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), now.Add(outboxBackoff(msg.Attempts))); err != nil {
				slog.Error("OutboxSender.drain: record failure", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
			slog.Error("OutboxSender.drain: mark sent", "id", msg.ID, "error", err)
			continue
		}
		slog.Debug("OutboxSender.drain: sent", "id", msg.ID, "kind", msg.Kind, "recipient", msg.RecipientID)
	}
}
