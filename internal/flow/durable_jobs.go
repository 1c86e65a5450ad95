// Package flow is the conversation core: the command classifier, the
// per-user state machine and the durable jobs that replace in-process timers.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/cart"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// Job kinds handled by this package.
const (
	JobKindInactivityNotice = "inactivity_notice"
	JobKindFollowupMenu     = "followup_menu"
)

const (
	// InactivityNotice is sent when a user goes quiet mid-conversation.
	InactivityNotice = "O atendimento será iniciado em breve. Por favor, aguarde."

	// FollowupText reminds the user of the main commands after an assistant reply.
	FollowupText = "Posso ajudar em algo mais? Digite *produtos* para ver o catálogo, *carrinho* para ver seu carrinho ou *vendedor* para falar com um atendente."

	DefaultInactivityDelay = 5 * time.Minute
)

// Sender delivers a reply to a user.
type Sender interface {
	SendReply(ctx context.Context, to string, reply models.Reply) error
}

// InactivityPayload is the JSON payload for inactivity_notice jobs.
type InactivityPayload struct {
	UserID string `json:"user_id"`
	// InteractionAt is the LastInteraction the job was scheduled for.
	InteractionAt time.Time `json:"interaction_at"`
}

// FollowupPayload is the JSON payload for followup_menu jobs.
type FollowupPayload struct {
	UserID string `json:"user_id"`
}

// JobScheduler enqueues the durable jobs of the conversation core.
type JobScheduler struct {
	jobs            store.JobRepo
	inactivityDelay time.Duration
	now             func() time.Time
}

// NewJobScheduler returns a scheduler over jobs. A zero inactivityDelay
// disables the inactivity notice.
func NewJobScheduler(jobs store.JobRepo, inactivityDelay time.Duration) *JobScheduler {
	return &JobScheduler{jobs: jobs, inactivityDelay: inactivityDelay, now: time.Now}
}

// ScheduleFollowup queues one follow-up menu per user; a pending one is reused.
func (s *JobScheduler) ScheduleFollowup(userID string, delay time.Duration) error {
	body, err := json.Marshal(FollowupPayload{UserID: userID})
	if err != nil {
		return err
	}
	id, err := s.jobs.EnqueueJob(JobKindFollowupMenu, s.now().Add(delay), string(body), "followup:"+userID)
	if err != nil {
		return fmt.Errorf("enqueue followup: %w", err)
	}
	slog.Debug("JobScheduler.ScheduleFollowup: queued", "userID", userID, "jobID", id, "delay", delay)
	return nil
}

// RescheduleInactivity cancels previousJobID and queues a notice for the
// interaction at interactionAt. It returns the new job ID, or "" when the
// notice is disabled.
func (s *JobScheduler) RescheduleInactivity(userID, previousJobID string, interactionAt time.Time) (string, error) {
	if previousJobID != "" {
		if err := s.jobs.CancelJob(previousJobID); err != nil {
			slog.Warn("JobScheduler.RescheduleInactivity: cancel previous failed", "userID", userID, "jobID", previousJobID, "error", err)
		}
	}
	if s.inactivityDelay <= 0 {
		return "", nil
	}
	body, err := json.Marshal(InactivityPayload{UserID: userID, InteractionAt: interactionAt.UTC()})
	if err != nil {
		return "", err
	}
	id, err := s.jobs.EnqueueJob(JobKindInactivityNotice, interactionAt.Add(s.inactivityDelay), string(body), "")
	if err != nil {
		return "", fmt.Errorf("enqueue inactivity notice: %w", err)
	}
	return id, nil
}

// CancelInactivity drops a pending notice.
func (s *JobScheduler) CancelInactivity(jobID string) {
	if jobID == "" {
		return
	}
	if err := s.jobs.CancelJob(jobID); err != nil {
		slog.Warn("JobScheduler.CancelInactivity: cancel failed", "jobID", jobID, "error", err)
	}
}

// RegisterJobHandlers registers the conversation job handlers with runner.
func RegisterJobHandlers(runner *store.JobRunner, carts *cart.Store, sender Sender) {
	runner.RegisterHandler(JobKindInactivityNotice, makeInactivityHandler(carts, sender))
	runner.RegisterHandler(JobKindFollowupMenu, makeFollowupHandler(carts, sender))
}

func makeInactivityHandler(carts *cart.Store, sender Sender) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p InactivityPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid inactivity_notice payload: %w", err)
		}
		c, err := carts.Require(p.UserID)
		if errors.Is(err, cart.ErrNoCart) {
			slog.Debug("JobHandler.inactivity_notice: cart gone, skipping", "userID", p.UserID)
			return nil
		}
		if err != nil {
			return err
		}
		if c.LastInteraction.After(p.InteractionAt) {
			slog.Debug("JobHandler.inactivity_notice: newer interaction, skipping", "userID", p.UserID)
			return nil
		}
		slog.Info("JobHandler.inactivity_notice: sending", "userID", p.UserID)
		return sender.SendReply(ctx, p.UserID, models.Text(InactivityNotice))
	}
}

func makeFollowupHandler(carts *cart.Store, sender Sender) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p FollowupPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid followup_menu payload: %w", err)
		}
		c, err := carts.Require(p.UserID)
		switch {
		case errors.Is(err, cart.ErrNoCart):
		case err != nil:
			return err
		case c.State != models.StateMenu:
			slog.Debug("JobHandler.followup_menu: user busy, skipping", "userID", p.UserID, "state", c.State)
			return nil
		}
		return sender.SendReply(ctx, p.UserID, models.Text(FollowupText))
	}
}
