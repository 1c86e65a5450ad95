// Package scheduler runs ShopPipe's periodic maintenance on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expired-cart sweep every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// Scheduler wraps a robfig/cron runner using the 5-field syntax.
type Scheduler struct {
	cron *cron.Cron
}

// cronLogger sends cron's own logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// NewScheduler creates and starts a scheduler. Panicking tasks are recovered
// and overlapping runs of the same task are skipped.
func NewScheduler() *Scheduler {
	logger := cronLogger{}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task under name. Invalid expressions are rejected.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	slog.Info("Scheduler.AddJob: scheduled", "name", name, "expr", expr, "entryID", id)
	return nil
}

// Len returns the number of scheduled tasks.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops scheduling and waits for running tasks or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: gave up waiting for running tasks")
	}
}

// CartSweeper deletes expired carts and counts the remaining ones.
type CartSweeper interface {
	SweepExpired() (int, error)
	Count() (int, error)
}

// GaugeSetter receives the active chat count.
type GaugeSetter interface {
	SetActiveChats(n int)
}

// CartSweep returns the task that deletes expired carts and refreshes the
// active chat gauge.
func CartSweep(carts CartSweeper, gauge GaugeSetter) func() {
	return func() {
		removed, err := carts.SweepExpired()
		if err != nil {
			slog.Error("scheduler.CartSweep: sweep failed", "error", err)
		} else if removed > 0 {
			slog.Info("scheduler.CartSweep: expired carts removed", "count", removed)
		}
		n, err := carts.Count()
		if err != nil {
			slog.Error("scheduler.CartSweep: count failed", "error", err)
			return
		}
		if gauge != nil {
			gauge.SetActiveChats(n)
		}
	}
}
