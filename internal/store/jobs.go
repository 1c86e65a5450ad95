package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/util"
)

// JobStatus represents the lifecycle state of a durable job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// DefaultJobMaxAttempts is the retry budget given to every enqueued job.
const DefaultJobMaxAttempts = 3

// Job is a persisted delayed task. Jobs replace in-process timers so that
// pending follow-ups survive restarts and can be claimed by any worker.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"run_at"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	DedupeKey   string     `json:"dedupe_key"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobRepo persists durable jobs.
type JobRepo interface {
	// EnqueueJob inserts a job. When dedupeKey is set and a queued or running
	// job already carries it, the existing ID is returned instead.
	EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)

	// ClaimDueJobs moves up to limit queued jobs with run_at <= now to running.
	ClaimDueJobs(now time.Time, limit int) ([]Job, error)

	CompleteJob(id string) error

	// FailJob records errMsg and requeues the job at nextRunAt, or marks it
	// failed once the attempt budget is spent.
	FailJob(id string, errMsg string, nextRunAt time.Time) error

	CancelJob(id string) error

	// RequeueStaleRunningJobs returns jobs locked before staleBefore to the queue.
	RequeueStaleRunningJobs(staleBefore time.Time) (int, error)

	// GetJob returns nil, nil for an unknown ID.
	GetJob(id string) (*Job, error)
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

func (s *sqlDB) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := s.queryRow(
			`SELECT id FROM jobs WHERE dedupe_key = ? AND status IN ('queued', 'running')`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug(s.name+".EnqueueJob: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("job dedupe check failed: %w", err)
		}
	}

	id := util.GenerateRandomID("job_", 32)
	now := time.Now().UTC()
	_, err := s.exec(
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
		id, kind, runAt.UTC(), payloadJSON, DefaultJobMaxAttempts, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug(s.name+".EnqueueJob", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

// ClaimDueJobs selects and locks due jobs inside one transaction. The
// PostgreSQL backend overrides this with a SKIP LOCKED variant.
func (s *sqlDB) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	now = now.UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`),
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs query failed: %w", err)
	}
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due jobs iteration failed: %w", err)
	}

	for i := range jobs {
		if _, err := tx.Exec(s.rebind(`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ? WHERE id = ?`), now, now, jobs[i].ID); err != nil {
			return nil, fmt.Errorf("mark job running failed: %w", err)
		}
		jobs[i].Status = JobStatusRunning
		lockedAt := now
		jobs[i].LockedAt = &lockedAt
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim due jobs commit failed: %w", err)
	}
	return jobs, nil
}

func (s *sqlDB) CompleteJob(id string) error {
	if _, err := s.exec(`UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

func (s *sqlDB) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	var attempt, maxAttempts int
	if err := s.queryRow(`SELECT attempt, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempt, &maxAttempts); err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}

	now := time.Now().UTC()
	attempt++
	var err error
	if attempt >= maxAttempts {
		_, err = s.exec(
			`UPDATE jobs SET status = 'failed', attempt = ?, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, now, id,
		)
	} else {
		_, err = s.exec(
			`UPDATE jobs SET status = 'queued', attempt = ?, last_error = ?, run_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, nextRunAt.UTC(), now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	return nil
}

func (s *sqlDB) CancelJob(id string) error {
	_, err := s.exec(
		`UPDATE jobs SET status = 'canceled', locked_at = NULL, updated_at = ? WHERE id = ? AND status IN ('queued', 'running')`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

func (s *sqlDB) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	res, err := s.exec(
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`,
		time.Now().UTC(), staleBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info(s.name+".RequeueStaleRunningJobs", "requeued", n)
	}
	return int(n), nil
}

func (s *sqlDB) GetJob(id string) (*Job, error) {
	j, err := scanJob(s.queryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}
