// Package storage - Provisioning job queue.
//
// Wallet provisioning after email verification runs through this queue
// with at-least-once delivery: the enqueue happens inside the
// verification scope, workers retry with backoff, and the
// (job_type, user_id) uniqueness makes enqueues idempotent per user.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
)

// JobStatus represents the status of a queued job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed" // permanently failed
)

// JobType identifies the work a job carries.
type JobType string

const (
	JobProvisionWallets JobType = "provision_wallets"
)

// Job is one unit of queued background work.
type Job struct {
	ID         int64
	Type       JobType
	UserID     string
	Payload    string
	Status     JobStatus
	RetryCount int
	NextRetry  time.Time
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EnqueueJob adds a job to the queue. A pending job of the same type for
// the same user is left untouched (per-user idempotency).
func (s *Storage) EnqueueJob(ctx context.Context, jobType JobType, userID, payload string) error {
	now := time.Now().Unix()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO jobs (job_type, user_id, payload, status, next_retry_at, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)
	`, jobType, userID, payload, now, now, now)
	if err != nil {
		mapped := mapSQLError(err)
		if errors.Is(mapped, errs.ErrDuplicateKey) {
			return nil
		}
		return fmt.Errorf("failed to enqueue job: %w", mapped)
	}
	return nil
}

// GetDueJobs returns pending jobs whose retry time has arrived.
func (s *Storage) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, job_type, user_id, payload, status, retry_count, next_retry_at, last_error, created_at, updated_at
		FROM jobs
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", mapSQLError(err))
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var payload, lastError sql.NullString
		var nextRetry, createdAt, updatedAt int64
		if err := rows.Scan(&j.ID, &j.Type, &j.UserID, &payload, &j.Status,
			&j.RetryCount, &nextRetry, &lastError, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.Payload = payload.String
		j.LastError = lastError.String
		j.NextRetry = time.Unix(nextRetry, 0)
		j.CreatedAt = time.Unix(createdAt, 0)
		j.UpdatedAt = time.Unix(updatedAt, 0)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// MarkJobDone marks a job completed.
func (s *Storage) MarkJobDone(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", mapSQLError(err))
	}
	return nil
}

// MarkJobRetry records a failed attempt and schedules the next one.
// After maxRetries the job is parked as failed.
func (s *Storage) MarkJobRetry(ctx context.Context, id int64, attemptErr string, nextRetry time.Time, maxRetries int) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE jobs SET
			retry_count = retry_count + 1,
			last_error = ?,
			next_retry_at = ?,
			status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END,
			updated_at = ?
		WHERE id = ?
	`, attemptErr, nextRetry.Unix(), maxRetries, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job retry: %w", mapSQLError(err))
	}
	return nil
}
