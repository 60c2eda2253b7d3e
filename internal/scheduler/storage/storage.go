package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/user-provisioner/internal/scheduler/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `job_id, idempotency_key, hook, group_label, payload, run_at, status,
		worker_id, retry_count, max_retries, timeout_seconds, result, error_message,
		created_at, updated_at, started_at, completed_at`

// staleJobMessage is stored on RUNNING jobs abandoned after their last retry
const staleJobMessage = "worker stopped heartbeating and retries are exhausted"

// Storage handles all scheduled_jobs operations for the scheduler, the worker and the API
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// InsertJob stores a new PENDING job
func (s *Storage) InsertJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO scheduled_jobs (
			job_id, idempotency_key, hook, group_label, payload, run_at,
			status, max_retries, timeout_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.IdempotencyKey,
		job.Hook,
		job.GroupLabel,
		job.Payload,
		job.RunAt,
		job.Status,
		job.MaxRetries,
		job.TimeoutSeconds,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateJob, job.IdempotencyKey)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// ClaimDue moves up to limit due PENDING jobs to DISPATCHED and returns their IDs.
// Rows locked by a concurrent dispatcher are skipped.
func (s *Storage) ClaimDue(ctx context.Context, limit int) ([]string, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id IN (
			SELECT job_id FROM scheduled_jobs
			WHERE status = $2 AND run_at <= NOW()
			ORDER BY run_at, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id
	`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, domain.JobStatusDispatched, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	return ids, nil
}

// RevertDispatch returns a DISPATCHED job to PENDING, used when its message could not be published
func (s *Storage) RevertDispatch(ctx context.Context, jobID string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, jobID, domain.JobStatusDispatched); err != nil {
		return fmt.Errorf("failed to revert dispatch: %w", err)
	}

	return nil
}

// RequeueStale returns jobs to PENDING when their worker stopped heartbeating
// or their message never reached a worker. Abandoned RUNNING jobs count a
// retry and are FAILED once their retries are used up.
func (s *Storage) RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = CASE WHEN status = $2 AND retry_count >= max_retries THEN $5 ELSE $1 END,
		    retry_count = retry_count + CASE WHEN status = $2 AND retry_count < max_retries THEN 1 ELSE 0 END,
		    error_message = CASE WHEN status = $2 AND retry_count >= max_retries THEN $6 ELSE error_message END,
		    completed_at = CASE WHEN status = $2 AND retry_count >= max_retries THEN NOW() ELSE completed_at END,
		    worker_id = '',
		    updated_at = NOW()
		WHERE (status = $2 AND last_heartbeat_at < NOW() - make_interval(secs => $4))
		   OR (status = $3 AND updated_at < NOW() - make_interval(secs => $4))
		RETURNING status
	`

	var statuses []string
	err := s.db.SelectContext(ctx, &statuses, query,
		domain.JobStatusPending,
		domain.JobStatusRunning,
		domain.JobStatusDispatched,
		staleAfter.Seconds(),
		domain.JobStatusFailed,
		staleJobMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}

	var requeued, failed int
	for _, st := range statuses {
		if st == domain.JobStatusFailed {
			failed++
		} else {
			requeued++
		}
	}

	if requeued > 0 {
		s.logger.Warn("Stale jobs returned to pending", slog.Int("count", requeued))
	}
	if failed > 0 {
		s.logger.Error("Stale jobs failed after max retries", slog.Int("count", failed))
	}

	return int64(len(statuses)), nil
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ClaimJob attempts to claim a dispatched job using optimistic locking.
// Returns full job details on success, error if job is already claimed or doesn't exist
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusDispatched)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("hook", job.Hook),
	)

	return &job, nil
}

// ReleaseForRetry hands a RUNNING job back for redelivery and counts the attempt
func (s *Storage) ReleaseForRetry(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    retry_count = retry_count + 1,
		    worker_id = '',
		    error_message = $2,
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusDispatched, errorMsg, jobID, domain.JobStatusRunning); err != nil {
		return fmt.Errorf("failed to release job for retry: %w", err)
	}

	s.logger.Info("Job released for retry",
		slog.String("job_id", jobID),
	)

	return nil
}

// UpdateJobStatus updates the job status and optionally sets result/error
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID, status string, result map[string]any, errorMsg string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1::text,
			result = $2,
			error_message = $3,
			completed_at = CASE
				WHEN $1::text IN ($4::text, $5::text) THEN NOW()
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE job_id = $6
	`

	var resultJSON []byte
	var err error
	if result != nil {
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, query, status, resultJSON, errorMsg, domain.JobStatusCompleted, domain.JobStatusFailed, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a running job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE scheduled_jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// CancelJob cancels a job that has not been dispatched yet
func (s *Storage) CancelJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusCanceled, jobID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetJobByID(ctx, jobID); err != nil {
			return err
		}
		return domain.ErrJobNotCancelable
	}

	s.logger.Info("Job canceled",
		slog.String("job_id", jobID),
	)

	return nil
}

// ListJobs returns up to PageSize+1 jobs, newest first, so callers can tell whether another page exists
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Group != "" {
		query += fmt.Sprintf(" AND group_label = $%d", argIdx)
		args = append(args, filter.Group)
		argIdx++
	}

	if filter.Hook != "" {
		query += fmt.Sprintf(" AND hook = $%d", argIdx)
		args = append(args, filter.Hook)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
