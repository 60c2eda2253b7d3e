package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/user-provisioner/internal/scheduler/domain"
)

// processJob claims a job, runs its hook with timeout and heartbeat, and
// records the outcome. The returned error drives the ACK/NACK decision.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	// status writes must land even when shutdown cancels ctx mid-job
	writeCtx := context.WithoutCancel(ctx)

	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			return fmt.Errorf("job already claimed: %w", err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	handler, err := w.hooks.Lookup(job.Hook)
	if err != nil {
		w.markFailed(writeCtx, job, nil, err.Error())
		return fmt.Errorf("%w: %v", domain.ErrUnknownHook, err)
	}

	if !json.Valid([]byte(job.Payload)) {
		w.markFailed(writeCtx, job, nil, "invalid payload JSON")
		return domain.ErrInvalidPayload
	}

	jobTimeout := w.jobTimeout
	if job.TimeoutSeconds > 0 {
		jobTimeout = time.Duration(job.TimeoutSeconds) * time.Second
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	w.logger.Info("Executing job",
		slog.String("job_id", job.JobID),
		slog.String("hook", job.Hook),
		slog.String("group", job.GroupLabel),
		slog.Int("retry_count", job.RetryCount),
	)

	result, err := runHandler(jobCtx, handler, []byte(job.Payload))
	if err == nil {
		if updateErr := w.storage.UpdateJobStatus(writeCtx, job.JobID, domain.JobStatusCompleted, result, ""); updateErr != nil {
			// the work is done; an ACK keeps it from running twice
			w.logger.Error("Failed to update job status to COMPLETED",
				slog.String("job_id", job.JobID),
				slog.String("error", updateErr.Error()),
			)
		}
		w.logger.Info("Job completed successfully",
			slog.String("job_id", job.JobID),
			slog.String("hook", job.Hook),
		)
		return nil
	}

	w.logger.Error("Job execution failed",
		slog.String("job_id", job.JobID),
		slog.String("hook", job.Hook),
		slog.String("error", err.Error()),
	)

	// Only interrupted runs are retried; anything else would fail the same way again.
	if jobCtx.Err() == nil {
		w.markFailed(writeCtx, job, result, err.Error())
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if job.RetryCount < job.MaxRetries {
		if releaseErr := w.storage.ReleaseForRetry(writeCtx, job.JobID, err.Error()); releaseErr != nil {
			w.logger.Error("Failed to release job for retry",
				slog.String("job_id", job.JobID),
				slog.String("error", releaseErr.Error()),
			)
		}
		w.logger.Info("Job will be retried",
			slog.String("job_id", job.JobID),
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
		)
		return domain.NewRetryableError(fmt.Errorf("job execution failed: %w", err))
	}

	w.logger.Warn("Job exceeded max retries",
		slog.String("job_id", job.JobID),
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
	)
	w.markFailed(writeCtx, job, result, err.Error())
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
}

func (w *Worker) markFailed(ctx context.Context, job *domain.Job, result map[string]any, reason string) {
	if err := w.storage.UpdateJobStatus(ctx, job.JobID, domain.JobStatusFailed, result, reason); err != nil {
		w.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// runHandler calls h and turns a panic into an error
func runHandler(ctx context.Context, h func(context.Context, []byte) (map[string]any, error), payload []byte) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.storage.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
