// Package scheduler is the delayed-task layer: jobs are written to the
// scheduled_jobs ledger with a run time and published to the broker once due.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/user-provisioner/internal/scheduler/domain"
)

// ErrEmptyHook is returned when a job is scheduled without a hook name
var ErrEmptyHook = errors.New("hook is required")

// JobInserter persists new jobs
type JobInserter interface {
	InsertJob(ctx context.Context, job *domain.Job) error
}

// Config holds defaults stamped on every new job
type Config struct {
	MaxRetries     int
	TimeoutSeconds int
}

// Scheduler stores delayed jobs
type Scheduler struct {
	store  JobInserter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Scheduler
func New(store JobInserter, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Schedule stores payload for execution by hook at or after runAt (unix
// seconds) and returns the job ID. Every call creates a distinct job, even
// for identical arguments.
func (s *Scheduler) Schedule(ctx context.Context, runAt int64, hook string, payload any, group string) (string, error) {
	if hook == "" {
		return "", ErrEmptyHook
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := s.now().UTC()
	job := &domain.Job{
		JobID:          uuid.NewString(),
		IdempotencyKey: uuid.NewString(),
		Hook:           hook,
		GroupLabel:     group,
		Payload:        string(body),
		RunAt:          time.Unix(runAt, 0).UTC(),
		Status:         domain.JobStatusPending,
		MaxRetries:     s.cfg.MaxRetries,
		TimeoutSeconds: s.cfg.TimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.InsertJob(ctx, job); err != nil {
		return "", err
	}

	s.logger.Debug("Job scheduled",
		slog.String("job_id", job.JobID),
		slog.String("hook", hook),
		slog.String("group", group),
		slog.Time("run_at", job.RunAt),
	)

	return job.JobID, nil
}
