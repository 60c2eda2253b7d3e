package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/user-provisioner/internal/scheduler/domain"
)

// DispatchStore is the part of the ledger the dispatcher drives
type DispatchStore interface {
	ClaimDue(ctx context.Context, limit int) ([]string, error)
	RevertDispatch(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// Publisher delivers job messages to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// DispatcherConfig holds dispatcher loop settings
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StaleAfter is how long a job may go without a heartbeat before it is
	// handed out again; zero disables the sweep.
	StaleAfter time.Duration
}

// Dispatcher moves due jobs from the ledger onto the broker
type Dispatcher struct {
	store     DispatchStore
	publisher Publisher
	cfg       DispatcherConfig
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(store DispatchStore, publisher Publisher, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run polls the ledger until ctx is canceled
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher started",
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Int("batch_size", d.cfg.BatchSize),
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if d.cfg.StaleAfter > 0 {
			if _, err := d.store.RequeueStale(ctx, d.cfg.StaleAfter); err != nil && ctx.Err() == nil {
				d.logger.Error("Failed to requeue stale jobs", slog.String("error", err.Error()))
			}
		}

		for {
			n, err := d.DispatchDue(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("Dispatch cycle failed", slog.String("error", err.Error()))
			}
			// a full batch means more jobs may already be due
			if err != nil || n < d.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped - context canceled")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchDue publishes one batch of due jobs and returns how many were published.
// Jobs whose message cannot be published go back to PENDING.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	ids, err := d.store.ClaimDue(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, id := range ids {
		body, err := json.Marshal(domain.JobMessage{JobID: id})
		if err != nil {
			return published, fmt.Errorf("failed to marshal job message: %w", err)
		}

		if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
			d.logger.Error("Failed to publish job",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			if revertErr := d.store.RevertDispatch(context.WithoutCancel(ctx), id); revertErr != nil {
				d.logger.Error("Failed to revert dispatched job",
					slog.String("job_id", id),
					slog.String("error", revertErr.Error()),
				)
			}
			continue
		}

		published++
	}

	if len(ids) > 0 {
		d.logger.Info("Jobs dispatched",
			slog.Int("claimed", len(ids)),
			slog.Int("published", published),
		)
	}

	return published, nil
}
