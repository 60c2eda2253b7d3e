// Package worker consumes job messages from RabbitMQ and runs the hook each
// job names against its stored payload.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/user-provisioner/internal/hooks"
	"github.com/cuongbtq/user-provisioner/internal/scheduler/domain"
)

const (
	defaultJobTimeout        = 5 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
)

// Broker is the message transport the worker consumes from
type Broker interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// JobStore is the part of the job ledger the worker writes
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	ReleaseForRetry(ctx context.Context, jobID, errorMsg string) error
	UpdateJobStatus(ctx context.Context, jobID, status string, result map[string]any, errorMsg string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// HookRegistry resolves hook names to handlers
type HookRegistry interface {
	Lookup(name string) (hooks.Handler, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Storage           JobStore
	Broker            Broker
	Hooks             HookRegistry
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	storage           JobStore
	broker            Broker
	hooks             HookRegistry
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	jobsChan chan *domain.JobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	return &Worker{
		logger:            cfg.Logger,
		storage:           cfg.Storage,
		broker:            cfg.Broker,
		hooks:             cfg.Hooks,
		workerID:          workerID,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        jobTimeout,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *domain.JobMessage),
		stopChan:          make(chan struct{}),
	}
}

// ID returns the identifier this worker claims jobs under
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes messages until ctx is canceled or the delivery channel
// closes. It returns once no more jobs will be handed to the pool.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	err = w.startMessageDispatcher(ctx, deliveries)
	close(w.jobsChan)

	return err
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// errDeliveriesClosed is returned by Start when the broker closes the delivery channel
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
