package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/cuongbtq/user-provisioner/internal/importer"
	"github.com/cuongbtq/user-provisioner/internal/scheduler/domain"
)

// JobStore is the part of the job ledger the API reads and cancels
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	CancelJob(ctx context.Context, jobID string) error
}

// Importer turns uploaded CSV files into scheduled jobs
type Importer interface {
	ImportCore(ctx context.Context, r io.Reader, opts importer.Options) (*importer.Report, error)
	ImportMeta(ctx context.Context, r io.Reader, opts importer.Options) (*importer.Report, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Jobs          JobStore
	Importer      Importer
	CoreDefaults  importer.Options
	MetaDefaults  importer.Options
	MaxUploadSize int64
	HealthCheck   func(ctx context.Context) error
}

// JobHandler handles job ledger HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobStore
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// ImportHandler handles CSV upload requests
type ImportHandler struct {
	logger        *slog.Logger
	importer      Importer
	coreDefaults  importer.Options
	metaDefaults  importer.Options
	maxUploadSize int64
}

// NewImportHandler creates a new ImportHandler instance
func NewImportHandler(deps *Dependencies) *ImportHandler {
	return &ImportHandler{
		logger:        deps.Logger,
		importer:      deps.Importer,
		coreDefaults:  deps.CoreDefaults,
		metaDefaults:  deps.MetaDefaults,
		maxUploadSize: deps.MaxUploadSize,
	}
}
