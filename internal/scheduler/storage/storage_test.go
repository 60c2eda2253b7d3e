package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/user-provisioner/internal/scheduler/domain"
)

var jobCols = []string{
	"job_id", "idempotency_key", "hook", "group_label", "payload", "run_at", "status",
	"worker_id", "retry_count", "max_retries", "timeout_seconds", "result", "error_message",
	"created_at", "updated_at", "started_at", "completed_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStorage(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func jobRow(id, status string, created time.Time) []driver.Value {
	return []driver.Value{
		id, "key-" + id, "process-user-creation-batch", "user-import-core", `{"login":"jdoe"}`, created, status,
		"", 0, 3, 300, nil, "",
		created, created, nil, nil,
	}
}

func TestStorage_InsertJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	job := &domain.Job{
		JobID:          "11111111-1111-1111-1111-111111111111",
		IdempotencyKey: "k1",
		Hook:           "process-user-creation-batch",
		GroupLabel:     "user-import-core",
		Payload:        `{"login":"jdoe"}`,
		RunAt:          now,
		Status:         domain.JobStatusPending,
		MaxRetries:     3,
		TimeoutSeconds: 300,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t.Run("success", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(`INSERT INTO scheduled_jobs`).
			WithArgs(job.JobID, "k1", job.Hook, job.GroupLabel, job.Payload, now, domain.JobStatusPending, 3, 300, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.InsertJob(ctx, job))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(`INSERT INTO scheduled_jobs`).WillReturnError(&pq.Error{Code: "23505"})

		err := s.InsertJob(ctx, job)
		assert.ErrorIs(t, err, domain.ErrDuplicateJob)
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(`INSERT INTO scheduled_jobs`).WillReturnError(errors.New("connection reset"))

		err := s.InsertJob(ctx, job)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create job")
	})
}

func TestStorage_ClaimDue(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WithArgs(domain.JobStatusDispatched, domain.JobStatusPending, 50).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow("a").AddRow("b"))

	ids, err := s.ClaimDue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ClaimJob(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("claimed", func(t *testing.T) {
		s, mock := newMockStorage(t)
		row := jobRow("j1", domain.JobStatusRunning, created)
		row[7] = "worker-1"
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE scheduled_jobs`)).
			WithArgs(domain.JobStatusRunning, "worker-1", "j1", domain.JobStatusDispatched).
			WillReturnRows(sqlmock.NewRows(jobCols).AddRow(row...))

		job, err := s.ClaimJob(ctx, "j1", "worker-1")
		require.NoError(t, err)
		assert.Equal(t, "j1", job.JobID)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.Equal(t, "worker-1", job.WorkerID)
		assert.Equal(t, 3, job.MaxRetries)
		assert.Nil(t, job.Result)
	})

	t.Run("already claimed", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE scheduled_jobs`)).
			WillReturnRows(sqlmock.NewRows(jobCols))

		_, err := s.ClaimJob(ctx, "j1", "worker-1")
		assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	})
}

func TestStorage_GetJobByID(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("found with result", func(t *testing.T) {
		s, mock := newMockStorage(t)
		row := jobRow("j1", domain.JobStatusCompleted, created)
		row[11] = `{"items":1}`
		mock.ExpectQuery(regexp.QuoteMeta(`FROM scheduled_jobs WHERE job_id = $1`)).
			WithArgs("j1").
			WillReturnRows(sqlmock.NewRows(jobCols).AddRow(row...))

		job, err := s.GetJobByID(ctx, "j1")
		require.NoError(t, err)
		require.NotNil(t, job.Result)
		assert.JSONEq(t, `{"items":1}`, *job.Result)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`FROM scheduled_jobs`).WillReturnRows(sqlmock.NewRows(jobCols))

		_, err := s.GetJobByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestStorage_UpdateJobStatus(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_jobs`)).
		WithArgs(domain.JobStatusCompleted, []byte(`{"items":2}`), "", domain.JobStatusCompleted, domain.JobStatusFailed, "j1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateJobStatus(context.Background(), "j1", domain.JobStatusCompleted, map[string]any{"items": 2}, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ReleaseForRetry(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(regexp.QuoteMeta(`retry_count = retry_count + 1`)).
		WithArgs(domain.JobStatusDispatched, "timeout", "j1", domain.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ReleaseForRetry(context.Background(), "j1", "timeout"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RequeueStale(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     int64
	}{
		{name: "nothing stale", want: 0},
		{name: "requeued", statuses: []string{domain.JobStatusPending, domain.JobStatusPending}, want: 2},
		{name: "out of retries", statuses: []string{domain.JobStatusPending, domain.JobStatusFailed}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)

			rows := sqlmock.NewRows([]string{"status"})
			for _, st := range tt.statuses {
				rows.AddRow(st)
			}
			mock.ExpectQuery(regexp.QuoteMeta(`retry_count >= max_retries THEN $5`)).
				WithArgs(domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusDispatched,
					float64(120), domain.JobStatusFailed, staleJobMessage).
				WillReturnRows(rows)

			n, err := s.RequeueStale(context.Background(), 2*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_CancelJob(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("pending job is canceled", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_jobs`)).
			WithArgs(domain.JobStatusCanceled, "j1", domain.JobStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.CancelJob(ctx, "j1"))
	})

	t.Run("running job is not cancelable", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_jobs`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM scheduled_jobs`).
			WillReturnRows(sqlmock.NewRows(jobCols).AddRow(jobRow("j1", domain.JobStatusRunning, created)...))

		assert.ErrorIs(t, s.CancelJob(ctx, "j1"), domain.ErrJobNotCancelable)
	})

	t.Run("missing job", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_jobs`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM scheduled_jobs`).WillReturnRows(sqlmock.NewRows(jobCols))

		assert.ErrorIs(t, s.CancelJob(ctx, "j1"), domain.ErrJobNotFound)
	})
}

func TestStorage_ListJobs(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cursor := &domain.JobCursor{CreatedAt: created, JobID: "j9"}

	s, mock := newMockStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`AND group_label = $1 AND status = $2 AND (created_at, job_id) < ($3, $4) ORDER BY created_at DESC, job_id DESC LIMIT $5`)).
		WithArgs("user-import-core", domain.JobStatusPending, created, "j9", 3).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(jobRow("j8", domain.JobStatusPending, created)...).
			AddRow(jobRow("j7", domain.JobStatusPending, created)...))

	jobs, err := s.ListJobs(context.Background(), domain.JobFilter{
		Group:    "user-import-core",
		Status:   domain.JobStatusPending,
		PageSize: 2,
		Cursor:   cursor,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j8", jobs[0].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
