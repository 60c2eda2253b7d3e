package domain

import "time"

// Job is one row of the scheduled_jobs ledger
type Job struct {
	JobID          string     `db:"job_id"`
	IdempotencyKey string     `db:"idempotency_key"`
	Hook           string     `db:"hook"`
	GroupLabel     string     `db:"group_label"`
	Payload        string     `db:"payload"` // JSON string
	RunAt          time.Time  `db:"run_at"`
	Status         string     `db:"status"`
	WorkerID       string     `db:"worker_id"`
	RetryCount     int        `db:"retry_count"`
	MaxRetries     int        `db:"max_retries"`
	TimeoutSeconds int        `db:"timeout_seconds"`
	Result         *string    `db:"result"`
	ErrorMessage   string     `db:"error_message"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	StartedAt      *time.Time `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}

// JobFilter narrows a ledger listing
type JobFilter struct {
	Group    string
	Hook     string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
