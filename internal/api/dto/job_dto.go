package dto

import "encoding/json"

type ListJobsRequest struct {
	Group    string `form:"group"`
	Hook     string `form:"hook"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string          `json:"job_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Hook           string          `json:"hook"`
	Group          string          `json:"group"`
	Payload        json.RawMessage `json:"payload"`
	RunAt          string          `json:"run_at"`
	Status         string          `json:"status"`
	WorkerID       string          `json:"worker_id,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	StartedAt      string          `json:"started_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
