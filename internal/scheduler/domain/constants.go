package domain

// Job status constants
const (
	JobStatusPending    = "PENDING"
	JobStatusDispatched = "DISPATCHED"
	JobStatusRunning    = "RUNNING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusCanceled   = "CANCELED"
)

// IsValidStatus reports whether s is one of the job status constants
func IsValidStatus(s string) bool {
	switch s {
	case JobStatusPending, JobStatusDispatched, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}
