package provision

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned by ResolveUser when no identifier matches
var ErrUserNotFound = errors.New("no user matches the item identifiers")

// Status is the terminal state of one applied item.
type Status string

const (
	StatusCreated         Status = "created"
	StatusSkipped         Status = "skipped"
	StatusFailed          Status = "failed"
	StatusUpdated         Status = "updated"
	StatusNotFound        Status = "not_found"
	StatusNothingToUpdate Status = "nothing_to_update"
)

// Skip reasons reported with StatusSkipped.
const (
	ReasonMissingFields = "missing_login_or_email"
	ReasonInvalidEmail  = "invalid_email"
	ReasonEmailExists   = "email_exists"
	ReasonLoginExists   = "login_exists"
	ReasonDuplicate     = "duplicate"
	ReasonNotAnObject   = "not_an_object"
)

// Outcome is the result of applying one item.
type Outcome struct {
	Status  Status
	Reason  string
	Err     error
	UserID  int64
	Updated int
	Retried int
}

// Summary tallies the outcomes of one job.
type Summary struct {
	Shape   string
	Items   int
	Counts  map[Status]int
	Reasons map[string]int
	Updated int
	Retried int
}

func newSummary(shape string) *Summary {
	return &Summary{
		Shape:   shape,
		Counts:  make(map[Status]int),
		Reasons: make(map[string]int),
	}
}

func (s *Summary) add(o Outcome) {
	s.Items++
	s.Counts[o.Status]++
	if o.Reason != "" {
		s.Reasons[o.Reason]++
	}
	s.Updated += o.Updated
	s.Retried += o.Retried
}

// Result renders the summary for the job ledger.
func (s *Summary) Result() map[string]any {
	counts := make(map[string]any, len(s.Counts))
	for st, n := range s.Counts {
		counts[string(st)] = n
	}

	result := map[string]any{
		"shape":  s.Shape,
		"items":  s.Items,
		"counts": counts,
	}
	if len(s.Reasons) > 0 {
		reasons := make(map[string]any, len(s.Reasons))
		for r, n := range s.Reasons {
			reasons[r] = n
		}
		result["reasons"] = reasons
	}
	if s.Updated > 0 {
		result["meta_keys_updated"] = s.Updated
	}
	if s.Retried > 0 {
		result["meta_keys_retried"] = s.Retried
	}
	return result
}

// Enqueuer schedules a follow-up job. It is satisfied by the scheduler.
type Enqueuer interface {
	Schedule(ctx context.Context, runAt int64, hook string, payload any, group string) (string, error)
}
