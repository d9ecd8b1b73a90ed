package station

import "time"

// Operation statuses recorded in run history.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one recorded backup, cleanup or restore run.
type Operation struct {
	ID         int64      `json:"id"`
	Operation  string     `json:"operation"`
	Parameters string     `json:"parameters"`
	Status     string     `json:"status"`
	Summary    string     `json:"summary,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long a finished operation ran, or zero.
func (o *Operation) Duration() time.Duration {
	if o.FinishedAt == nil {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// History records archive runs.
type History interface {
	// CreateOperation records the start of a run and returns it with its ID.
	CreateOperation(operation, parameters string) (*Operation, error)

	// FinishOperation marks a run finished with a status and a short summary.
	FinishOperation(id int64, status, summary string) error

	// ListOperations returns the most recent runs, newest first.
	ListOperations(limit int) ([]*Operation, error)

	// Close releases the underlying database.
	Close() error
}
