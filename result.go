package surge

import (
	"time"
)

// Outcome is the settled result of one admitted document.
type Outcome struct {
	// ID is the document identifier.
	ID string

	// Status is how the document's task settled.
	Status Status

	// Writes is the number of writes the task recorded.
	Writes int

	// Flushes is the number of batches persisted for the document.
	Flushes int

	// Err is the failure or cancellation cause. It is nil for succeeded documents.
	Err error

	// Duration is the time from admission to settlement.
	Duration time.Duration
}

// Result is the aggregate outcome of a run.
type Result struct {
	// RunID uniquely identifies the run in emitted signals.
	RunID string

	// Documents holds one Outcome per admitted document, in admission order.
	Documents []Outcome

	// Skipped lists document IDs enumerated more than once; only the first
	// occurrence is processed.
	Skipped []string

	// Err is the first unrecoverable error: ErrDeadlineExceeded, an error
	// wrapping ErrAborted, or a source enumeration error. It is nil when the
	// source was exhausted without interruption.
	Err error

	// Started is when the run began.
	Started time.Time

	// Elapsed is the wall-clock time of the run.
	Elapsed time.Duration
}

// Processed returns the number of admitted documents.
func (r Result) Processed() int {
	return len(r.Documents)
}

// Succeeded returns the IDs of documents that completed.
func (r Result) Succeeded() []string {
	return r.ids(StatusSucceeded)
}

// Failed returns the IDs of documents that failed.
func (r Result) Failed() []string {
	return r.ids(StatusFailed)
}

// Cancelled returns the IDs of documents cut short by the deadline or an abort.
func (r Result) Cancelled() []string {
	return r.ids(StatusCancelled)
}

// Outcome returns the outcome for a document ID.
func (r Result) Outcome(id string) (Outcome, bool) {
	for _, o := range r.Documents {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// Count returns the number of documents that settled with status s.
func (r Result) Count(s Status) int {
	n := 0
	for _, o := range r.Documents {
		if o.Status == s {
			n++
		}
	}
	return n
}

func (r Result) ids(s Status) []string {
	var ids []string
	for _, o := range r.Documents {
		if o.Status == s {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
