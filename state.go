package surge

// FlushState represents the current state of a document's Scheduler.
type FlushState int32

const (
	// FlushIdle indicates no writes are buffered and no flush timer is armed.
	FlushIdle FlushState = iota

	// FlushPending indicates writes are buffered and the flush timer is armed.
	FlushPending

	// FlushFlushing indicates a batch is being persisted.
	FlushFlushing

	// FlushClosed indicates the scheduler has drained for the last time,
	// or stopped after the store rejected a batch. It accepts no further writes.
	FlushClosed
)

// String returns the string representation of the state.
func (s FlushState) String() string {
	switch s {
	case FlushIdle:
		return "idle"
	case FlushPending:
		return "pending"
	case FlushFlushing:
		return "flushing"
	case FlushClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is the settled outcome of one document in a run.
type Status int

const (
	// StatusSucceeded indicates the mutation function completed and every
	// write was flushed.
	StatusSucceeded Status = iota

	// StatusFailed indicates the mutation function returned an error or
	// panicked, or the store rejected a flush.
	StatusFailed

	// StatusCancelled indicates the run's deadline or abort cut the task
	// short. Writes issued before cancellation were flushed.
	StatusCancelled
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
