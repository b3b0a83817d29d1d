package surge

import "github.com/zoobzio/capitan"

// Field keys for surge events.
var (
	// KeyRunID is the unique identifier of a run.
	KeyRunID = capitan.NewStringKey("run_id")

	// KeyDocument is the document identifier.
	KeyDocument = capitan.NewStringKey("document")

	// KeyOldState is the previous scheduler state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the scheduler state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyConcurrency is the configured number of concurrent tasks.
	KeyConcurrency = capitan.NewIntKey("concurrency")

	// KeyFlushInterval is the configured flush interval.
	KeyFlushInterval = capitan.NewDurationKey("flush_interval")

	// KeyDeadline is the configured run deadline.
	KeyDeadline = capitan.NewDurationKey("deadline")

	// KeyBatchSize is the number of mutations in a flushed batch.
	KeyBatchSize = capitan.NewIntKey("batch_size")

	// KeyWrites is the number of writes a task issued.
	KeyWrites = capitan.NewIntKey("writes")

	// KeyDuration is the elapsed time of an operation.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeySucceeded is the number of documents that succeeded in a run.
	KeySucceeded = capitan.NewIntKey("succeeded")

	// KeyFailed is the number of documents that failed in a run.
	KeyFailed = capitan.NewIntKey("failed")

	// KeyCancelled is the number of documents cancelled in a run.
	KeyCancelled = capitan.NewIntKey("cancelled")
)
