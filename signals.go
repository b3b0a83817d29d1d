package surge

import "github.com/zoobzio/capitan"

// Run lifecycle signals.
var (
	// RunStarted is emitted when a run begins enumerating documents.
	RunStarted = capitan.NewSignal(
		"surge.run.started",
		"Run started",
	)

	// RunCompleted is emitted when every admitted task has settled.
	RunCompleted = capitan.NewSignal(
		"surge.run.completed",
		"Run completed",
	)

	// RunDeadlineExceeded is emitted once when the run's deadline elapses.
	RunDeadlineExceeded = capitan.NewSignal(
		"surge.run.deadline.exceeded",
		"Run deadline exceeded",
	)

	// RunAborted is emitted once when the run is cancelled externally.
	RunAborted = capitan.NewSignal(
		"surge.run.aborted",
		"Run aborted",
	)

	// RunSourceFailed is emitted when the document source returns an error.
	RunSourceFailed = capitan.NewSignal(
		"surge.run.source.failed",
		"Document enumeration failed",
	)
)

// Document signals.
var (
	// DocumentAdmitted is emitted when a document receives a permit.
	DocumentAdmitted = capitan.NewSignal(
		"surge.document.admitted",
		"Document admitted",
	)

	// DocumentSkipped is emitted when a duplicate document ID is enumerated.
	DocumentSkipped = capitan.NewSignal(
		"surge.document.skipped",
		"Duplicate document skipped",
	)

	// DocumentSucceeded is emitted when a document's task completes and drains.
	DocumentSucceeded = capitan.NewSignal(
		"surge.document.succeeded",
		"Document mutated successfully",
	)

	// DocumentFailed is emitted when a document's task or flush fails.
	DocumentFailed = capitan.NewSignal(
		"surge.document.failed",
		"Document mutation failed",
	)

	// DocumentCancelled is emitted when a document's task is cut short.
	DocumentCancelled = capitan.NewSignal(
		"surge.document.cancelled",
		"Document mutation cancelled",
	)
)

// Flush signals.
var (
	// FlushSucceeded is emitted after a batch is persisted.
	FlushSucceeded = capitan.NewSignal(
		"surge.flush.succeeded",
		"Batch flushed",
	)

	// FlushFailed is emitted when the store rejects a batch.
	FlushFailed = capitan.NewSignal(
		"surge.flush.failed",
		"Batch flush failed",
	)

	// FlushStateChanged is emitted when a scheduler transitions between states.
	FlushStateChanged = capitan.NewSignal(
		"surge.flush.state.changed",
		"Scheduler state transition",
	)
)
