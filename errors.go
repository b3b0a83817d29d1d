package surge

import "errors"

var (
	// ErrInvalidConfig is returned by Run when the Config fails validation.
	// No document is touched when this error is returned.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrDeadlineExceeded is the cause recorded when the run's wall-clock
	// budget elapses.
	ErrDeadlineExceeded = errors.New("run deadline exceeded")

	// ErrAborted is the cause recorded when the run is cancelled externally,
	// either through Deadline.Abort or by cancelling the parent context.
	ErrAborted = errors.New("run aborted")

	// ErrAdmissionCancelled is returned by Limiter.Acquire when the run is
	// cancelled before a permit could be granted.
	ErrAdmissionCancelled = errors.New("admission cancelled")

	// ErrCancelled is returned by Task writes issued after the run was cancelled.
	ErrCancelled = errors.New("task cancelled")

	// ErrSchedulerClosed is returned when recording into a scheduler that has
	// been closed or that stopped after a failed flush.
	ErrSchedulerClosed = errors.New("scheduler closed")

	// ErrWriteLimit is returned when a task exceeds Config.MaxWritesPerDocument.
	ErrWriteLimit = errors.New("write limit exceeded")

	// ErrGraceExceeded is the cause recorded on the drain context when
	// flushes are still running Config.FlushGrace after cancellation.
	ErrGraceExceeded = errors.New("flush grace exceeded")

	// ErrPanic wraps a panic recovered from a mutation function.
	ErrPanic = errors.New("mutation panicked")
)
