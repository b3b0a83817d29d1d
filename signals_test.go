package surge

import "testing"

func TestSignalNames(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{RunStarted.Name(), "surge.run.started"},
		{RunCompleted.Name(), "surge.run.completed"},
		{RunDeadlineExceeded.Name(), "surge.run.deadline.exceeded"},
		{RunAborted.Name(), "surge.run.aborted"},
		{RunSourceFailed.Name(), "surge.run.source.failed"},
		{DocumentAdmitted.Name(), "surge.document.admitted"},
		{DocumentSkipped.Name(), "surge.document.skipped"},
		{DocumentSucceeded.Name(), "surge.document.succeeded"},
		{DocumentFailed.Name(), "surge.document.failed"},
		{DocumentCancelled.Name(), "surge.document.cancelled"},
		{FlushSucceeded.Name(), "surge.flush.succeeded"},
		{FlushFailed.Name(), "surge.flush.failed"},
		{FlushStateChanged.Name(), "surge.flush.state.changed"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected name %q, got %q", tt.want, tt.got)
		}
	}
}
