package surge

import "testing"

func TestResult_Accessors(t *testing.T) {
	r := Result{Documents: []Outcome{
		{ID: "a", Status: StatusSucceeded},
		{ID: "b", Status: StatusFailed},
		{ID: "c", Status: StatusCancelled},
		{ID: "d", Status: StatusSucceeded},
	}}

	if r.Processed() != 4 {
		t.Errorf("expected 4 processed, got %d", r.Processed())
	}
	if got := r.Succeeded(); len(got) != 2 || got[0] != "a" || got[1] != "d" {
		t.Errorf("expected [a d], got %v", got)
	}
	if got := r.Failed(); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected [b], got %v", got)
	}
	if got := r.Cancelled(); len(got) != 1 || got[0] != "c" {
		t.Errorf("expected [c], got %v", got)
	}
	if r.Count(StatusSucceeded) != 2 {
		t.Errorf("expected count 2, got %d", r.Count(StatusSucceeded))
	}

	if out, ok := r.Outcome("c"); !ok || out.Status != StatusCancelled {
		t.Errorf("expected cancelled outcome for c, got %+v", out)
	}
	if _, ok := r.Outcome("z"); ok {
		t.Error("expected no outcome for unknown document")
	}
}

func TestResult_Empty(t *testing.T) {
	var r Result
	if r.Processed() != 0 || r.Succeeded() != nil || r.Failed() != nil {
		t.Error("expected empty accessors on zero result")
	}
}
