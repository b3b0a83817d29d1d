package surge

import "sync"

// DocumentError pairs a failed document with its error.
type DocumentError struct {
	RunID    string
	Document string
	Err      error
}

func (e DocumentError) Error() string {
	return e.Document + ": " + e.Err.Error()
}

func (e DocumentError) Unwrap() error {
	return e.Err
}

// failureLog retains the most recent document failures across runs.
// A nil log records nothing.
type failureLog struct {
	mu      sync.Mutex
	limit   int
	entries []DocumentError
}

func newFailureLog(limit int) *failureLog {
	if limit <= 0 {
		return nil
	}
	return &failureLog{limit: limit, entries: make([]DocumentError, 0, limit)}
}

func (l *failureLog) record(e DocumentError) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == l.limit {
		n := copy(l.entries, l.entries[1:])
		l.entries = l.entries[:n]
	}
	l.entries = append(l.entries, e)
}

// snapshot copies the retained failures accepted by keep, oldest first.
// A nil keep accepts everything.
func (l *failureLog) snapshot(keep func(DocumentError) bool) []DocumentError {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []DocumentError
	for _, e := range l.entries {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}
