package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/surge"
)

// waitFor polls a condition until it returns true or timeout is reached.
// Uses short polling intervals for fast tests with reliable results.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// stripe writes n cells in order, pacing between writes.
func stripe(n int, pace time.Duration) surge.MutateFunc {
	return func(_ context.Context, t *surge.Task) error {
		for i := 0; i < n; i++ {
			if err := t.Write(surge.Mutation{Key: fmt.Sprintf("cell:%03d", i), Value: []byte(t.ID())}); err != nil {
				return err
			}
			if err := t.Pace(pace); err != nil {
				return err
			}
		}
		return nil
	}
}
