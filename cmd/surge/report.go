package main

import (
	"fmt"
	"io"

	"github.com/zoobzio/surge"
)

// report prints a run summary followed by one line per unsuccessful document.
func report(w io.Writer, result surge.Result) {
	fmt.Fprintf(w, "run %s: %d documents in %s\n", result.RunID, result.Processed(), result.Elapsed)
	fmt.Fprintf(w, "  succeeded: %d\n", result.Count(surge.StatusSucceeded))
	fmt.Fprintf(w, "  failed:    %d\n", result.Count(surge.StatusFailed))
	fmt.Fprintf(w, "  cancelled: %d\n", result.Count(surge.StatusCancelled))
	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "  skipped:   %d\n", len(result.Skipped))
	}
	if result.Err != nil {
		fmt.Fprintf(w, "  stopped:   %v\n", result.Err)
	}

	for _, out := range result.Documents {
		if out.Status == surge.StatusSucceeded {
			continue
		}
		fmt.Fprintf(w, "%s %s after %d writes: %v\n", out.Status, out.ID, out.Writes, out.Err)
	}
}
