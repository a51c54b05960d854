//go:build leaktests
// +build leaktests

package worker

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/config"
	"github.com/loomkit/compileworker/internal/uri"
)

// TestWorkerCloseLeavesNoGoroutines explicitly tests for leaked goroutines
// after Close() — the scheduler loop, its spawned passes, and the
// dispatcher must all have exited.
func TestWorkerCloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := New(Options{Pipeline: toyPipeline(), Config: config.Default()})
	w.Start()
	w.UpdateFile(uri.URI("file:///main.lang"), clock.Version(1), "let x = 1\n")
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
