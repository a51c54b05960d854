package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/uri"
)

type fakeClock struct{ c clock.Clock }

func (f fakeClock) Clock() clock.Clock { return f.c }

func TestTriggerFireCoalescesPriority(t *testing.T) {
	trig := NewTrigger()
	trig.Fire("")
	trig.Fire(uri.URI("file:///a"))
	trig.Fire("")

	got := trig.take()
	if got != uri.URI("file:///a") {
		t.Errorf("take() = %q, want the last non-empty priority", got)
	}
	// A second take after no further Fire returns empty.
	if got2 := trig.take(); got2 != "" {
		t.Errorf("second take() = %q, want empty", got2)
	}
}

func TestSchedulerRunsPassOnTrigger(t *testing.T) {
	trig := NewTrigger()
	done := make(chan uri.URI, 4)

	sched := New(trig, fakeClock{}, func(ctx context.Context, base clock.Clock, priority uri.URI) {
		done <- priority
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	trig.Fire(uri.URI("file:///a"))

	select {
	case p := <-done:
		if p != uri.URI("file:///a") {
			t.Errorf("pass ran with priority %q, want file:///a", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled pass")
	}
}

func TestSchedulerCancelsInFlightPassOnNewTrigger(t *testing.T) {
	trig := NewTrigger()
	started := make(chan struct{})
	var mu sync.Mutex
	var cancelledFirst bool

	sched := New(trig, fakeClock{}, func(ctx context.Context, base clock.Clock, priority uri.URI) {
		if priority == uri.URI("first") {
			close(started)
			<-ctx.Done()
			mu.Lock()
			cancelledFirst = true
			mu.Unlock()
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	trig.Fire(uri.URI("first"))
	<-started
	trig.Fire(uri.URI("second"))

	sched.Stop()

	mu.Lock()
	defer mu.Unlock()
	if !cancelledFirst {
		t.Error("expected the first pass's context to be cancelled once a new trigger arrived")
	}
}

func TestSchedulerLoopDoesNotBlockOnRunningPass(t *testing.T) {
	// Regression test: the scheduler thread must spawn each pass in its
	// own goroutine rather than run it inline, or a slow pass would make
	// a second trigger invisible until the first pass finished on its own.
	trig := NewTrigger()
	release := make(chan struct{})
	entered := make(chan struct{}, 2)

	sched := New(trig, fakeClock{}, func(ctx context.Context, base clock.Clock, priority uri.URI) {
		entered <- struct{}{}
		<-release
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	trig.Fire(uri.URI("slow"))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first pass never started")
	}

	// The loop must still observe this second trigger even though the
	// first pass's runner hasn't returned yet.
	trig.Fire(uri.URI("second"))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("scheduler blocked on the first pass instead of starting a second")
	}

	close(release)
	sched.Stop()
}
