// Package refresh implements the single worker thread that watches a
// "needs-refresh" trigger and starts a new compile pass on the current
// clock, killing whatever pass is still running (spec §4.3). It mirrors
// the teacher's DebouncedRebuilder shutdown/restart discipline: a
// context.CancelFunc per in-flight task plus a WaitGroup so Stop never
// returns with a pass still writing to shared state.
package refresh

import (
	"context"
	"sync"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/debug"
	"github.com/loomkit/compileworker/internal/uri"
)

// Trigger is the "needs-refresh" cell (spec §4.3 step 1): a buffered
// signal that optionally names a priority URI. Only the latest non-null
// priority survives a burst (spec §4.1 refresh: "If a prior priority is
// pending, keep the latest non-null priority").
type Trigger struct {
	mu       sync.Mutex
	pending  bool
	priority uri.URI
	signal   chan struct{}
}

// NewTrigger creates an empty trigger cell.
func NewTrigger() *Trigger {
	return &Trigger{signal: make(chan struct{}, 1)}
}

// Fire marks the cell non-empty with an optional priority URI, coalescing
// with whatever is already pending.
func (t *Trigger) Fire(priority uri.URI) {
	t.mu.Lock()
	t.pending = true
	if priority != "" {
		t.priority = priority
	}
	t.mu.Unlock()
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// take atomically empties the cell and returns whatever priority was set.
func (t *Trigger) take() uri.URI {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.priority
	t.pending = false
	t.priority = ""
	return p
}

// Clock reports the current value of a clock-like source — the content
// store in practice. Kept as an interface so the scheduler doesn't import
// internal/contentstore directly, avoiding a dependency the scheduler has
// no other use for.
type Clock interface {
	Clock() clock.Clock
}

// PassRunner starts one compile pass stamped at baseClock with the given
// priority, and returns once the pass has either finished or ctx was
// cancelled. internal/worker's runPass is the implementation: it builds a
// compiler.Pass at baseClock and calls its Run.
type PassRunner func(ctx context.Context, baseClock clock.Clock, priority uri.URI)

// Scheduler is the refresh thread described in spec §4.3.
type Scheduler struct {
	trigger *Trigger
	clock   Clock
	newPass PassRunner

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	loopWG sync.WaitGroup
	passWG sync.WaitGroup
	done   chan struct{}
}

// New constructs a Scheduler. newPass is called once per trigger fetch
// with a fresh context the scheduler cancels when a later trigger arrives
// or Stop is called.
func New(trigger *Trigger, clockSrc Clock, newPass PassRunner) *Scheduler {
	return &Scheduler{
		trigger: trigger,
		clock:   clockSrc,
		newPass: newPass,
		done:    make(chan struct{}),
	}
}

// Start launches the scheduler loop in its own goroutine. It returns
// immediately; call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	s.loopWG.Add(1)
	go s.loop(ctx)
}

// Stop cancels any in-flight compile pass and waits for the loop goroutine
// and the last-spawned pass to exit.
func (s *Scheduler) Stop() {
	close(s.done)
	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelMu.Unlock()
	s.loopWG.Wait()
	s.passWG.Wait()
}

// loop is the scheduler thread itself. It never blocks on a compile pass:
// each pass runs in its own goroutine so a later trigger can cancel it and
// start the next one without waiting for the abandoned tail (spec §4.3
// step 2, §5 "Termination is thread-abort; incremental commits are
// durable").
func (s *Scheduler) loop(parent context.Context) {
	defer s.loopWG.Done()
	for {
		select {
		case <-s.done:
			return
		case <-parent.Done():
			return
		case <-s.trigger.signal:
		}

		priority := s.trigger.take()
		baseClock := s.clock.Clock()

		s.cancelMu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		passCtx, cancel := context.WithCancel(parent)
		s.cancel = cancel
		s.cancelMu.Unlock()

		debug.LogRefresh("starting compile pass baseClock=%d priority=%q", baseClock, priority)
		s.passWG.Add(1)
		go func() {
			defer s.passWG.Done()
			s.newPass(passCtx, baseClock, priority)
		}()
	}
}
