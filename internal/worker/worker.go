// Package worker is the public facade of the incremental compilation
// worker (spec §4.1): updateFile, touchFile, closeFile, findFile, refresh,
// startRequest, cancelRequest, updateConfig. It wires together the content
// store, file-state store, refresh scheduler, compile pipeline, and
// request queue, and owns the dispatcher goroutine.
package worker

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/loomkit/compileworker/internal/cache"
	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/compiler"
	"github.com/loomkit/compileworker/internal/config"
	"github.com/loomkit/compileworker/internal/contentstore"
	"github.com/loomkit/compileworker/internal/debug"
	"github.com/loomkit/compileworker/internal/filestate"
	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/importadapter"
	"github.com/loomkit/compileworker/internal/nameindex"
	"github.com/loomkit/compileworker/internal/refresh"
	"github.com/loomkit/compileworker/internal/requestqueue"
	"github.com/loomkit/compileworker/internal/uri"
)

// Worker is the facade. Construct with New, then Start/Close it around
// the process lifetime.
type Worker struct {
	content   *contentstore.Store
	states    *filestate.Store
	allocator *nameindex.Allocator
	queue     *requestqueue.Queue
	trigger   *refresh.Trigger
	scheduler *refresh.Scheduler
	pipeline  compiler.Pipeline
	publish   func(u uri.URI, bundle frontend.ErrorBundle)
	cache     *cache.Cache

	adapterCfg importadapter.Config

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// Options bundles construction-time dependencies.
type Options struct {
	Pipeline compiler.Pipeline
	Config   *config.Config
	Publish  func(u uri.URI, bundle frontend.ErrorBundle)
	// Cache, if non-nil, is consulted before re-parsing file bytes this
	// process has already seen. Optional; a nil Cache just means every
	// parse runs the configured Parser directly.
	Cache *cache.Cache
}

// New constructs a Worker with empty content and file-state stores.
func New(opts Options) *Worker {
	content := contentstore.NewStore()
	allocator := nameindex.NewAllocator()
	states := filestate.NewStore(allocator)
	queue := requestqueue.New(states, content)
	trigger := refresh.NewTrigger()

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	w := &Worker{
		content:   content,
		states:    states,
		allocator: allocator,
		queue:     queue,
		trigger:   trigger,
		pipeline:  opts.Pipeline,
		publish:   opts.Publish,
		cache:     opts.Cache,
		group:     group,
		ctx:       gctx,
		cancel:    cancel,
	}
	if opts.Config != nil {
		w.adapterCfg = importadapter.Config{
			LibraryPaths:  opts.Config.LibrarySearchOrder(),
			SourcePattern: "**/*.lang",
		}
	}

	w.scheduler = refresh.New(trigger, contentClock{content}, w.runPass)
	return w
}

type contentClock struct{ content *contentstore.Store }

func (c contentClock) Clock() clock.Clock { return c.content.Clock() }

// Start launches the refresh scheduler and request dispatcher goroutines
// (spec §5's "one refresh thread, one dispatcher thread").
func (w *Worker) Start() {
	w.scheduler.Start(w.ctx)
	w.group.Go(func() error {
		w.dispatchLoop()
		return nil
	})
}

// Close stops the scheduler and dispatcher and waits for both to exit —
// the errgroup.Group mirrors the teacher's supervised-goroutine shutdown
// idiom, generalized here to two distinct background loops instead of one
// (SPEC_FULL §10 "Worker.Close").
func (w *Worker) Close() error {
	w.scheduler.Stop()
	w.cancel()
	return w.group.Wait()
}

func (w *Worker) dispatchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.queue.ReadySignal():
			for w.queue.Dispatch() {
			}
		}
	}
}

// UpdateFile implements updateFile (spec §4.1).
func (w *Worker) UpdateFile(u uri.URI, version clock.Version, text string) {
	w.content.UpdateFile(u, version, text)
	w.Refresh(u)
}

// TouchFile implements touchFile (spec §4.1): marks an on-disk file dirty
// and ticks the clock, then requests a refresh.
func (w *Worker) TouchFile(u uri.URI) {
	w.content.MarkDirty(u)
	w.Refresh("")
}

// CloseFile implements closeFile (spec §4.1).
func (w *Worker) CloseFile(u uri.URI) {
	w.content.CloseFile(u)
	w.Refresh("")
}

// FindFile implements findFile (spec §4.1).
func (w *Worker) FindFile(name nameindex.Name) (uri.URI, bool) {
	return w.states.FindByName(name)
}

// Refresh implements refresh (spec §4.1): signals the scheduler, keeping
// the latest non-empty priority across a coalesced burst.
func (w *Worker) Refresh(priority uri.URI) {
	w.trigger.Fire(priority)
}

// UpdateConfig implements updateConfig (spec §4.1): recomputes the
// library path search order.
func (w *Worker) UpdateConfig(cfg *config.Config) {
	w.adapterCfg = importadapter.Config{
		LibraryPaths:  cfg.LibrarySearchOrder(),
		SourcePattern: "**/*.lang",
	}
}

// StartRequest implements startRequest (spec §4.1).
func (w *Worker) StartRequest(req *requestqueue.Request) {
	w.queue.Start(req)
}

// CancelRequest implements cancelRequest (spec §4.1).
func (w *Worker) CancelRequest(id uint64) {
	w.queue.Cancel(id)
}

// runPass is the refresh.PassRunner the scheduler invokes. It runs a
// compiler.Pass synchronously within the scheduler's spawned goroutine,
// then triggers queueRequests for every file touched this pass (spec
// §4.4: "trigger queueRequests(uri)" happens per-file; here the queue's
// QueueRequests is passed as the pass's Done hook, which the pass calls
// once for every file it loads).
func (w *Worker) runPass(ctx context.Context, baseClock clock.Clock, priority uri.URI) {
	pass := compiler.NewPass(baseClock, w.content, w.states, w.allocator, w.adapterCfg, w.pipeline, w.publishDiagnostics, w.queue.QueueRequests, w.cache)
	pass.Run(ctx, priority, w.candidateNames)
	debug.LogRefresh("pass complete baseClock=%d", baseClock)
}

func (w *Worker) publishDiagnostics(u uri.URI, bundle frontend.ErrorBundle) {
	if w.publish != nil {
		w.publish(u, bundle)
	}
}

func (w *Worker) candidateNames() []string {
	uris := w.states.Snapshot()
	out := make([]string, 0, len(uris))
	for _, u := range uris {
		out = append(out, string(u))
	}
	return out
}

// NameString renders a nameindex.Name for logging/debugging purposes.
func NameString(n nameindex.Name) string {
	return "#" + strconv.FormatUint(uint64(n), 10)
}
