// Package watch bridges fsnotify file-system events into
// touchFile-equivalent calls against the worker facade (SPEC_FULL §10,
// "watch-mode supplement" — the original spec leaves disk-change
// discovery to an unspecified external caller; this package is the
// concrete mechanism, grounded on the teacher's indexing.FileWatcher).
// Events are debounced the same way the teacher's DebouncedRebuilder
// coalesces bursts of edits into one rebuild.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loomkit/compileworker/internal/debug"
	"github.com/loomkit/compileworker/internal/uri"
)

// TouchFunc is called once per debounce window with the set of URIs that
// changed on disk — the caller wires this to Worker.TouchFile for each.
type TouchFunc func(uris []uri.URI)

// Watcher recursively watches a root directory for changes to files
// matching sourceSuffix, and debounces bursts into batched TouchFunc
// calls.
type Watcher struct {
	fsw          *fsnotify.Watcher
	root         string
	sourceSuffix string
	onChange     TouchFunc

	debounce time.Duration

	mu      sync.Mutex
	pending map[uri.URI]bool
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher rooted at root. sourceSuffix filters which
// changed files are reported (e.g. ".lang"); an empty suffix reports
// every file.
func New(root, sourceSuffix string, debounceMs int, onChange TouchFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounceMs <= 0 {
		debounceMs = 300
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		fsw:          fsw,
		root:         root,
		sourceSuffix: sourceSuffix,
		onChange:     onChange,
		debounce:     time.Duration(debounceMs) * time.Millisecond,
		pending:      make(map[uri.URI]bool),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start adds watches for every directory under root and begins processing
// events in the background. Returns once the initial directory walk
// completes; event processing continues asynchronously.
func (w *Watcher) Start() error {
	if err := w.addWatches(); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.processEvents()
	debug.LogRefresh("watch: started under %s", w.root)
	return nil
}

// Stop cancels event processing, closes the underlying fsnotify watcher,
// and waits for the processing goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.fsw.Close()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) addWatches() error {
	visited := make(map[string]bool)
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true
		if shouldIgnoreDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			debug.LogRefresh("watch: failed to add %s: %v", path, err)
		}
		return nil
	})
}

func shouldIgnoreDir(path string) bool {
	base := filepath.Base(path)
	switch base {
	case ".git", "node_modules", ".hg", ".svn":
		return true
	}
	return false
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			debug.LogRefresh("watch: error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if w.sourceSuffix != "" && !strings.HasSuffix(ev.Name, w.sourceSuffix) {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	// fsnotify reports bare OS paths; an editor-style client instead sends
	// "file://"-scheme URIs to the MCP facade. FromFilePath produces the
	// same scheme-bearing form here so both routes land on the same
	// normalized key for the same physical file — otherwise a file touched
	// via MCP and the same file discovered by this watcher would occupy
	// two different map entries.
	u := uri.FromFilePath(ev.Name)

	w.mu.Lock()
	w.pending[u] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	uris := make([]uri.URI, 0, len(w.pending))
	for u := range w.pending {
		uris = append(uris, u)
	}
	w.pending = make(map[uri.URI]bool)
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(uris)
	}
}
