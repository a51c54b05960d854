// Package requestqueue holds client requests waiting on a specific
// (URI, version, stage) combination becoming satisfiable, and the
// dispatcher that executes them once it is (spec §4.6).
package requestqueue

import (
	"sort"
	"sync"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/contentstore"
	"github.com/loomkit/compileworker/internal/debug"
	ierrors "github.com/loomkit/compileworker/internal/errors"
	"github.com/loomkit/compileworker/internal/filestate"
	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/nameindex"
	"github.com/loomkit/compileworker/internal/uri"
)

// Stage tags which pipeline output a Request waits for (spec §4.1).
type Stage int

const (
	Parsed Stage = iota
	Resolved
	Typed
	Errors
)

// Payload is what an on-success sink receives: the compiler-internal name,
// the version the payload was produced at, and a stage-specific value —
// always one of *frontend.ParseTree (Parsed, may be nil meaning "attempted,
// no tree"), filestate.ResolveArtifact (Resolved), filestate.TypedArtifact
// (Typed), or frontend.ErrorBundle (Errors). An absent Resolved or Typed
// value is a nil *filestate.ResolveArtifact or *filestate.TypedArtifact.
type Payload struct {
	Name    nameindex.Name
	Version clock.Version
	Value   interface{}
}

// Request is one client request (spec §4.1 "Request").
type Request struct {
	ID      uint64
	URI     uri.URI
	Stage   Stage
	OnError func(err error)
	OnOK    func(payload Payload)
}

// Queue holds pendingRequests (by id and by URI) and readyRequests (spec
// §4.6). All methods are safe for concurrent use; a single mutex
// serializes the whole structure, matching the "software transactional"
// discipline spec §5 asks for rather than fine-grained locks.
type Queue struct {
	mu sync.Mutex

	pendingByID  map[uint64]*Request
	pendingByURI map[uri.URI]map[uint64]*Request
	ready        map[uint64]*Request
	readyOrder   []uint64 // kept sorted; smallest id first (spec §4.6 "ordering by id")

	readySignal chan struct{}

	States  *filestate.Store
	Content *contentstore.Store
}

// New constructs an empty Queue bound to the stores it reads when
// evaluating satisfiability.
func New(states *filestate.Store, content *contentstore.Store) *Queue {
	return &Queue{
		pendingByID:  make(map[uint64]*Request),
		pendingByURI: make(map[uri.URI]map[uint64]*Request),
		ready:        make(map[uint64]*Request),
		readySignal:  make(chan struct{}, 1),
		States:       states,
		Content:      content,
	}
}

// Start implements startRequest (spec §4.1): if satisfiable immediately
// (or failing at once, e.g. the file is not open), the request is
// delivered to its sink on the caller's goroutine and never enters the
// ready set; otherwise it is filed in pending indexed both by id and by URI.
func (q *Queue) Start(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if payload, err, ok := q.trySatisfy(req); ok {
		q.deliverLocked(req, payload, err)
		return
	}
	q.pendingByID[req.ID] = req
	byURI, exists := q.pendingByURI[req.URI]
	if !exists {
		byURI = make(map[uint64]*Request)
		q.pendingByURI[req.URI] = byURI
	}
	byURI[req.ID] = req
}

// Cancel implements cancelRequest (spec §4.1): removes from ready and
// pending; never interrupts an in-flight dispatch (spec §5).
func (q *Queue) Cancel(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req, ok := q.pendingByID[id]; ok {
		delete(q.pendingByID, id)
		if byURI, exists := q.pendingByURI[req.URI]; exists {
			delete(byURI, id)
			if len(byURI) == 0 {
				delete(q.pendingByURI, req.URI)
			}
		}
	}
	if _, ok := q.ready[id]; ok {
		delete(q.ready, id)
		q.removeFromOrderLocked(id)
	}
}

// QueueRequests implements queueRequests(uri) (spec §4.6): re-evaluates
// every pending request for uri and atomically moves newly satisfiable
// ones into ready.
func (q *Queue) QueueRequests(u uri.URI) {
	q.mu.Lock()
	byURI, ok := q.pendingByURI[u]
	if !ok || len(byURI) == 0 {
		q.mu.Unlock()
		return
	}
	var moved bool
	for id, req := range byURI {
		if _, _, satisfiable := q.trySatisfy(req); !satisfiable {
			continue
		}
		delete(byURI, id)
		delete(q.pendingByID, id)
		if len(byURI) == 0 {
			delete(q.pendingByURI, u)
		}
		q.ready[id] = req
		q.insertOrderLocked(id)
		moved = true
	}
	q.mu.Unlock()
	if moved {
		q.signalReady()
	}
}

func (q *Queue) signalReady() {
	select {
	case q.readySignal <- struct{}{}:
	default:
	}
}

// ReadySignal is readable whenever the ready set may be non-empty; the
// dispatcher blocks on it (spec §4.6 "dispatcher thread blocks until
// ready is non-empty").
func (q *Queue) ReadySignal() <-chan struct{} { return q.readySignal }

// Dispatch pops the smallest-id ready entry, re-checks satisfiability (the
// state may have changed between enqueue and dequeue), and either executes
// the sink or returns the request to pending (spec §4.6). Reports whether
// an entry was popped at all.
func (q *Queue) Dispatch() bool {
	q.mu.Lock()
	if len(q.readyOrder) == 0 {
		q.mu.Unlock()
		return false
	}
	id := q.readyOrder[0]
	q.readyOrder = q.readyOrder[1:]
	req, ok := q.ready[id]
	if !ok {
		q.mu.Unlock()
		return true
	}
	delete(q.ready, id)

	payload, err, satisfiable := q.trySatisfy(req)
	if !satisfiable {
		// State moved on since enqueue; back to pending.
		q.pendingByID[req.ID] = req
		byURI, exists := q.pendingByURI[req.URI]
		if !exists {
			byURI = make(map[uint64]*Request)
			q.pendingByURI[req.URI] = byURI
		}
		byURI[req.ID] = req
		q.mu.Unlock()
		return true
	}
	q.mu.Unlock()

	deliver(req, payload, err)
	return true
}

func (q *Queue) deliverLocked(req *Request, payload Payload, err error) {
	// Called with q.mu held but before any queue bookkeeping for req, so
	// it is safe to run the sink after releasing the lock.
	q.mu.Unlock()
	deliver(req, payload, err)
	q.mu.Lock()
}

func deliver(req *Request, payload Payload, err error) {
	if err != nil {
		if req.OnError != nil {
			req.OnError(err)
		}
		return
	}
	if req.OnOK != nil {
		req.OnOK(payload)
	}
}

func (q *Queue) insertOrderLocked(id uint64) {
	i := sort.Search(len(q.readyOrder), func(i int) bool { return q.readyOrder[i] >= id })
	q.readyOrder = append(q.readyOrder, 0)
	copy(q.readyOrder[i+1:], q.readyOrder[i:])
	q.readyOrder[i] = id
}

func (q *Queue) removeFromOrderLocked(id uint64) {
	for i, v := range q.readyOrder {
		if v == id {
			q.readyOrder = append(q.readyOrder[:i], q.readyOrder[i+1:]...)
			return
		}
	}
}

// trySatisfy implements spec §4.6's per-stage satisfiability rules. The
// returned bool is false when the request is not yet satisfiable at all
// (still pending); when true, exactly one of (payload, err) is meaningful
// — err non-nil means deliver to OnError, otherwise deliver payload (whose
// Value may itself be nil, meaning "absent").
func (q *Queue) trySatisfy(req *Request) (Payload, error, bool) {
	content := q.Content.Get(req.URI)
	if content == nil || content.Kind != contentstore.KindOpened {
		return Payload{}, ierrors.NewRequestError(req.ID, string(req.URI), "File is not open"), true
	}
	state := q.States.Get(req.URI)
	if state == nil || state.Kind != filestate.KindOpened {
		return Payload{}, ierrors.NewRequestError(req.ID, string(req.URI), "File is not open"), true
	}

	openVersion := content.Version

	switch req.Stage {
	case Parsed:
		if artifact, ok := state.Opened.Parse.Get(); ok && state.Opened.Parse.IsCurrent(openVersion) {
			return Payload{Name: state.Name, Version: openVersion, Value: artifact}, nil, true
		}
		if state.Opened.HasLastParsedVersion && state.Opened.LastParsedVersion == openVersion {
			return Payload{Name: state.Name, Version: openVersion, Value: (*frontend.ParseTree)(nil)}, nil, true
		}
		return Payload{}, nil, false

	case Resolved:
		if !state.WorkingMark.IsDoneAt(q.Content.Clock()) {
			return Payload{}, nil, false
		}
		if artifact, ok := state.Opened.Resolve.Get(); ok && state.Opened.Resolve.IsCurrent(openVersion) {
			return Payload{Name: state.Name, Version: openVersion, Value: artifact}, nil, true
		}
		return Payload{Name: state.Name, Version: openVersion, Value: (*filestate.ResolveArtifact)(nil)}, nil, true

	case Typed:
		if !state.WorkingMark.IsDoneAt(q.Content.Clock()) {
			return Payload{}, nil, false
		}
		resolveCurrent := state.Opened.Resolve.IsCurrent(openVersion)
		typedCurrent := state.Opened.Typed.IsCurrent(openVersion)
		if resolveCurrent && typedCurrent {
			artifact, _ := state.Opened.Typed.Get()
			return Payload{Name: state.Name, Version: openVersion, Value: artifact}, nil, true
		}
		return Payload{Name: state.Name, Version: openVersion, Value: (*filestate.TypedArtifact)(nil)}, nil, true

	case Errors:
		if !state.WorkingMark.IsDoneAt(q.Content.Clock()) {
			return Payload{}, nil, false
		}
		return Payload{Name: state.Name, Version: openVersion, Value: state.Opened.Errors}, nil, true
	}

	debug.LogRequest("unknown stage %d for request %d", req.Stage, req.ID)
	return Payload{}, nil, false
}
