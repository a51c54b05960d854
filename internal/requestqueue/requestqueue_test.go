package requestqueue

import (
	"testing"
	"time"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/contentstore"
	"github.com/loomkit/compileworker/internal/filestate"
	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/nameindex"
	"github.com/loomkit/compileworker/internal/uri"
)

func newFixture() (*contentstore.Store, *filestate.Store, *nameindex.Allocator) {
	content := contentstore.NewStore()
	allocator := nameindex.NewAllocator()
	states := filestate.NewStore(allocator)
	return content, states, allocator
}

func TestStartDeliversImmediatelyWhenAlreadySatisfiable(t *testing.T) {
	content, states, allocator := newFixture()
	u := uri.URI("file:///a.lang")
	content.OpenFile(u, 1, "let x = 1")

	name := allocator.Fresh()
	st := filestate.NewOpened(name)
	tree := &frontend.ParseTree{}
	st.Opened.Parse.Succeed(clock.Version(1), tree)
	st.Opened.HasLastParsedVersion = true
	st.Opened.LastParsedVersion = clock.Version(1)
	states.Put(u, st)

	q := New(states, content)

	var got Payload
	delivered := make(chan struct{})
	q.Start(&Request{
		ID:    1,
		URI:   u,
		Stage: Parsed,
		OnOK: func(p Payload) {
			got = p
			close(delivered)
		},
		OnError: func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("request was not delivered immediately")
	}
	if got.Value.(*frontend.ParseTree) != tree {
		t.Errorf("delivered payload = %v, want the parsed tree", got.Value)
	}
}

func TestStartFileNotOpenReturnsError(t *testing.T) {
	content, states, _ := newFixture()
	q := New(states, content)

	var gotErr error
	done := make(chan struct{})
	q.Start(&Request{
		ID:      1,
		URI:     uri.URI("file:///missing.lang"),
		Stage:   Parsed,
		OnError: func(err error) { gotErr = err; close(done) },
		OnOK:    func(p Payload) { t.Fatal("expected OnError, got OnOK") },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request never resolved")
	}
	if gotErr == nil {
		t.Fatal("expected a non-nil error for a file that is not open")
	}
}

func TestQueueRequestsSatisfiesPendingAfterStateChanges(t *testing.T) {
	content, states, allocator := newFixture()
	u := uri.URI("file:///a.lang")
	content.OpenFile(u, 1, "let x = 1")

	name := allocator.Fresh()
	st := filestate.NewOpened(name)
	states.Put(u, st) // not parsed yet -> request stays pending

	q := New(states, content)
	delivered := make(chan Payload, 1)
	q.Start(&Request{
		ID:      1,
		URI:     u,
		Stage:   Parsed,
		OnOK:    func(p Payload) { delivered <- p },
		OnError: func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-delivered:
		t.Fatal("request delivered before the file was parsed")
	case <-time.After(20 * time.Millisecond):
	}

	tree := &frontend.ParseTree{}
	st.Opened.Parse.Succeed(clock.Version(1), tree)
	st.Opened.HasLastParsedVersion = true
	st.Opened.LastParsedVersion = clock.Version(1)
	states.Put(u, st)

	q.QueueRequests(u)
	go func() {
		for q.Dispatch() {
		}
	}()

	select {
	case p := <-delivered:
		if p.Value.(*frontend.ParseTree) != tree {
			t.Errorf("delivered payload = %v, want the parsed tree", p.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("request was never delivered after QueueRequests")
	}
}

func TestCancelRemovesFromPendingAndReady(t *testing.T) {
	content, states, allocator := newFixture()
	u := uri.URI("file:///never.lang")
	content.OpenFile(u, 1, "let x = 1")
	states.Put(u, filestate.NewOpened(allocator.Fresh())) // not parsed yet -> request stays pending
	q := New(states, content)

	req := &Request{ID: 42, URI: u, Stage: Parsed, OnOK: func(Payload) {}, OnError: func(error) {}}
	q.Start(req)

	q.mu.Lock()
	_, wasPending := q.pendingByID[42]
	q.mu.Unlock()
	if !wasPending {
		t.Fatal("expected the request to be pending before Cancel")
	}

	q.Cancel(42)

	q.mu.Lock()
	_, pending := q.pendingByID[42]
	_, ready := q.ready[42]
	q.mu.Unlock()
	if pending {
		t.Error("expected Cancel to remove the request from pending")
	}
	if ready {
		t.Error("expected Cancel to remove the request from ready")
	}
}

func TestDispatchOrdersBySmallestIDFirst(t *testing.T) {
	content, states, allocator := newFixture()
	u := uri.URI("file:///a.lang")
	content.OpenFile(u, 1, "let x = 1")
	name := allocator.Fresh()
	st := filestate.NewOpened(name) // unparsed: both requests start out pending
	states.Put(u, st)

	q := New(states, content)
	var order []uint64
	for _, id := range []uint64{5, 2} {
		id := id
		q.Start(&Request{
			ID:    id,
			URI:   u,
			Stage: Parsed,
			OnOK:  func(Payload) { order = append(order, id) },
		})
	}

	st.Opened.Parse.Succeed(clock.Version(1), &frontend.ParseTree{})
	st.Opened.HasLastParsedVersion = true
	st.Opened.LastParsedVersion = clock.Version(1)
	states.Put(u, st)

	q.QueueRequests(u)
	for q.Dispatch() {
	}

	if len(order) != 2 || order[0] != 2 || order[1] != 5 {
		t.Errorf("delivery order = %v, want [2 5]", order)
	}
}
