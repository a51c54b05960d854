// Package contentstore holds the raw content of every file the worker
// knows about (spec §4.2 "Content store"): Opened files carry the
// editor's in-memory text and version, Disk files carry only a dirty
// flag. Every mutation ticks the shared clock atomically with the
// content change, which is what lets the refresh scheduler compare a
// FileState's checkClock against the store's current clock to decide
// whether a re-check is needed.
package contentstore

import (
	"sync"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/uri"
)

// Kind distinguishes the two FileContents shapes (spec §3).
type Kind int

const (
	KindOpened Kind = iota
	KindOnDisk
)

// Contents is one file's current raw content (spec §3 "FileContents"):
// Opened{version, text} | OnDisk{dirty}.
type Contents struct {
	Kind Kind

	// KindOpened
	Version Version
	Text    string

	// KindOnDisk
	Dirty bool
}

// Version is the editor-assigned revision of an opened file's text.
type Version = clock.Version

// Store holds the current Contents of every known file plus the global
// clock, both under one lock so a content mutation and its clock tick are
// always observed together (spec §4.2).
type Store struct {
	mu      sync.RWMutex
	byURI   map[uri.URI]*Contents
	counter clock.Counter
}

// NewStore creates an empty content store with the clock at its zero
// value.
func NewStore() *Store {
	return &Store{byURI: make(map[uri.URI]*Contents)}
}

// Clock returns the store's current clock value without mutating it.
func (s *Store) Clock() clock.Clock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter.Current()
}

// Get returns the current Contents for u, or nil if the file is unknown.
func (s *Store) Get(u uri.URI) *Contents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byURI[u]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// OpenFile installs u as Opened{version, text}, ticking the clock. This is
// the entry point for the editor's "did open" notification (spec §4.1
// openFile).
func (s *Store) OpenFile(u uri.URI, version Version, text string) clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURI[u] = &Contents{Kind: KindOpened, Version: version, Text: text}
	return s.counter.Tick()
}

// UpdateFile replaces the text/version of an already-Opened file, ticking
// the clock (spec §4.1 updateFile). It is a caller error to call this on a
// file that is not currently Opened; the store makes it Opened regardless
// so a misbehaving collaborator cannot wedge the worker.
func (s *Store) UpdateFile(u uri.URI, version Version, text string) clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURI[u] = &Contents{Kind: KindOpened, Version: version, Text: text}
	return s.counter.Tick()
}

// CloseFile transitions u from Opened back to OnDisk (spec §4.1 closeFile).
// The reverted OnDisk entry starts clean (dirty=false); the caller is
// responsible for re-reading the file's on-disk bytes if a fresh hash is
// needed — this method only tracks identity/clock, not file bytes.
func (s *Store) CloseFile(u uri.URI) clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURI[u] = &Contents{Kind: KindOnDisk, Dirty: false}
	return s.counter.Tick()
}

// MarkDirty flags an OnDisk file as changed since it was last parsed,
// ticking the clock (spec §4.1 fileChangedOnDisk, driven by the fsnotify
// watch bridge in internal/watch). No-op on an Opened file: on-disk
// changes to a currently-open file are superseded by the editor's own
// updateFile stream (spec §4.4 edge case).
func (s *Store) MarkDirty(u uri.URI) clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byURI[u]
	if ok && c.Kind == KindOpened {
		return s.counter.Current()
	}
	s.byURI[u] = &Contents{Kind: KindOnDisk, Dirty: true}
	return s.counter.Tick()
}

// ClearDirty flags an OnDisk file as no longer needing a re-check — called
// by loadFile once it has read and hashed the file's current bytes, whether
// they were re-parsed or matched the last parsed hash.
func (s *Store) ClearDirty(u uri.URI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byURI[u]; ok && c.Kind == KindOnDisk {
		c.Dirty = false
	}
}

// Forget removes a file's content entry entirely, ticking the clock (spec
// §4.4: a file deleted from disk while not Opened drops out of every map).
func (s *Store) Forget(u uri.URI) clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byURI, u)
	return s.counter.Tick()
}

// Snapshot returns every currently-known URI and its Contents, a point in
// time read used by the refresh scheduler to decide what needs a pass.
func (s *Store) Snapshot() map[uri.URI]Contents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uri.URI]Contents, len(s.byURI))
	for u, c := range s.byURI {
		out[u] = *c
	}
	return out
}
