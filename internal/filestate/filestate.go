// Package filestate defines the per-file compilation state the refresh
// loop maintains (spec §3 "FileState"), the versioned-artifact slot that
// lets stale-but-useful stage results survive a later failure, and the
// file-state store that holds one FileState per known URI plus its
// inverse name index.
package filestate

import (
	"sync"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/nameindex"
	"github.com/loomkit/compileworker/internal/uri"
)

// VersionedArtifact is either absent, or {version, payload}: it preserves
// the most recent version at which a compile stage succeeded, even after a
// later version fails to reach that stage (spec §3, §9).
type VersionedArtifact[T any] struct {
	present bool
	version clock.Version
	payload T
}

// IsCurrent reports whether this slot's payload was produced at v — the
// single helper spec §9 recommends over re-deriving the predicate per call
// site.
func (a VersionedArtifact[T]) IsCurrent(v clock.Version) bool {
	return a.present && a.version == v
}

// Present reports whether the slot has ever succeeded.
func (a VersionedArtifact[T]) Present() bool { return a.present }

// Version returns the version the current payload was produced at. Only
// meaningful when Present() is true.
func (a VersionedArtifact[T]) Version() clock.Version { return a.version }

// Get returns the payload and whether the slot is present.
func (a VersionedArtifact[T]) Get() (T, bool) { return a.payload, a.present }

// Succeed replaces the slot with a new success at version v — "newer
// success replaces" (spec §4.4). A failure at any version must NOT call
// this; the caller simply leaves the slot untouched so the last success
// survives (spec §9).
func (a *VersionedArtifact[T]) Succeed(v clock.Version, payload T) {
	a.present = true
	a.version = v
	a.payload = payload
}

// WorkingMarkKind tags the WorkingMark variant (spec §3).
type WorkingMarkKind int

const (
	// WorkingUnvisited is the zero value: this file has not yet been
	// visited in any pass. It is distinct from Done so that a freshly
	// created FileState is never mistaken for up-to-date.
	WorkingUnvisited WorkingMarkKind = iota
	WorkingDone
	WorkingRoot
	WorkingDep
)

// WorkingMark records why a file is being visited in the current pass —
// read by the import adapter to detect cycles (spec §3, §9 "Cycle
// detection via pre-marking").
type WorkingMark struct {
	Kind WorkingMarkKind

	// WorkingDone
	DoneClock clock.Clock

	// WorkingDep
	ImporterURI uri.URI
	ImportSpan  uri.Span
}

// Done builds a Done(clock) mark.
func Done(c clock.Clock) WorkingMark { return WorkingMark{Kind: WorkingDone, DoneClock: c} }

// Root builds a WorkingRoot mark.
func Root() WorkingMark { return WorkingMark{Kind: WorkingRoot} }

// Dep builds a WorkingDep(importer, span) mark.
func Dep(importer uri.URI, span uri.Span) WorkingMark {
	return WorkingMark{Kind: WorkingDep, ImporterURI: importer, ImportSpan: span}
}

// IsDoneAt reports whether the mark is Done at exactly clock c.
func (m WorkingMark) IsDoneAt(c clock.Clock) bool {
	return m.Kind == WorkingDone && m.DoneClock == c
}

// Dependency is one edge in a FileState's dependency set: the imported
// URI plus the span of the import statement that introduced it.
type Dependency struct {
	URI  uri.URI
	Span uri.Span
}

// Kind distinguishes the two FileState shapes (spec §3).
type Kind int

const (
	KindOpened Kind = iota
	KindDisk
)

// OpenedData holds the fields only an Opened (editor-authoritative) file
// carries: the version parsing last ran against, and the three versioned
// stage artifacts plus the most recent error bundle.
type OpenedData struct {
	LastParsedVersion    clock.Version
	HasLastParsedVersion bool

	Parse   VersionedArtifact[*frontend.ParseTree]
	Resolve VersionedArtifact[ResolveArtifact]
	Typed   VersionedArtifact[TypedArtifact]

	Errors frontend.ErrorBundle
}

// ResolveArtifact is the payload of the Resolved versioned-artifact slot:
// the resolved tree plus the module's exported signature.
type ResolveArtifact struct {
	Tree      *frontend.ResolvedTree
	Signature *frontend.Signature
}

// TypedArtifact is the payload of the Typed versioned-artifact slot: the
// resolved program, its signature, the typing environment it ran against,
// and the typed program (spec §4.6 "Typed" request payload shape).
type TypedArtifact struct {
	Signature *frontend.Signature
	Resolved  *frontend.ResolvedTree
	Env       frontend.TypeEnv
	Typed     *frontend.TypedProgram
}

// DiskData holds the fields only a DiskState (not currently open) file
// carries: unversioned, since disk files have no editor version — just
// "the result from the last time we parsed these exact bytes".
type DiskData struct {
	HasLastParsedHash bool
	LastParsedHash    [32]byte

	ParseTree        *frontend.ParseTree
	ResolveSignature *frontend.Signature
	TypeEnv          frontend.TypeEnv
}

// State is one file's compilation state (spec §3 "FileState"). Exactly one
// of Opened/Disk is non-nil, matching Kind.
type State struct {
	Kind Kind
	Name nameindex.Name

	WorkingMark  WorkingMark
	CompileClock clock.Clock
	CheckClock   clock.Clock
	Dependencies []Dependency

	Opened *OpenedData
	Disk   *DiskData
}

// NewOpened creates a fresh Opened FileState shell with no parsed history.
func NewOpened(name nameindex.Name) *State {
	return &State{Kind: KindOpened, Name: name, Opened: &OpenedData{}}
}

// NewDisk creates a fresh Disk FileState shell with no parsed history.
func NewDisk(name nameindex.Name) *State {
	return &State{Kind: KindDisk, Name: name, Disk: &DiskData{}}
}

// Store holds one State per known URI plus the inverse name index, both
// guarded by a single mutex — the "software transactional" discipline of
// spec §5, realized in Go as one lock around one struct rather than
// fine-grained per-field locks, matching the teacher's MasterIndex shape.
// Per spec §9 ("single-writer discipline"), only internal/compiler's
// compile pass calls the mutating methods; the facade only ever reads.
type Store struct {
	mu     sync.RWMutex
	byURI  map[uri.URI]*State
	names  *nameindex.Index
	allocator *nameindex.Allocator
}

// NewStore creates an empty file-state store.
func NewStore(allocator *nameindex.Allocator) *Store {
	return &Store{
		byURI:     make(map[uri.URI]*State),
		names:     nameindex.NewIndex(),
		allocator: allocator,
	}
}

// Get returns a snapshot pointer to the State for u, or nil if absent.
// Callers must not mutate the returned *State from outside the compile
// pass; it is returned as a read-only snapshot for facade queries.
func (s *Store) Get(u uri.URI) *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byURI[u]
}

// FindByName implements Worker.findFile (spec §4.1).
func (s *Store) FindByName(name nameindex.Name) (uri.URI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names.Lookup(name)
}

// EnsureName returns the existing name for u if a FileState is present, or
// allocates a fresh one (without creating a FileState) — used when the
// import adapter needs a stable name for a URI before deciding whether it
// can actually be loaded.
func (s *Store) EnsureName(u uri.URI) nameindex.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.names.NameFor(u); ok {
		return name
	}
	return s.allocator.Fresh()
}

// Put installs (or replaces) the State for u, keeping the name index in
// sync — the only mutation entry point for the map, called exclusively by
// the compile pass (spec §9).
func (s *Store) Put(u uri.URI, st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURI[u] = st
	s.names.Put(u, st.Name)
}

// Delete removes the State (and its name-index entry) for u — called when
// loadFile finds a file has vanished from disk and was not Opened
// (spec §4.4).
func (s *Store) Delete(u uri.URI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byURI, u)
	s.names.Remove(u)
}

// Snapshot returns every currently-known URI. Used by the worker facade
// only for diagnostics/testing; the compile pass iterates the content
// store directly to decide what to (re)load.
func (s *Store) Snapshot() []uri.URI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uri.URI, 0, len(s.byURI))
	for u := range s.byURI {
		out = append(out, u)
	}
	return out
}
