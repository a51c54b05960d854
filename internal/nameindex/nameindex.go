// Package nameindex provides the process-wide fresh-name generator used by
// compile stages in place of URIs (spec §3 "Name allocator"), and the
// bidirectional name<->URI index that backs Worker.findFile.
package nameindex

import (
	"sync/atomic"

	"github.com/loomkit/compileworker/internal/uri"
)

// Name is a fresh integer-tagged symbol compile stages use in place of a
// file's URI (spec §3 "File identity").
type Name uint64

// Allocator hands out fresh Names. It is process-wide and safe for
// concurrent use because compile stages (desugaring, type inference) may
// need fresh names for synthetic bindings in addition to file names.
type Allocator struct {
	next atomic.Uint64
}

// NewAllocator returns an allocator starting from 1 (0 is reserved as the
// zero value / "no name").
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Fresh returns a Name never returned before by this allocator.
func (a *Allocator) Fresh() Name {
	return Name(a.next.Add(1))
}

// Index is the inverse-of-name mapping over all present FileStates (spec §3
// invariant: "The fileVars index is the inverse of name over all present
// FileStates"). It is not internally synchronized — the owning store
// (internal/filestate.Store) holds the lock that also guards the FileState
// map, so a single critical section keeps both in sync, matching the
// "single-writer" discipline of spec §9.
type Index struct {
	byName map[Name]uri.URI
	byURI  map[uri.URI]Name
}

// NewIndex creates an empty name index.
func NewIndex() *Index {
	return &Index{
		byName: make(map[Name]uri.URI),
		byURI:  make(map[uri.URI]Name),
	}
}

// Put records (or replaces) the mapping for u, removing any prior mapping
// that name held for a different URI first.
func (idx *Index) Put(u uri.URI, name Name) {
	if prevURI, ok := idx.byName[name]; ok && prevURI != u {
		delete(idx.byURI, prevURI)
	}
	if prevName, ok := idx.byURI[u]; ok && prevName != name {
		delete(idx.byName, prevName)
	}
	idx.byName[name] = u
	idx.byURI[u] = name
}

// Remove deletes whatever mapping exists for u.
func (idx *Index) Remove(u uri.URI) {
	if name, ok := idx.byURI[u]; ok {
		delete(idx.byName, name)
		delete(idx.byURI, u)
	}
}

// Lookup implements Worker.findFile: compiler-internal name -> URI.
func (idx *Index) Lookup(name Name) (uri.URI, bool) {
	u, ok := idx.byName[name]
	return u, ok
}

// NameFor returns the name currently assigned to u, if any.
func (idx *Index) NameFor(u uri.URI) (Name, bool) {
	name, ok := idx.byURI[u]
	return name, ok
}
