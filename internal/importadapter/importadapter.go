// Package importadapter resolves the `import` paths a file's parse tree
// names to URIs (spec §4.4, §4.5), records the resulting dependency edges,
// and detects import cycles via the pre-descent WorkingMark the compile
// pass has already committed. It implements frontend.ImportAdapter so the
// collaborator resolver can call back into it without this package or
// frontend importing one another's internals beyond that interface.
package importadapter

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hbollon/go-edlib"

	"github.com/loomkit/compileworker/internal/debug"
	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/nameindex"
	"github.com/loomkit/compileworker/internal/uri"
)

// Resolution is what the compile pass's loadFile driver reports back for
// one imported URI, after (recursively) loading it.
type Resolution struct {
	// Found is false when the target does not exist on disk and has no
	// Opened content — the import cannot be satisfied at all.
	Found bool

	// Cycle is true when the target FileState exists but is still being
	// visited in this pass (workingMark != Done) — an import cycle
	// (spec §4.4: "report an ImportCycle error ... provisional empty
	// environment to let resolution continue").
	Cycle bool

	Name      nameindex.Name
	Signature *frontend.Signature
}

// Loader recursively loads (or re-validates) the target URI on behalf of
// an importer at span, exactly as the compile pass's own loadFile does for
// root/priority files — this is how the import adapter stays ignorant of
// FileState/content-store internals (avoiding an import cycle with
// internal/compiler) while still driving the same recursive algorithm.
type Loader func(target uri.URI, importerURI uri.URI, span uri.Span) Resolution

// CandidateLister returns the URIs of every currently known file (suggest
// compares their last path segments), so a NotFound outcome can be enriched with nearest-match suggestions
// (SPEC_FULL §10).
type CandidateLister func() []string

// Config is the subset of worker configuration the adapter needs: where to
// look for library imports, in search order (spec §4.4: "each library path
// is tried in order; the first hit wins"), and a source-file glob pattern.
// The adapter itself does not consult SourcePattern: suggestions come only
// from the CandidateLister, and no library root is scanned.
type Config struct {
	LibraryPaths   []string
	SourcePattern  string // e.g. "**/*.lang"; empty disables pattern filtering
}

// Adapter is the monadic structure threaded through one file's name
// resolution (spec §4.5): it answers "import this path" queries and
// accumulates the dependency map. One Adapter is constructed per
// loadFile/resolve call and discarded afterward — it is not shared across
// files or passes.
type Adapter struct {
	importerURI uri.URI
	cfg         Config
	load        Loader
	candidates  CandidateLister

	mu   sync.Mutex
	deps map[uri.URI]frontend.CycleEntry // accumulated dependency -> (relative path + span), spec §4.5 "one span retained per URI"
}

// New constructs an Adapter for one file's resolution pass.
func New(importerURI uri.URI, cfg Config, load Loader, candidates CandidateLister) *Adapter {
	return &Adapter{
		importerURI: importerURI,
		cfg:         cfg,
		load:        load,
		candidates:  candidates,
		deps:        make(map[uri.URI]frontend.CycleEntry),
	}
}

// Import implements frontend.ImportAdapter. Composition is left-to-right
// as the resolver walks import statements in source order; this method
// has no ordering requirement of its own (spec §4.5).
func (a *Adapter) Import(path string, span uri.Span) frontend.ImportOutcome {
	target, ok := a.resolvePath(path)
	if !ok {
		debug.LogCompile("import %q from %s: not found", path, a.importerURI)
		return frontend.ImportOutcome{
			Kind:         frontend.NotFoundOutcome,
			OriginalPath: path,
			Suggestions:  a.suggest(path),
		}
	}

	a.recordDependency(target, path, span)

	res := a.load(target, a.importerURI, span)
	if !res.Found {
		return frontend.ImportOutcome{
			Kind:         frontend.NotFoundOutcome,
			OriginalPath: path,
			Suggestions:  a.suggest(path),
		}
	}
	if res.Cycle {
		return frontend.ImportOutcome{
			Kind: frontend.ImportCycleOutcome,
			Cycle: []frontend.CycleEntry{
				{RelativePath: path, Span: span},
			},
		}
	}
	return frontend.ImportOutcome{
		Kind:      frontend.ImportedOutcome,
		Name:      nameString(res.Name),
		Signature: res.Signature,
	}
}

// Dependencies returns the accumulated URI -> (path, span) map this
// Adapter recorded, for the compile pass to install as the FileState's
// dependency set (spec §3 "dependencies").
func (a *Adapter) Dependencies() map[uri.URI]frontend.CycleEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uri.URI]frontend.CycleEntry, len(a.deps))
	for k, v := range a.deps {
		out[k] = v
	}
	return out
}

func (a *Adapter) recordDependency(target uri.URI, path string, span uri.Span) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.deps[target]; exists {
		// "one span retained per URI — the first seen in this pass is
		// fine" (spec §4.5).
		return
	}
	a.deps[target] = frontend.CycleEntry{RelativePath: path, Span: span}
}

// resolvePath implements spec §4.4's resolution rule: a "." prefix means
// relative to the importer's directory; otherwise each library path is
// tried in order and the first hit wins.
func (a *Adapter) resolvePath(path string) (uri.URI, bool) {
	if strings.HasPrefix(path, ".") {
		candidate := uri.Normalize(joinPath(a.importerURI.Dir(), path))
		if fileExists(candidate) {
			return candidate, true
		}
		return "", false
	}
	for _, root := range a.cfg.LibraryPaths {
		candidate := uri.Normalize(joinPath(root, path))
		if fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func joinPath(dir, rel string) string {
	dir = strings.TrimSuffix(dir, "/")
	rel = strings.TrimPrefix(rel, "./")
	if dir == "" {
		return rel
	}
	return dir + "/" + rel
}

func fileExists(u uri.URI) bool {
	info, err := os.Stat(u.FilePath())
	return err == nil && !info.IsDir()
}

// MatchesSourcePattern reports whether a library-root-relative path looks
// like a source file worth considering, per the given glob pattern. The
// adapter's own import resolution and suggestions do not call it.
func MatchesSourcePattern(pattern, relPath string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, relPath)
	return err == nil && ok
}

// suggest returns the nearest-match candidate names for a NotFound import,
// ranked by string similarity (SPEC_FULL §10: "NotFound enrichment").
// Never fatal: a failure of the fuzzy matcher just yields no suggestions.
func (a *Adapter) suggest(path string) []string {
	if a.candidates == nil {
		return nil
	}
	all := a.candidates()
	if len(all) == 0 {
		return nil
	}
	base := lastSegment(path)

	type scored struct {
		name  string
		score float32
	}
	var ranked []scored
	for _, name := range all {
		sim, err := edlib.StringsSimilarity(base, lastSegment(name), edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if sim < 0.6 {
			continue
		}
		ranked = append(ranked, scored{name: name, score: sim})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	const maxSuggestions = 3
	out := make([]string, 0, maxSuggestions)
	for i := 0; i < len(ranked) && i < maxSuggestions; i++ {
		out = append(out, ranked[i].name)
	}
	return out
}

func lastSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func nameString(n nameindex.Name) string {
	return "#" + strconv.FormatUint(uint64(n), 10)
}
