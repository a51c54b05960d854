package importadapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/uri"
)

func writeTemp(t *testing.T, dir, name, contents string) uri.URI {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return uri.Normalize(path)
}

func TestImportRelativeResolvesAndRecordsDependency(t *testing.T) {
	dir := t.TempDir()
	importerURI := writeTemp(t, dir, "main.lang", "import \"./b\"\n")
	depURI := writeTemp(t, dir, "b.lang", "let x = 1\n")

	var loadedTarget uri.URI
	load := func(target, importer uri.URI, span uri.Span) Resolution {
		loadedTarget = target
		return Resolution{Found: true, Name: 7, Signature: &frontend.Signature{Exports: frontend.SymbolTable{"x": frontend.Type{Tag: "int"}}}}
	}

	a := New(importerURI, Config{}, load, nil)
	outcome := a.Import("./b.lang", uri.Span{StartLine: 1})

	if outcome.Kind != frontend.ImportedOutcome {
		t.Fatalf("Import() kind = %v, want ImportedOutcome", outcome.Kind)
	}
	if loadedTarget != depURI {
		t.Errorf("loader called with target %q, want %q", loadedTarget, depURI)
	}
	deps := a.Dependencies()
	if _, ok := deps[depURI]; !ok {
		t.Errorf("expected Dependencies() to contain %q, got %v", depURI, deps)
	}
}

func TestImportLibraryPathFirstHitWins(t *testing.T) {
	libA := t.TempDir()
	libB := t.TempDir()
	// Only libB has the file; libA is tried first and must fail silently.
	target := writeTemp(t, libB, "pkg.lang", "let y = 2\n")

	importerURI := uri.Normalize(filepath.Join(t.TempDir(), "main.lang"))
	load := func(tgt, importer uri.URI, span uri.Span) Resolution {
		return Resolution{Found: true, Name: 1}
	}

	a := New(importerURI, Config{LibraryPaths: []string{libA, libB}}, load, nil)
	outcome := a.Import("pkg.lang", uri.Span{})
	if outcome.Kind != frontend.ImportedOutcome {
		t.Fatalf("Import() kind = %v, want ImportedOutcome", outcome.Kind)
	}
	deps := a.Dependencies()
	if _, ok := deps[target]; !ok {
		t.Errorf("expected dependency on %q, got %v", target, deps)
	}
}

func TestImportNotFoundReturnsSuggestions(t *testing.T) {
	importerURI := uri.Normalize(filepath.Join(t.TempDir(), "main.lang"))
	load := func(tgt, importer uri.URI, span uri.Span) Resolution { return Resolution{} }
	candidates := func() []string { return []string{"widget", "gadget", "completely_unrelated_entry"} }

	a := New(importerURI, Config{}, load, candidates)
	outcome := a.Import("./widgett", uri.Span{})

	if outcome.Kind != frontend.NotFoundOutcome {
		t.Fatalf("Import() kind = %v, want NotFoundOutcome", outcome.Kind)
	}
	found := false
	for _, s := range outcome.Suggestions {
		if s == "widget" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected suggestions to include %q, got %v", "widget", outcome.Suggestions)
	}
}

func TestImportCycleOutcome(t *testing.T) {
	dir := t.TempDir()
	importerURI := writeTemp(t, dir, "a.lang", "import \"./b\"\n")
	writeTemp(t, dir, "b.lang", "import \"./a\"\n")

	load := func(tgt, importer uri.URI, span uri.Span) Resolution {
		return Resolution{Found: true, Cycle: true, Name: 3}
	}
	a := New(importerURI, Config{}, load, nil)
	outcome := a.Import("./b.lang", uri.Span{StartLine: 1})
	if outcome.Kind != frontend.ImportCycleOutcome {
		t.Fatalf("Import() kind = %v, want ImportCycleOutcome", outcome.Kind)
	}
	if len(outcome.Cycle) != 1 || outcome.Cycle[0].RelativePath != "./b.lang" {
		t.Errorf("Import() cycle chain = %+v", outcome.Cycle)
	}
}

func TestRecordDependencyKeepsFirstSpanPerURI(t *testing.T) {
	dir := t.TempDir()
	importerURI := writeTemp(t, dir, "main.lang", "")
	writeTemp(t, dir, "b.lang", "")

	load := func(tgt, importer uri.URI, span uri.Span) Resolution {
		return Resolution{Found: true, Name: 1}
	}
	a := New(importerURI, Config{}, load, nil)
	a.Import("./b.lang", uri.Span{StartLine: 1})
	a.Import("./b.lang", uri.Span{StartLine: 99})

	deps := a.Dependencies()
	var entry frontend.CycleEntry
	for _, v := range deps {
		entry = v
	}
	if entry.Span.StartLine != 1 {
		t.Errorf("expected the first-seen span (line 1) to be retained, got line %d", entry.Span.StartLine)
	}
}

func TestMatchesSourcePatternEmptyPatternAlwaysMatches(t *testing.T) {
	if !MatchesSourcePattern("", "anything/at/all.txt") {
		t.Error("empty pattern should match everything")
	}
	if !MatchesSourcePattern("**/*.lang", "lib/core/util.lang") {
		t.Error("expected **/*.lang to match a nested .lang file")
	}
	if MatchesSourcePattern("**/*.lang", "lib/core/util.txt") {
		t.Error("expected **/*.lang not to match a .txt file")
	}
}
