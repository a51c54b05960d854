package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomkit/compileworker/internal/uri"
)

func TestWatcherReportsWriteToSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lang")
	if err := os.WriteFile(path, []byte("let x = 1\n"), 0644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	changed := make(chan []uri.URI, 4)
	w, err := New(dir, ".lang", 20, func(uris []uri.URI) { changed <- uris })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("let x = 2\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}

	select {
	case uris := <-changed:
		if len(uris) != 1 || uris[0] != uri.FromFilePath(path) {
			t.Errorf("changed = %v, want [%v]", uris, uri.FromFilePath(path))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced change notification")
	}
}

func TestWatcherIgnoresNonSourceSuffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan []uri.URI, 4)
	w, err := New(dir, ".lang", 20, func(uris []uri.URI) { changed <- uris })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("hello again"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case uris := <-changed:
		t.Fatalf("expected no notification for a non-.lang file, got %v", uris)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherDebouncesBurstIntoOneBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "burst.lang")
	if err := os.WriteFile(path, []byte("let x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan []uri.URI, 4)
	w, err := New(dir, ".lang", 100, func(uris []uri.URI) { changed <- uris })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		os.WriteFile(path, []byte("let x = "+string(rune('0'+i))+"\n"), 0644)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case uris := <-changed:
		if len(uris) != 1 {
			t.Errorf("changed = %v, want exactly one batched URI", uris)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the debounced batch")
	}

	select {
	case extra := <-changed:
		t.Fatalf("expected exactly one batch, got a second: %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestShouldIgnoreDir(t *testing.T) {
	cases := map[string]bool{
		"/proj/.git":         true,
		"/proj/node_modules": true,
		"/proj/src":          false,
	}
	for path, want := range cases {
		if got := shouldIgnoreDir(path); got != want {
			t.Errorf("shouldIgnoreDir(%q) = %v, want %v", path, got, want)
		}
	}
}
