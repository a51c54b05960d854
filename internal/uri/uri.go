// Package uri defines the normalized file-identity type all of the
// worker's maps are keyed on (spec §3 "File identity"), plus the source
// span type used to point at one location in a file (import statements,
// diagnostics).
package uri

import (
	"path/filepath"
	"strings"
)

// URI is a normalized file identity: lower-cased scheme, path separators
// resolved to "/". Two different raw spellings of the same file normalize
// to the same URI and therefore the same map entry.
type URI string

// Normalize lower-cases the URI scheme (if any) and cleans path separators
// so callers never have to worry about "File:///a" vs "file:///a" or
// "a/b" vs `a\b` aliasing to different map entries (spec §3: "All maps are
// keyed on this normalized form").
func Normalize(raw string) URI {
	scheme, rest := splitScheme(raw)
	rest = filepath.ToSlash(rest)
	rest = strings.ReplaceAll(rest, `\`, "/")
	if scheme == "" {
		return URI(rest)
	}
	return URI(strings.ToLower(scheme) + "://" + strings.TrimPrefix(rest, "//"))
}

func splitScheme(raw string) (scheme, rest string) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return "", raw
	}
	return raw[:idx], raw[idx+3:]
}

// FilePath converts u to an OS-native path, stripping a leading "file://"
// (or any other scheme) the way an editor or LSP-style client would send
// it — this is the one place a scheme-bearing URI becomes an argument to
// os.ReadFile/os.Stat; every other use of URI treats it as an opaque,
// already-normalized map key. Handles the Windows drive-letter case, where
// the scheme-stripped remainder looks like "/C:/path" and the leading
// slash must be dropped before the path is usable.
func (u URI) FilePath() string {
	_, rest := splitScheme(string(u))
	if len(rest) >= 3 && rest[0] == '/' && rest[2] == ':' {
		rest = rest[1:]
	}
	return filepath.FromSlash(rest)
}

// FromFilePath builds a "file://"-scheme URI from an OS-native path, the
// exact inverse of FilePath — used by the disk watcher so a file it
// discovers via fsnotify's raw OS paths normalizes to the same URI an
// editor-style client would send over MCP for that same file. On Windows,
// where path already starts with a drive letter ("C:\proj\main.lang"), a
// leading "/" is inserted before the scheme so the result round-trips
// through FilePath (which expects "/C:/..." immediately after the scheme).
func FromFilePath(path string) URI {
	slash := filepath.ToSlash(path)
	if len(slash) >= 2 && slash[1] == ':' {
		slash = "/" + slash
	}
	return Normalize("file://" + slash)
}

// Dir returns the directory component of a URI, for resolving relative
// imports (spec §4.4: "resolves relative to the importer's file directory").
func (u URI) Dir() string {
	scheme, rest := splitScheme(string(u))
	dir := filepath.ToSlash(filepath.Dir(rest))
	if scheme == "" {
		return dir
	}
	return scheme + "://" + dir
}

// Span locates a range within a file's text — used for import statement
// locations and diagnostics. Line/Col are 1-based; the exact fidelity of
// editor-reported positions beyond this is explicitly out of scope
// (spec §1 Non-goals).
type Span struct {
	StartLine, StartCol int
	EndLine, EndCol     int
}
