package uri

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCollapsesSchemeCasing(t *testing.T) {
	assert.Equal(t, URI("file:///a/b.lang"), Normalize("File:///a/b.lang"))
	assert.Equal(t, URI("file:///a/b.lang"), Normalize("file:///a/b.lang"))
}

func TestNormalizeCollapsesSeparators(t *testing.T) {
	assert.Equal(t, Normalize(`a\b.lang`), Normalize("a/b.lang"))
}

func TestNormalizeNoScheme(t *testing.T) {
	assert.Equal(t, URI("a/b.lang"), Normalize("a/b.lang"))
}

func TestDirPreservesScheme(t *testing.T) {
	assert.Equal(t, "file:///a", Normalize("file:///a/b.lang").Dir())
	assert.Equal(t, "a", Normalize("a/b.lang").Dir())
}

func TestFilePathStripsScheme(t *testing.T) {
	u := Normalize("file:///tmp/proj/main.lang")
	assert.Equal(t, filepath.FromSlash("/tmp/proj/main.lang"), u.FilePath())
}

func TestFilePathNoScheme(t *testing.T) {
	u := Normalize("/tmp/proj/main.lang")
	assert.Equal(t, filepath.FromSlash("/tmp/proj/main.lang"), u.FilePath())
}

func TestFilePathWindowsDriveLetter(t *testing.T) {
	u := URI("file:///C:/proj/main.lang")
	assert.Equal(t, filepath.FromSlash("C:/proj/main.lang"), u.FilePath())
}

func TestFromFilePathRoundTripsThroughFilePath(t *testing.T) {
	u := FromFilePath("/tmp/proj/main.lang")
	assert.Equal(t, URI("file:///tmp/proj/main.lang"), u)
	assert.Equal(t, filepath.FromSlash("/tmp/proj/main.lang"), u.FilePath())
}

func TestFromFilePathWindowsDriveLetter(t *testing.T) {
	u := FromFilePath(`C:\proj\main.lang`)
	assert.Equal(t, URI("file:///C:/proj/main.lang"), u)
	assert.Equal(t, filepath.FromSlash("C:/proj/main.lang"), u.FilePath())
}

// TestFileSchemeURIReadsRealDisk exercises a "file://"-scheme URI through
// actual disk I/O, the route an MCP client's touch_file/update_file calls
// drive in production: a client never sends a bare OS path, and FilePath
// is the one place that scheme gets stripped back off before os.ReadFile.
func TestFileSchemeURIReadsRealDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lang")
	const want = "let x = 1;\n"
	assert.NoError(t, os.WriteFile(path, []byte(want), 0o644))

	u := FromFilePath(path)
	assert.Regexp(t, "^file://", string(u))

	got, err := os.ReadFile(u.FilePath())
	assert.NoError(t, err)
	assert.Equal(t, want, string(got))

	info, err := os.Stat(u.FilePath())
	assert.NoError(t, err)
	assert.False(t, info.IsDir())
}
