package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKDL_Defaults(t *testing.T) {
	cfg, err := parseKDL("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Empty(t, cfg.Compile.LibraryPaths)
	assert.Equal(t, int64(10*1024*1024), cfg.Compile.MaxFileSize)
	assert.True(t, cfg.Compile.WatchMode)
	assert.Equal(t, 300, cfg.Compile.WatchDebounceMs)
	assert.Equal(t, 50, cfg.Compile.RefreshDebounceMs)
}

func TestParseKDL_LibraryPaths(t *testing.T) {
	kdlContent := `
compile {
    library_path "./vendor/lib"
    library_path "/usr/local/share/lang/lib"
}
`
	cfg, err := parseKDL(kdlContent)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"./vendor/lib", "/usr/local/share/lang/lib"}, cfg.Compile.LibraryPaths)
}

func TestParseKDL_WatchSettings(t *testing.T) {
	kdlContent := `
compile {
    watch_mode false
    watch_debounce_ms 750
    refresh_debounce_ms 25
}
`
	cfg, err := parseKDL(kdlContent)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.False(t, cfg.Compile.WatchMode)
	assert.Equal(t, 750, cfg.Compile.WatchDebounceMs)
	assert.Equal(t, 25, cfg.Compile.RefreshDebounceMs)
}

func TestParseKDL_MaxFileSize(t *testing.T) {
	kdlContent := `
compile {
    max_file_size 5242880
}
`
	cfg, err := parseKDL(kdlContent)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, int64(5242880), cfg.Compile.MaxFileSize)
}

func TestParseKDL_FullConfig(t *testing.T) {
	kdlContent := `
project {
    root "."
    name "test-project"
}

compile {
    library_path "./lib"
    max_file_size 1048576
    watch_mode true
    watch_debounce_ms 200
    refresh_debounce_ms 40
}
`
	cfg, err := parseKDL(kdlContent)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "test-project", cfg.Project.Name)
	assert.Equal(t, []string{"./lib"}, cfg.Compile.LibraryPaths)
	assert.Equal(t, int64(1048576), cfg.Compile.MaxFileSize)
	assert.True(t, cfg.Compile.WatchMode)
	assert.Equal(t, 200, cfg.Compile.WatchDebounceMs)
	assert.Equal(t, 40, cfg.Compile.RefreshDebounceMs)
}

func TestLoadKDL_MissingFile(t *testing.T) {
	cfg, err := LoadKDL(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}
