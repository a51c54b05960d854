// Package config loads the worker's one mutable knob set (spec §6
// "Configuration": additional library-path prefixes) plus the ambient
// settings a long-running worker process needs (watch debounce, file size
// ceiling), following the teacher's KDL-file-plus-defaults loading shape.
package config

import (
	"os"
)

// Config is the worker process configuration. Project.Root and LibraryPaths
// feed updateConfig's derived library-path list (spec §4.1).
type Config struct {
	Version int
	Project Project
	Compile Compile
}

type Project struct {
	Root string
	Name string
}

// Compile holds settings for the refresh/compile loop and the watch bridge.
type Compile struct {
	// LibraryPaths are extra library-path prefixes, tried in declaration
	// order for import paths that do not start with "." (spec §4.4); a
	// relative import that is not found never falls back to them.
	LibraryPaths []string

	// StandardLibraryPaths are discovered automatically (e.g. a vendored
	// stdlib directory next to the worker binary) and always searched
	// after LibraryPaths.
	StandardLibraryPaths []string

	MaxFileSize     int64
	WatchMode       bool
	WatchDebounceMs int
	RefreshDebounceMs int
}

// Load reads .compileworker.kdl from path (a directory or the file itself),
// falling back to Default() when absent.
func Load(path string) (*Config, error) {
	cfg, err := LoadKDL(path)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	return Default(), nil
}

// Default returns the built-in configuration used when no KDL file is found.
func Default() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		Version: 1,
		Project: Project{Root: cwd},
		Compile: Compile{
			LibraryPaths:         []string{},
			StandardLibraryPaths: []string{},
			MaxFileSize:          10 * 1024 * 1024,
			WatchMode:            true,
			WatchDebounceMs:      300,
			RefreshDebounceMs:    50,
		},
	}
}

// LibrarySearchOrder returns a copy of the library-path list, external paths
// first (declaration order), standard-discovery paths appended last — this
// is the list updateConfig recomputes (spec §4.1, §6 "Configuration").
func (c *Config) LibrarySearchOrder() []string {
	order := make([]string, 0, len(c.Compile.LibraryPaths)+len(c.Compile.StandardLibraryPaths))
	order = append(order, c.Compile.LibraryPaths...)
	order = append(order, c.Compile.StandardLibraryPaths...)
	return order
}
