package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// configFileName is the worker's KDL configuration file, checked in the
// project root (or the path given directly, if it names a file).
const configFileName = ".compileworker.kdl"

// LoadKDL attempts to load configuration from projectRoot/.compileworker.kdl.
// Returns (nil, nil) when no file is present — callers fall back to Default().
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := projectRoot
	if info, err := os.Stat(projectRoot); err == nil && info.IsDir() {
		kdlPath = filepath.Join(projectRoot, configFileName)
	}

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", kdlPath, err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}

	root := filepath.Dir(kdlPath)
	if cfg.Project.Root == "" {
		absRoot, err := filepath.Abs(root)
		if err == nil {
			cfg.Project.Root = absRoot
		} else {
			cfg.Project.Root = root
		}
	} else if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(root, cfg.Project.Root))
	}

	return cfg, nil
}

// parseKDL parses the worker's KDL document shape:
//
//	project {
//	    root "."
//	    name "myproject"
//	}
//	compile {
//	    library_path "./vendor/lib"
//	    library_path "/usr/local/share/lang/lib"
//	    max_file_size 10485760
//	    watch_mode true
//	    watch_debounce_ms 300
//	    refresh_debounce_ms 50
//	}
func parseKDL(content string) (*Config, error) {
	cfg := Default()
	// Default() stamps Project.Root from cwd; the KDL document may override it.
	cfg.Project.Root = ""

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "compile":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "library_path":
					if s, ok := firstStringArg(cn); ok {
						cfg.Compile.LibraryPaths = append(cfg.Compile.LibraryPaths, s)
					}
				case "max_file_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Compile.MaxFileSize = int64(v)
					}
				case "watch_mode":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Compile.WatchMode = b
					}
				case "watch_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Compile.WatchDebounceMs = v
					}
				case "refresh_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Compile.RefreshDebounceMs = v
					}
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
