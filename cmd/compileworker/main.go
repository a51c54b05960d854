package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/loomkit/compileworker/internal/cache"
	"github.com/loomkit/compileworker/internal/compiler"
	"github.com/loomkit/compileworker/internal/config"
	"github.com/loomkit/compileworker/internal/debug"
	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/frontend/toy"
	"github.com/loomkit/compileworker/internal/mcpfacade"
	"github.com/loomkit/compileworker/internal/uri"
	"github.com/loomkit/compileworker/internal/version"
	"github.com/loomkit/compileworker/internal/watch"
	"github.com/loomkit/compileworker/internal/worker"
)

func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if rootFlag := c.String("root"); rootFlag != "" && configPath == "" {
		configPath = rootFlag
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if rootFlag := c.String("root"); rootFlag != "" {
		absRoot, err := filepath.Abs(rootFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root path %q: %w", rootFlag, err)
		}
		cfg.Project.Root = absRoot
	}
	if libs := c.StringSlice("library-path"); len(libs) > 0 {
		cfg.Compile.LibraryPaths = append(cfg.Compile.LibraryPaths, libs...)
	}
	return cfg, nil
}

func buildPipeline() compiler.Pipeline {
	return compiler.Pipeline{
		Parser:     toy.Parser{},
		Resolver:   toy.Resolver{},
		Desugarer:  toy.Desugarer{},
		Inferencer: toy.Inferencer{},
		Verifier:   toy.Verifier{},
		Builtins:   frontend.SymbolTable{},
	}
}

func runWorker(c *cli.Context) error {
	// The only transport this binary serves is MCP over stdio (see
	// mcpfacade.Server.Run): any stray write to stdout would corrupt the
	// JSON-RPC stream, so debug logging is disabled for the lifetime of
	// the process rather than routed to a writer that could ever touch it.
	debug.SetMCPMode(true)

	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return debug.Fatal("failed to load config: %v\n", err)
	}

	parseCache := cache.New(cache.DefaultMaxEntries, cache.DefaultTTL)
	stop := make(chan struct{})
	parseCache.RunSweeper(5*time.Minute, stop)
	defer close(stop)

	w := worker.New(worker.Options{
		Pipeline: buildPipeline(),
		Config:   cfg,
		Cache:    parseCache,
		Publish: func(u uri.URI, bundle frontend.ErrorBundle) {
			debug.LogCompile("diagnostics for %s: %d parse, %d resolve, %d type, %d verify",
				u, len(bundle.Parse), len(bundle.Resolve), len(bundle.Type), len(bundle.Verify))
		},
	})
	w.Start()
	defer func() {
		if err := w.Close(); err != nil {
			debug.Printf("worker shutdown error: %v\n", err)
		}
	}()

	if cfg.Compile.WatchMode {
		watcher, err := watch.New(cfg.Project.Root, "", cfg.Compile.WatchDebounceMs, func(uris []uri.URI) {
			for _, u := range uris {
				w.TouchFile(u)
			}
		})
		if err != nil {
			debug.Printf("watch mode disabled: failed to start watcher: %v\n", err)
		} else if err := watcher.Start(); err != nil {
			debug.Printf("watch mode disabled: %v\n", err)
		} else {
			defer watcher.Stop()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := mcpfacade.New(w)
	return server.Run(ctx)
}

func main() {
	app := &cli.App{
		Name:                   "compileworker",
		Usage:                  "Incremental compilation worker serving parse/resolve/typecheck requests over MCP",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file or project directory containing .compileworker.kdl",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Project root directory",
			},
			&cli.StringSliceFlag{
				Name:  "library-path",
				Usage: "Additional library search path (repeatable)",
			},
		},
		Action: runWorker,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "compileworker: %v\n", err)
		os.Exit(1)
	}
}
