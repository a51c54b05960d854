// Package compiler drives the per-file compile pipeline (spec §4.4):
// parse, then (for files that changed) resolve with imports, desugar,
// infer, and optionally verify. It is the only writer of FileState
// artifact fields (spec §9 "single-writer discipline") and the only
// package that recurses through imports via loadFile.
package compiler

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/loomkit/compileworker/internal/cache"
	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/contentstore"
	"github.com/loomkit/compileworker/internal/debug"
	"github.com/loomkit/compileworker/internal/errors"
	"github.com/loomkit/compileworker/internal/filestate"
	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/importadapter"
	"github.com/loomkit/compileworker/internal/nameindex"
	"github.com/loomkit/compileworker/internal/uri"
)

// Pipeline bundles the external collaborator stages the compile pass calls
// through (spec §6). builtins is the symbol table every module's
// resolution starts from.
type Pipeline struct {
	Parser     frontend.Parser
	Resolver   frontend.Resolver
	Desugarer  frontend.Desugarer
	Inferencer frontend.Inferencer
	Verifier   frontend.Verifier
	Builtins   frontend.SymbolTable
}

// Publisher is called with an Opened file's fresh ErrorBundle whenever a
// compile pass changes it (spec §6, §4.4), and with an empty bundle for a
// URI whose file has vanished from disk. Diagnostics of Disk files are
// never published. A nil Publisher is allowed; Pass treats it as "no one
// listening".
type Publisher func(u uri.URI, bundle frontend.ErrorBundle)

// FileDone is called once per loadFile completion — changed or not,
// Opened or Disk, even when the file vanished — so the caller can run
// queueRequests(uri) unconditionally as spec §4.4 requires ("commit,
// publish errors ... and trigger queueRequests(uri)"; the publish half is
// conditional, the queueRequests half is not).
type FileDone func(u uri.URI)

// Pass is one execution of the compile task (spec §4.4), stamped with a
// single baseClock. It is constructed fresh by the refresh scheduler for
// every trigger and discarded once Run returns or its context is
// cancelled.
type Pass struct {
	BaseClock clock.Clock

	Content   *contentstore.Store
	States    *filestate.Store
	Allocator *nameindex.Allocator
	Adapter   importadapter.Config
	Pipeline  Pipeline
	Publish   Publisher
	Done      FileDone

	// Cache, if set, short-circuits re-parsing bytes this process has
	// already seen (purely an optimization — never consulted for the
	// hash/version change tests themselves).
	Cache *cache.Cache

	visited map[uri.URI]bool
}

// NewPass constructs a Pass stamped at baseClock.
func NewPass(baseClock clock.Clock, content *contentstore.Store, states *filestate.Store, allocator *nameindex.Allocator, adapterCfg importadapter.Config, pipeline Pipeline, publish Publisher, done FileDone, parseCache *cache.Cache) *Pass {
	return &Pass{
		BaseClock: baseClock,
		Content:   content,
		States:    states,
		Allocator: allocator,
		Done:      done,
		Adapter:   adapterCfg,
		Pipeline:  pipeline,
		Publish:   publish,
		Cache:     parseCache,
		visited:   make(map[uri.URI]bool),
	}
}

// parseTops runs the configured parser, consulting the cache first when one
// is configured.
func (p *Pass) parseTops(text string) (*frontend.ParseTree, []frontend.ParseError) {
	if p.Cache == nil {
		return p.Pipeline.Parser.ParseTops(context.Background(), text)
	}
	key := cache.KeyOf(text)
	if tree, errs, ok := p.Cache.Get(key); ok {
		return tree, errs
	}
	tree, errs := p.Pipeline.Parser.ParseTops(context.Background(), text)
	p.Cache.Put(key, tree, errs)
	return tree, errs
}

// Run executes the pass: priority first (if any), then every
// currently-Opened URI not yet visited this pass (spec §4.4 step 1-2). It
// is safe to abandon a Run mid-flight — every per-file commit already
// landed, so the refresh scheduler's kill-and-restart needs no special
// unwind (spec §5, §9).
func (p *Pass) Run(ctx context.Context, priority uri.URI, candidates importadapter.CandidateLister) {
	defer func() {
		if r := recover(); r != nil {
			violation, ok := r.(*errors.InvariantViolation)
			if !ok {
				violation = &errors.InvariantViolation{Invariant: "unexpected", Detail: fmt.Sprint(r)}
			}
			debug.CatastrophicError("compile pass baseClock=%d recovered: %v", p.BaseClock, violation)
		}
	}()

	if priority != "" {
		p.loadFile(ctx, priority, noImporter(), candidates)
	}

	snapshot := p.Content.Snapshot()
	for u, c := range snapshot {
		if ctx.Err() != nil {
			return
		}
		if c.Kind != contentstore.KindOpened {
			continue
		}
		if p.visited[u] {
			continue
		}
		p.loadFile(ctx, u, noImporter(), candidates)
	}
}

// importerLink names who is requesting a file be loaded: either "no one"
// (a root/priority visit) or a specific importing file + span.
type importerLink struct {
	has bool
	uri uri.URI
	span uri.Span
}

func noImporter() importerLink { return importerLink{} }

// loadFile is spec §4.4's central recursive function. It is also exposed
// indirectly to the import adapter via a Loader closure (see
// resolutionLoader) so that resolving an import and visiting a root file
// run through the exact same algorithm.
func (p *Pass) loadFile(ctx context.Context, u uri.URI, importer importerLink, candidates importadapter.CandidateLister) *filestate.State {
	if ctx.Err() != nil {
		return p.States.Get(u)
	}

	old := p.States.Get(u)
	if old != nil && old.CheckClock == p.BaseClock {
		// Already visited this pass (spec §4.4: "return it unchanged").
		return old
	}
	hadOpened := old != nil && old.Kind == filestate.KindOpened
	var prevErrors frontend.ErrorBundle
	if hadOpened {
		prevErrors = old.Opened.Errors
	}

	changed, tree, shell, hash, vanished := p.parseFile(u, old)
	if vanished {
		p.States.Delete(u)
		if p.Publish != nil {
			p.Publish(u, frontend.ErrorBundle{})
		}
		if p.Done != nil {
			p.Done(u)
		}
		return nil
	}

	shell.CheckClock = p.BaseClock
	if importer.has {
		shell.WorkingMark = filestate.Dep(importer.uri, importer.span)
	} else {
		shell.WorkingMark = filestate.Root()
	}
	p.States.Put(u, shell)
	p.visited[u] = true

	if !changed && old != nil && old.WorkingMark.Kind != filestate.WorkingDone && old.CheckClock != p.BaseClock {
		// The prior pass never finished visiting this file (spec §4.4
		// second changed-detection rule) — treat it as changed rather
		// than trust stale artifacts.
		changed = true
	}
	if !changed {
		changed = p.dependenciesChanged(ctx, shell, candidates)
	}

	var adapter *importadapter.Adapter
	if changed && tree != nil {
		adapter = p.runPipeline(ctx, u, shell, tree, candidates)
	}

	shell.WorkingMark = filestate.Done(p.BaseClock)
	if changed {
		shell.CompileClock = p.BaseClock
	}
	if adapter != nil {
		shell.Dependencies = dependenciesFromAdapter(adapter)
	}
	if shell.Kind == filestate.KindDisk && hash != nil {
		shell.Disk.LastParsedHash = *hash
		shell.Disk.HasLastParsedHash = true
		p.Content.ClearDirty(u)
	}
	p.States.Put(u, shell)

	if changed && shell.Kind == filestate.KindOpened && p.Publish != nil && (!hadOpened || !prevErrors.Equal(shell.Opened.Errors)) {
		p.Publish(u, shell.Opened.Errors)
	}
	if p.Done != nil {
		p.Done(u)
	}

	debug.LogCompile("loadFile %s changed=%v compileClock=%d", u, changed, shell.CompileClock)
	return shell
}

// dependenciesChanged implements spec §4.4's third changed-detection rule:
// recursively loadFile every recorded dependency; the file is changed iff
// any dependency is missing or has a newer compileClock than this file.
func (p *Pass) dependenciesChanged(ctx context.Context, shell *filestate.State, candidates importadapter.CandidateLister) bool {
	dependentURI, _ := p.States.FindByName(shell.Name)
	for _, dep := range shell.Dependencies {
		depState := p.loadFile(ctx, dep.URI, importerLink{has: true, uri: dependentURI, span: dep.Span}, candidates)
		if depState == nil {
			return true
		}
		if depState.CompileClock > shell.CompileClock {
			return true
		}
	}
	return false
}

// runPipeline invokes resolve -> desugar -> infer -> (verify) and applies
// the versioned-artifact rule: newer success replaces, failure retains the
// last success (spec §4.4, §9). Returns the import adapter used, so the
// caller can install the accumulated dependency set.
func (p *Pass) runPipeline(ctx context.Context, u uri.URI, shell *filestate.State, tree *frontend.ParseTree, candidates importadapter.CandidateLister) *importadapter.Adapter {
	adapter := importadapter.New(u, p.Adapter, p.resolutionLoader(ctx, candidates), candidates)

	var bundle frontend.ErrorBundle
	if shell.Kind == filestate.KindOpened {
		bundle.Parse = shell.Opened.Errors.Parse
	}
	resResult, resErrs := p.Pipeline.Resolver.ResolveProgram(ctx, u, p.Pipeline.Builtins, tree, adapter)
	bundle.Resolve = resErrs

	var version clock.Version
	if shell.Kind == filestate.KindOpened {
		version = shell.Opened.LastParsedVersion
	}

	if resResult != nil {
		desugared := p.Pipeline.Desugarer.DesugarProgram(resResult.Tree)
		env := envFromSignature(p.Pipeline.Builtins, resResult.Signature)
		inferResult, typeErrs := p.Pipeline.Inferencer.InferProgram(ctx, env, desugared)
		bundle.Type = typeErrs

		if shell.Kind == filestate.KindOpened {
			shell.Opened.Resolve.Succeed(version, filestate.ResolveArtifact{Tree: resResult.Tree, Signature: resResult.Signature})
		} else {
			shell.Disk.ResolveSignature = resResult.Signature
		}

		if inferResult != nil && inferResult.Typed != nil && !frontend.HasFatalTypeError(typeErrs) {
			// Exported symbols take their inferred types, so importers see
			// them through the shared signature.
			if resResult.Signature != nil {
				for name, t := range inferResult.Typed.Types {
					if _, ok := resResult.Signature.Exports[name]; ok {
						resResult.Signature.Exports[name] = t
					}
				}
			}
			if shell.Kind == filestate.KindOpened {
				artifact := filestate.TypedArtifact{
					Signature: resResult.Signature,
					Resolved:  resResult.Tree,
					Env:       env,
					Typed:     inferResult.Typed,
				}
				shell.Opened.Typed.Succeed(version, artifact)
				if p.Pipeline.Verifier != nil {
					bundle.Verify = p.Pipeline.Verifier.VerifyProgram(ctx, inferResult.Typed)
				}
			} else {
				shell.Disk.TypeEnv = env
			}
		}
	}

	if shell.Kind == filestate.KindOpened {
		shell.Opened.Errors = bundle
	}
	return adapter
}

func envFromSignature(builtins frontend.SymbolTable, sig *frontend.Signature) frontend.TypeEnv {
	env := make(frontend.TypeEnv, len(builtins))
	for k, v := range builtins {
		env[k] = v
	}
	if sig != nil {
		for k, v := range sig.Exports {
			env[k] = v
		}
	}
	return env
}

func dependenciesFromAdapter(a *importadapter.Adapter) []filestate.Dependency {
	m := a.Dependencies()
	out := make([]filestate.Dependency, 0, len(m))
	for u, entry := range m {
		out = append(out, filestate.Dependency{URI: u, Span: entry.Span})
	}
	return out
}

// resolutionLoader adapts Pass.loadFile to importadapter.Loader: it is how
// the import adapter recurses into the compile algorithm without
// internal/importadapter importing internal/compiler (avoiding a cycle;
// compiler already imports importadapter to construct Adapter values).
func (p *Pass) resolutionLoader(ctx context.Context, candidates importadapter.CandidateLister) importadapter.Loader {
	return func(target uri.URI, importerURI uri.URI, span uri.Span) importadapter.Resolution {
		state := p.loadFile(ctx, target, importerLink{has: true, uri: importerURI, span: span}, candidates)
		if state == nil {
			return importadapter.Resolution{Found: false}
		}
		if state.WorkingMark.Kind != filestate.WorkingDone {
			return importadapter.Resolution{Found: true, Cycle: true, Name: state.Name}
		}
		var sig *frontend.Signature
		switch state.Kind {
		case filestate.KindOpened:
			if artifact, ok := state.Opened.Resolve.Get(); ok {
				sig = artifact.Signature
			}
		case filestate.KindDisk:
			sig = state.Disk.ResolveSignature
		}
		return importadapter.Resolution{Found: true, Name: state.Name, Signature: sig}
	}
}

// parseFile implements spec §4.4's parseFile: uses editor text when
// Opened, otherwise reads and hashes the file's bytes and short-circuits
// when the hash is unchanged from the last successful parse.
func (p *Pass) parseFile(u uri.URI, old *filestate.State) (changed bool, tree *frontend.ParseTree, shell *filestate.State, hash *[32]byte, vanished bool) {
	content := p.Content.Get(u)

	if content != nil && content.Kind == contentstore.KindOpened {
		shell = openedShellFrom(old, p.Allocator)
		if shell.Opened.HasLastParsedVersion && shell.Opened.LastParsedVersion == content.Version {
			return false, parseTreeOf(shell), shell, nil, false
		}
		t, errs := p.parseTops(content.Text)
		shell.Opened.LastParsedVersion = content.Version
		shell.Opened.HasLastParsedVersion = true
		shell.Opened.Errors.Parse = errs
		if t != nil {
			shell.Opened.Parse.Succeed(content.Version, t)
		}
		return true, t, shell, nil, false
	}

	bytes, err := os.ReadFile(u.FilePath())
	if err != nil {
		if old != nil && old.Kind == filestate.KindOpened {
			// Opened content disappeared from disk but is still the
			// authoritative source; nothing to re-parse from disk.
			return false, parseTreeOf(old), old, nil, false
		}
		return false, nil, nil, nil, true
	}

	sum := sha256.Sum256(bytes)
	shell = diskShellFrom(old, p.Allocator)
	if shell.Disk.HasLastParsedHash && shell.Disk.LastParsedHash == sum {
		return false, shell.Disk.ParseTree, shell, &sum, false
	}
	t, parseErrs := p.parseTops(string(bytes))
	_ = parseErrs // disk files publish no diagnostics (spec §4.4: errors published only for Opened)
	shell.Disk.ParseTree = t
	return true, t, shell, &sum, false
}

func parseTreeOf(s *filestate.State) *frontend.ParseTree {
	if s == nil {
		return nil
	}
	if s.Kind == filestate.KindOpened {
		tree, _ := s.Opened.Parse.Get()
		return tree
	}
	return s.Disk.ParseTree
}

func openedShellFrom(old *filestate.State, allocator *nameindex.Allocator) *filestate.State {
	if old != nil && old.Kind == filestate.KindOpened {
		return old
	}
	name := allocator.Fresh()
	if old != nil {
		name = old.Name
	}
	return filestate.NewOpened(name)
}

func diskShellFrom(old *filestate.State, allocator *nameindex.Allocator) *filestate.State {
	if old != nil && old.Kind == filestate.KindDisk {
		return old
	}
	name := allocator.Fresh()
	if old != nil {
		name = old.Name
	}
	return filestate.NewDisk(name)
}
