// Package frontend defines the collaborator contract the compile worker
// calls through (spec §6 "Boundary with the compiler front-end"): parser,
// resolver, desugarer, inferencer, verifier. The worker core never
// implements language semantics itself — these interfaces are the seam.
//
// A deterministic reference implementation lives in internal/frontend/toy,
// used by the worker's own tests to drive real parse/resolve/infer cycles
// without a production compiler.
package frontend

import (
	"context"

	"github.com/loomkit/compileworker/internal/uri"
)

// Parser turns source text into a parse tree plus any parse errors (spec
// §6: "parseTops(text) → (optional parseTree, parseErrorList)").
type Parser interface {
	ParseTops(ctx context.Context, text string) (*ParseTree, []ParseError)
}

// Resolver runs name resolution over a parse tree. It is handed an
// ImportAdapter to resolve each `import` it encounters; the adapter both
// answers the query and records the dependency edge (spec §4.5, §6).
type Resolver interface {
	ResolveProgram(ctx context.Context, target uri.URI, builtins SymbolTable, tree *ParseTree, imports ImportAdapter) (*ResolveResult, []ResolveError)
}

// Desugarer lowers a resolved tree into the form the inferencer consumes
// (spec §6: "desugarProgram(resolvedTree) → desugared resolved tree").
type Desugarer interface {
	DesugarProgram(resolved *ResolvedTree) *ResolvedTree
}

// Inferencer runs type inference. Per spec §6 it may return typed-only,
// errors-only, or both (errors plus an optional typed program when no
// fatal type error occurred).
type Inferencer interface {
	InferProgram(ctx context.Context, env TypeEnv, desugared *ResolvedTree) (*InferResult, []TypeError)
}

// Verifier runs the program verifier. Invoked only for Opened files on
// successful typing (spec §4.4, §7).
type Verifier interface {
	VerifyProgram(ctx context.Context, typed *TypedProgram) []VerifyError
}

// ImportAdapter is the contract the Resolver calls back into for each
// import statement it encounters. internal/importadapter implements it.
type ImportAdapter interface {
	Import(path string, span uri.Span) ImportOutcome
}

// ImportOutcomeKind tags the variant of an import query outcome
// (spec §4.5).
type ImportOutcomeKind int

const (
	ImportedOutcome ImportOutcomeKind = iota
	ErroredOutcome
	NotFoundOutcome
	ImportCycleOutcome
)

// CycleEntry is one link of an import-cycle chain: the relative path as
// the importer wrote it, and the span of that import statement.
type CycleEntry struct {
	RelativePath string
	Span         uri.Span
}

// ImportOutcome is the tagged result of one "import this path" query
// (spec §4.5): Imported(name, signature) | Errored | NotFound(originalPath)
// | ImportCycle(chain).
type ImportOutcome struct {
	Kind ImportOutcomeKind

	// ImportedOutcome
	Name      string
	Signature *Signature

	// NotFoundOutcome
	OriginalPath string
	Suggestions  []string // nearest-match enrichment (SPEC_FULL §10)

	// ImportCycleOutcome
	Cycle []CycleEntry
}

// ParseTree is the opaque syntax tree produced by Parser. Its shape is
// collaborator-defined; the worker core only moves it between stages.
type ParseTree struct {
	Imports  []ImportDecl
	Bindings []Binding
}

// ImportDecl is one `import` statement found during parsing.
type ImportDecl struct {
	Path string
	Span uri.Span
}

// Binding is one top-level binding in surface syntax.
type Binding struct {
	Name string
	Span uri.Span
	Expr string // unparsed RHS text; the toy frontend evaluates this directly
}

// ParseError is one recoverable parse diagnostic.
type ParseError struct {
	Span    uri.Span
	Message string
}

// SymbolTable maps exported names to their type, used both as "builtin
// symbols" passed into ResolveProgram and as the signature an imported
// module exposes.
type SymbolTable map[string]Type

// Type is a minimal type representation sufficient for this worker's
// purposes: a printable tag plus nothing else. Production front ends would
// have a much richer representation; the worker core never inspects it.
type Type struct {
	Tag string
}

// Signature is what a successfully resolved module exposes to importers:
// its exported symbol table (spec §4.4 "signature").
type Signature struct {
	Exports SymbolTable
}

// ResolvedTree is a parse tree after name resolution (and, later,
// desugaring) has run over it.
type ResolvedTree struct {
	Source   *ParseTree
	Bindings []ResolvedBinding
}

// ResolvedBinding is one resolved top-level binding.
type ResolvedBinding struct {
	Name string
	Span uri.Span
	Expr string
}

// ResolveResult is what a successful ResolveProgram call returns
// (spec §6: "ResolveResult{resolvedTree, signature}").
type ResolveResult struct {
	Tree      *ResolvedTree
	Signature *Signature
}

// ResolveErrorKind tags the variant of a resolve-stage diagnostic
// (spec §7: "Resolve errors — include ImportError ... and ImportCycle").
type ResolveErrorKind int

const (
	ImportErrorKind ResolveErrorKind = iota
	ImportCycleErrorKind
	OtherResolveErrorKind
)

// ResolveError is one resolve-stage diagnostic.
type ResolveError struct {
	Kind ResolveErrorKind
	Span uri.Span

	// ImportErrorKind
	Path string

	// ImportCycleErrorKind
	Cycle []CycleEntry

	// OtherResolveErrorKind
	Message string
}

// TypeEnv is the typing environment an inference pass runs against —
// builtins plus whatever imported modules' signatures contributed.
type TypeEnv map[string]Type

// TypedProgram is a desugared, resolved tree annotated with inferred
// types.
type TypedProgram struct {
	Source *ResolvedTree
	Types  map[string]Type
}

// InferResult is what a successful InferProgram call returns when it
// produces a typed program (possibly alongside non-fatal TypeErrors).
type InferResult struct {
	Typed *TypedProgram
}

// TypeErrorSeverity distinguishes fatal from advisory type diagnostics
// (spec §7: "if any of severity 'error' appear, the typed artifact is
// withheld; non-error type diagnostics still yield a typed artifact").
type TypeErrorSeverity int

const (
	SeverityError TypeErrorSeverity = iota
	SeverityWarning
)

// TypeError is one type-inference diagnostic.
type TypeError struct {
	Severity TypeErrorSeverity
	Span     uri.Span
	Message  string
}

// VerifyError is one program-verifier diagnostic.
type VerifyError struct {
	Span    uri.Span
	Message string
}

// ErrorBundle aggregates the four diagnostic kinds published per file
// (spec §7). Two bundles compare Equal when every field holds the same
// diagnostics in the same order, which is what "publish(uri, ErrorBundle)
// invoked ... only when the bundle changed" (spec §6) tests against.
type ErrorBundle struct {
	Parse  []ParseError
	Resolve []ResolveError
	Type    []TypeError
	Verify  []VerifyError
}

// Equal reports whether two bundles carry the same diagnostics.
func (b ErrorBundle) Equal(o ErrorBundle) bool {
	if len(b.Parse) != len(o.Parse) || len(b.Resolve) != len(o.Resolve) ||
		len(b.Type) != len(o.Type) || len(b.Verify) != len(o.Verify) {
		return false
	}
	for i := range b.Parse {
		if b.Parse[i] != o.Parse[i] {
			return false
		}
	}
	for i := range b.Type {
		if b.Type[i] != o.Type[i] {
			return false
		}
	}
	for i := range b.Verify {
		if b.Verify[i] != o.Verify[i] {
			return false
		}
	}
	for i := range b.Resolve {
		if !resolveErrorsEqual(b.Resolve[i], o.Resolve[i]) {
			return false
		}
	}
	return true
}

func resolveErrorsEqual(a, b ResolveError) bool {
	if a.Kind != b.Kind || a.Span != b.Span || a.Path != b.Path || a.Message != b.Message {
		return false
	}
	if len(a.Cycle) != len(b.Cycle) {
		return false
	}
	for i := range a.Cycle {
		if a.Cycle[i] != b.Cycle[i] {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the bundle carries no diagnostics at all.
func (b ErrorBundle) IsEmpty() bool {
	return len(b.Parse) == 0 && len(b.Resolve) == 0 && len(b.Type) == 0 && len(b.Verify) == 0
}

// HasFatalTypeError reports whether any TypeError has SeverityError, which
// withholds the typed artifact (spec §7).
func HasFatalTypeError(errs []TypeError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}
