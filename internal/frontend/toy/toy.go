// Package toy is a deterministic reference implementation of the
// frontend collaborator contract (spec §6), used by the worker's own
// tests to drive real parse/resolve/infer cycles without depending on a
// production compiler front end. The "language" it understands is
// intentionally minimal:
//
//	import "./b"
//	let x = 1
//	let y = x
//
// One `import` or `let` per line; `let NAME = EXPR` where EXPR is either
// an integer literal (type "int"), a quoted string (type "string"), or a
// bare identifier referring to another binding or an imported symbol
// (inherits that symbol's type). This is enough surface to exercise
// imports, cycles, resolution, and type propagation end to end.
package toy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/loomkit/compileworker/internal/frontend"
	"github.com/loomkit/compileworker/internal/uri"
)

// Parser implements frontend.Parser.
type Parser struct{}

// ParseTops splits text into import declarations and let-bindings.
func (Parser) ParseTops(ctx context.Context, text string) (*frontend.ParseTree, []frontend.ParseError) {
	tree := &frontend.ParseTree{}
	var errs []frontend.ParseError

	lines := strings.Split(text, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		span := uri.Span{StartLine: i + 1, StartCol: 1, EndLine: i + 1, EndCol: len(raw) + 1}

		switch {
		case strings.HasPrefix(line, "import "):
			path, ok := parseImport(line)
			if !ok {
				errs = append(errs, frontend.ParseError{Span: span, Message: fmt.Sprintf("malformed import: %q", line)})
				continue
			}
			tree.Imports = append(tree.Imports, frontend.ImportDecl{Path: path, Span: span})

		case strings.HasPrefix(line, "let "):
			name, expr, ok := parseLet(line)
			if !ok {
				errs = append(errs, frontend.ParseError{Span: span, Message: fmt.Sprintf("malformed binding: %q", line)})
				continue
			}
			tree.Bindings = append(tree.Bindings, frontend.Binding{Name: name, Span: span, Expr: expr})

		default:
			errs = append(errs, frontend.ParseError{Span: span, Message: fmt.Sprintf("unrecognized statement: %q", line)})
		}
	}
	return tree, errs
}

func parseImport(line string) (string, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "import "))
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", false
	}
	return rest[1 : len(rest)-1], true
}

func parseLet(line string) (name, expr string, ok bool) {
	rest := strings.TrimPrefix(line, "let ")
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	name = strings.TrimSpace(parts[0])
	expr = strings.TrimSpace(parts[1])
	if name == "" || expr == "" {
		return "", "", false
	}
	return name, expr, true
}

// Resolver implements frontend.Resolver.
type Resolver struct{}

// ResolveProgram resolves imports (via the adapter) and propagates
// imported symbol availability into the resolved tree's export
// signature, which here is every imported symbol plus every top-level let
// binding (a local binding wins over an imported symbol of the same name).
func (Resolver) ResolveProgram(ctx context.Context, target uri.URI, builtins frontend.SymbolTable, tree *frontend.ParseTree, imports frontend.ImportAdapter) (*frontend.ResolveResult, []frontend.ResolveError) {
	var errs []frontend.ResolveError
	imported := make(frontend.SymbolTable)

	for _, imp := range tree.Imports {
		outcome := imports.Import(imp.Path, imp.Span)
		switch outcome.Kind {
		case frontend.ImportedOutcome:
			for k, v := range outcome.Signature.Exports {
				imported[k] = v
			}
		case frontend.NotFoundOutcome:
			errs = append(errs, frontend.ResolveError{Kind: frontend.ImportErrorKind, Span: imp.Span, Path: outcome.OriginalPath})
		case frontend.ImportCycleOutcome:
			errs = append(errs, frontend.ResolveError{Kind: frontend.ImportCycleErrorKind, Span: imp.Span, Cycle: outcome.Cycle})
		case frontend.ErroredOutcome:
			errs = append(errs, frontend.ResolveError{Kind: frontend.OtherResolveErrorKind, Span: imp.Span, Message: "import failed"})
		}
	}

	scope := make(map[string]bool)
	resolved := &frontend.ResolvedTree{Source: tree}
	for _, b := range tree.Bindings {
		if _, ok := builtins[b.Name]; ok {
			errs = append(errs, frontend.ResolveError{Kind: frontend.OtherResolveErrorKind, Span: b.Span, Message: fmt.Sprintf("%q shadows a builtin", b.Name)})
		}
		scope[b.Name] = true
		resolved.Bindings = append(resolved.Bindings, frontend.ResolvedBinding{Name: b.Name, Span: b.Span, Expr: b.Expr})
	}

	exports := make(frontend.SymbolTable)
	for k, v := range imported {
		exports[k] = v
	}
	for _, b := range tree.Bindings {
		exports[b.Name] = frontend.Type{Tag: "unresolved"}
	}

	return &frontend.ResolveResult{Tree: resolved, Signature: &frontend.Signature{Exports: exports}}, errs
}

// Desugarer implements frontend.Desugarer. The toy language has nothing
// to desugar; it returns its input unchanged.
type Desugarer struct{}

// DesugarProgram is the identity transform for the toy language.
func (Desugarer) DesugarProgram(resolved *frontend.ResolvedTree) *frontend.ResolvedTree {
	return resolved
}

// Inferencer implements frontend.Inferencer: integer/string literals get
// their obvious type; a bare identifier inherits the type of whatever it
// refers to (env or an earlier binding in the same file).
type Inferencer struct{}

// InferProgram assigns a Type to every binding.
func (Inferencer) InferProgram(ctx context.Context, env frontend.TypeEnv, desugared *frontend.ResolvedTree) (*frontend.InferResult, []frontend.TypeError) {
	types := make(map[string]frontend.Type)
	var errs []frontend.TypeError

	local := make(frontend.TypeEnv, len(env))
	for k, v := range env {
		local[k] = v
	}

	for _, b := range desugared.Bindings {
		t, err := inferExpr(b.Expr, local)
		if err != "" {
			errs = append(errs, frontend.TypeError{Severity: frontend.SeverityError, Span: b.Span, Message: err})
			continue
		}
		types[b.Name] = t
		local[b.Name] = t
	}

	if frontend.HasFatalTypeError(errs) {
		return &frontend.InferResult{}, errs
	}
	return &frontend.InferResult{Typed: &frontend.TypedProgram{Source: desugared, Types: types}}, errs
}

func inferExpr(expr string, env frontend.TypeEnv) (frontend.Type, string) {
	if _, err := strconv.Atoi(expr); err == nil {
		return frontend.Type{Tag: "int"}, ""
	}
	if len(expr) >= 2 && expr[0] == '"' && expr[len(expr)-1] == '"' {
		return frontend.Type{Tag: "string"}, ""
	}
	if t, ok := env[expr]; ok {
		return t, ""
	}
	return frontend.Type{}, fmt.Sprintf("unbound identifier %q", expr)
}

// Verifier implements frontend.Verifier. The toy language has no
// verification rules beyond what type inference already enforces, so it
// always reports clean.
type Verifier struct{}

// VerifyProgram always succeeds for the toy language.
func (Verifier) VerifyProgram(ctx context.Context, typed *frontend.TypedProgram) []frontend.VerifyError {
	return nil
}
