// Package errors provides typed, wrapped errors for the compile worker,
// following the same shape across the facade, compile pipeline, and request
// queue: a stable ErrorType tag, a wrapped underlying cause, and a timestamp.
package errors

import (
	"fmt"
	"time"
)

// ErrorType tags the subsystem an error originated in.
type ErrorType string

const (
	ErrorTypeCompile  ErrorType = "compile"
	ErrorTypeImport   ErrorType = "import"
	ErrorTypeRequest  ErrorType = "request"
	ErrorTypeFile     ErrorType = "file"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// CompileError represents a failure raised while driving the compile
// pipeline for a single file (not a parse/resolve/type/verify diagnostic —
// those live in the ErrorBundle; this is for pipeline plumbing failures).
type CompileError struct {
	Type       ErrorType
	URI        string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewCompileError creates a new compile pipeline error with context.
func NewCompileError(op string, err error) *CompileError {
	return &CompileError{
		Type:       ErrorTypeCompile,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithURI attaches the file this error concerns.
func (e *CompileError) WithURI(uri string) *CompileError {
	e.URI = uri
	return e
}

func (e *CompileError) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.URI, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

func (e *CompileError) Unwrap() error { return e.Underlying }

// RequestError is delivered to a Request's on-error sink (spec §4.1, §7).
type RequestError struct {
	Type       ErrorType
	URI        string
	RequestID  uint64
	Reason     string
	Underlying error
	Timestamp  time.Time
}

// NewRequestError creates a request-queue error.
func NewRequestError(requestID uint64, uri, reason string) *RequestError {
	return &RequestError{
		Type:      ErrorTypeRequest,
		URI:       uri,
		RequestID: requestID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d against %s: %s", e.RequestID, e.URI, e.Reason)
}

func (e *RequestError) Unwrap() error { return e.Underlying }

// FileError wraps a filesystem-boundary failure (spec §6 "Filesystem").
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new filesystem error.
func NewFileError(op, path string, err error) *FileError {
	return &FileError{
		Type:       ErrorTypeFile,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *FileError) Unwrap() error { return e.Underlying }

// ConfigError wraps a configuration-loading failure.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error.
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Underlying: err, Timestamp: time.Now()}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }

// InvariantViolation describes a broken data-model invariant (spec §3
// "Invariants"). compiler.Pass.Run recovers any panic raised during a
// compile pass, wraps a value of another type in an InvariantViolation,
// and reports it through debug.CatastrophicError; the next trigger starts
// a fresh pass (spec §7, §9).
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated: %s (%s)", e.Invariant, e.Detail)
}
