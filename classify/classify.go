// Package classify implements the engine's abstract error taxonomy (C10):
// it maps ODBC driver diagnostics (SQLSTATE, native code) onto a small set
// of categories callers can branch on, instead of parsing driver-specific
// message text.
package classify

import (
	"fmt"
	"time"
)

// Kind is the abstract error taxonomy every EngineError carries.
type Kind string

const (
	Validation                Kind = "validation"
	EnvironmentNotInitialized Kind = "environment_not_initialized"
	Connection                Kind = "connection"
	Query                     Kind = "query"
	Transaction               Kind = "transaction"
	BufferTooSmall            Kind = "buffer_too_small"
	FramingError              Kind = "framing_error"
	RequestTimeout            Kind = "request_timeout"
	WorkerTerminated          Kind = "worker_terminated"
	UnsupportedFeature        Kind = "unsupported_feature"
)

// EngineError is the structured error every public engine operation returns
// on failure. It carries the abstract Kind plus, when derived from a driver
// diagnostic, the raw SQLSTATE and native code so callers can implement
// their own retry policy — the engine itself never retries.
type EngineError struct {
	Kind       Kind
	Message    string
	SQLState   string
	NativeCode int32
	Cause      error
	Timestamp  time.Time

	// RequiredSize is set only for BufferTooSmall: the number of bytes the
	// caller's output buffer must provide on retry.
	RequiredSize int
}

func (e *EngineError) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("%s: %s (sqlstate=%s native=%d)", e.Kind, e.Message, e.SQLState, e.NativeCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// New builds a plain EngineError with no driver diagnostic attached.
func New(kind Kind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message, Timestamp: now()}
}

// Wrap builds an EngineError from an underlying Go error.
func Wrap(kind Kind, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Cause: cause, Timestamp: now()}
}

// BufferTooSmallErr builds the distinguished BufferTooSmall error the
// executor/streaming packages return when a caller-provided buffer can't
// hold the encoded result (spec §4.6).
func BufferTooSmallErr(requiredSize int) *EngineError {
	return &EngineError{
		Kind:         BufferTooSmall,
		Message:      "output buffer too small",
		RequiredSize: requiredSize,
		Timestamp:    now(),
	}
}

// Diagnostic is the raw (SQLSTATE, native code, message) triple an ODBC
// driver hands back through SQLGetDiagRec.
type Diagnostic struct {
	SQLState   string
	NativeCode int32
	Message    string
}

// FromDiagnostic maps a driver diagnostic to the abstract taxonomy by
// SQLSTATE class, per spec §4.10: 08xxx -> Connection, 40xxx -> Transaction
// (deadlock/serialization), 42xxx -> Query (syntax/access). Anything else
// defaults to Query, since most other SQLSTATE classes originate from
// statement execution.
func FromDiagnostic(d Diagnostic) *EngineError {
	kind := Query
	if len(d.SQLState) >= 2 {
		switch d.SQLState[:2] {
		case "08":
			kind = Connection
		case "40":
			kind = Transaction
		case "42":
			kind = Query
		}
	}
	return &EngineError{
		Kind:       kind,
		Message:    d.Message,
		SQLState:   d.SQLState,
		NativeCode: d.NativeCode,
		Timestamp:  now(),
	}
}

// As reports whether err is an *EngineError of the given Kind.
func As(err error, kind Kind) bool {
	ee, ok := err.(*EngineError)
	if !ok {
		return false
	}
	return ee.Kind == kind
}

// now is indirected so tests can pin a deterministic timestamp.
var now = time.Now
