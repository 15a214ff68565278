package analyzer

import (
	"errors"
	"fmt"
)

// Kind classifies analysis failures.
type Kind string

const (
	KindInput      Kind = "input_error"
	KindExtraction Kind = "extraction_error"
	KindNoMatch    Kind = "no_match"
	KindOracle     Kind = "oracle_error"
	KindInternal   Kind = "internal_error"
)

// Error is a classified analysis failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InputError reports an empty or malformed document.
func InputError(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInput, Op: op, Err: fmt.Errorf(format, args...)}
}

// ExtractionError wraps a failure of the document extraction collaborator.
func ExtractionError(op string, err error) *Error {
	return &Error{Kind: KindExtraction, Op: op, Err: err}
}

// OracleError wraps a transport failure, timeout or malformed oracle reply.
func OracleError(op string, err error) *Error {
	return &Error{Kind: KindOracle, Op: op, Err: err}
}

// NoMatchError reports that neither layer produced a usable mapping. The
// oracle failure, if any, is kept as the cause.
func NoMatchError(cause error) *Error {
	err := errors.New("no template matched and the semantic fallback was inconclusive")
	if cause != nil {
		err = fmt.Errorf("no template matched and the semantic fallback was inconclusive: %w", cause)
	}
	return &Error{Kind: KindNoMatch, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
