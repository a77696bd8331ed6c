// Package apperr defines the closed set of failure kinds that cross package
// boundaries in askdb. Every fatal error reaching the HTTP layer is an *Error
// carrying a stable machine-readable code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindLikelyWrongEngine   Kind = "likely_wrong_engine"
	KindNotFound            Kind = "not_found"
	KindConnection          Kind = "connection"
	KindIntrospection       Kind = "introspection"
	KindQuery               Kind = "query"
	KindStatementNotAllowed Kind = "statement_not_allowed"
	KindUnsupportedEngine   Kind = "unsupported_engine"
	KindModel               Kind = "model"
	KindInternal            Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Engine and SQLState are set for failures reported by a target database.
	Engine   string
	SQLState string
	Err      error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code string, err error) *Error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func StatementNotAllowed(message string) *Error {
	return New(KindStatementNotAllowed, "SQL_NOT_ALLOWED", message)
}

func UnsupportedEngine(engine string) *Error {
	return &Error{
		Kind:    KindUnsupportedEngine,
		Code:    "UNSUPPORTED_DB_TYPE",
		Message: fmt.Sprintf("unsupported database engine %q", engine),
		Engine:  engine,
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
