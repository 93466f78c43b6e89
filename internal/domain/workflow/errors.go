package workflow

import (
	"errors"
	"fmt"
)

// Code identifies a business error returned by the engine
type Code string

const (
	CodeNoActiveDefinition  Code = "NO_ACTIVE_DEFINITION"
	CodeDuplicateInstance   Code = "DUPLICATE_INSTANCE"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeAmbiguousTransition Code = "AMBIGUOUS_TRANSITION"
	CodeStaleApproval       Code = "STALE_APPROVAL"
	CodeInstanceTerminated  Code = "INSTANCE_TERMINATED"
	CodeApprovalPending     Code = "APPROVAL_PENDING"
	CodeInvalidDefinition   Code = "INVALID_DEFINITION"
	CodeDefinitionInUse     Code = "DEFINITION_IN_USE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
)

// Category groups codes by who has to act on them
type Category string

const (
	// CategoryConfiguration errors point at an authoring mistake in a definition
	CategoryConfiguration Category = "configuration"
	// CategoryState errors mean the request no longer matches the stored state
	CategoryState Category = "state"
	// CategoryRequest errors mean the call itself was malformed
	CategoryRequest Category = "request"
)

// Error is a non-retryable business error. It matches its sentinel with errors.Is
// regardless of message.
type Error struct {
	Code     Code
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNoActiveDefinition  = &Error{Code: CodeNoActiveDefinition, Category: CategoryConfiguration}
	ErrAmbiguousTransition = &Error{Code: CodeAmbiguousTransition, Category: CategoryConfiguration}
	ErrInvalidDefinition   = &Error{Code: CodeInvalidDefinition, Category: CategoryConfiguration}
	ErrDefinitionInUse     = &Error{Code: CodeDefinitionInUse, Category: CategoryConfiguration}

	ErrDuplicateInstance  = &Error{Code: CodeDuplicateInstance, Category: CategoryState}
	ErrInvalidTransition  = &Error{Code: CodeInvalidTransition, Category: CategoryState}
	ErrStaleApproval      = &Error{Code: CodeStaleApproval, Category: CategoryState}
	ErrInstanceTerminated = &Error{Code: CodeInstanceTerminated, Category: CategoryState}
	ErrApprovalPending    = &Error{Code: CodeApprovalPending, Category: CategoryState}
	ErrNotFound           = &Error{Code: CodeNotFound, Category: CategoryState}

	ErrInvalidRequest = &Error{Code: CodeInvalidRequest, Category: CategoryRequest}
)

// Errorf returns a copy of sentinel carrying a formatted message
func Errorf(sentinel *Error, format string, args ...interface{}) *Error {
	return &Error{
		Code:     sentinel.Code,
		Category: sentinel.Category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// CodeOf returns the business code carried by err, or "" for infrastructure errors
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBusinessError reports whether err is a local, non-retryable business error
func IsBusinessError(err error) bool {
	return CodeOf(err) != ""
}
