package session

import "fmt"

// Code classifies the recoverable outcomes every engine can surface.
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeForbidden    Code = "FORBIDDEN"
	CodeInvalidState Code = "INVALID_STATE"
	CodeAlreadyActed Code = "ALREADY_ACTED"
	CodeValidation   Code = "VALIDATION"
	// CodeTransient marks persistence failures that survived a retry;
	// callers tell the user to try again.
	CodeTransient Code = "TRANSIENT"
)

// Error is a typed domain error. Sentinels below cover the common
// messages; Validationf builds parameterized ones.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Is matches any *Error with the same code, so
// errors.Is(err, ErrValidation) holds for every validation error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "session not found"}
	ErrForbidden    = &Error{Code: CodeForbidden, Message: "actor not allowed"}
	ErrInvalidState = &Error{Code: CodeInvalidState, Message: "action not legal in current state"}
	ErrAlreadyActed = &Error{Code: CodeAlreadyActed, Message: "duplicate action"}
	ErrValidation   = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrTransient    = &Error{Code: CodeTransient, Message: "temporary storage failure, try again"}
)

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf returns a forbidden error with a formatted message.
func Forbiddenf(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}
