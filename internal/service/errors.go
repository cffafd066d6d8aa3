package service

import "fmt"

// Error is a domain error returned by service methods.
// Handlers map these to appropriate HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable error code (e.g., "invalid_request", "invalid_key")
	Message string // human-readable message
	Fields  map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrBadRequest      ErrorKind = iota // 400
	ErrUnauthorized                     // 401
	ErrTooManyRequests                  // 429
	ErrInternal                         // 500
)

// Error codes surfaced to clients.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeTasksNotCompleted = "tasks_not_completed"
	CodeAlreadyIssued     = "already_issued"
	CodeInvalidKey        = "invalid_key"
	CodeKeyExpired        = "key_expired"
	CodeUnauthorized      = "unauthorized"
	CodeStoreUnavailable  = "store_unavailable"
	CodeInternal          = "internal_error"
)

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewUnauthorized(code, message string) *Error {
	return &Error{Kind: ErrUnauthorized, Code: code, Message: message}
}

func NewTooManyRequests(code, message string, fields map[string]any) *Error {
	return &Error{Kind: ErrTooManyRequests, Code: code, Message: message, Fields: fields}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

func errStoreUnavailable() *Error {
	return NewInternal(CodeStoreUnavailable, "Key storage is temporarily unavailable")
}
