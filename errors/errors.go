package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ParseError wraps a specific error with context about where it occurred.
type ParseError struct {
	Line   int
	Record []string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %v (record: %v)", e.Line, e.Err, e.Record)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the breaks backend.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, msg)
}

// Is lets errors.Is(err, ErrNotFound) match a 404 response.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// ConnectionError means the backend could not be reached at all, as opposed
// to the backend answering with an error.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnection reports whether err, or anything it wraps, is a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return stderrors.As(err, &ce)
}

// Define specific error types for better error handling
var (
	ErrInvalidFieldCount = fmt.Errorf("invalid field count")
	ErrInvalidTime       = fmt.Errorf("invalid time of day")
	ErrInvalidVolume     = fmt.Errorf("alarm volume must be between 0 and 100")
	ErrInvalidBool       = fmt.Errorf("invalid boolean")
	ErrMissingAgentID    = fmt.Errorf("missing agent id")
	ErrMissingFirstBreak = fmt.Errorf("first break is required")
	ErrMissingLunch      = fmt.Errorf("lunch time is required")
	ErrEmptyRecord       = fmt.Errorf("empty record")

	ErrNotFound           = fmt.Errorf("not found")
	ErrInvalidBreakType   = fmt.Errorf("invalid break type")
	ErrBreakNotConfigured = fmt.Errorf("break is not configured in the schedule")
	ErrBreakAlreadyActive = fmt.Errorf("a break is already active")
	ErrNoActiveBreak      = fmt.Errorf("no active break")
	ErrBioPoolExhausted   = fmt.Errorf("no bio break time remaining this shift")
	ErrBioAlreadyActive   = fmt.Errorf("a bio break is already running")
	ErrSessionClosed      = fmt.Errorf("session is not running")
)
