package pipeline

import "fmt"

// ErrorCode identifies a fatal loop error.
type ErrorCode string

const (
	ErrCodeOpen    ErrorCode = "OPEN_FAILED"
	ErrCodeWriter  ErrorCode = "WRITER_FAILED"
	ErrCodeDisplay ErrorCode = "DISPLAY_FAILED"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeOpen:    "could not open media source",
	ErrCodeWriter:  "could not write annotated video",
	ErrCodeDisplay: "could not open display window",
}

// RunError is a fatal error that ended a Run.
type RunError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewRunError wraps err with code.
func NewRunError(code ErrorCode, err error) *RunError {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "recognition loop failed"
	}
	return &RunError{Code: code, Message: msg, Err: err}
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
