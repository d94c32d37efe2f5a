package gateway

import "fmt"

// ErrorKind classifies a failed remote call. Classification happens once, at
// the gateway boundary; nothing above it sees a raw transport error.
type ErrorKind string

const (
	ErrAuthentication ErrorKind = "AUTHENTICATION"
	ErrNetwork        ErrorKind = "NETWORK"
	ErrTimeout        ErrorKind = "TIMEOUT"
	ErrServer         ErrorKind = "SERVER"
	ErrValidation     ErrorKind = "VALIDATION"
	ErrUnknown        ErrorKind = "UNKNOWN"
)

// Error is the uniform failure shape of the gateway.
type Error struct {
	Kind    ErrorKind
	Status  int // HTTP status when one was received, else 0
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Transient reports whether the failure class is worth retrying. Auth and
// validation failures will fail the same way on a re-issue.
func (e *Error) Transient() bool {
	return e.Kind == ErrNetwork || e.Kind == ErrTimeout
}

func NewNetworkError(message string, cause error) *Error {
	return &Error{Kind: ErrNetwork, Message: message, Cause: cause}
}

func NewTimeoutError(message string, cause error) *Error {
	return &Error{Kind: ErrTimeout, Message: message, Cause: cause}
}

func NewValidationError(message string) *Error {
	return &Error{Kind: ErrValidation, Message: message}
}

// classifyStatus maps a non-2xx HTTP response to an error kind.
func classifyStatus(status int, message string) *Error {
	var kind ErrorKind
	switch {
	case status == 401 || status == 403:
		kind = ErrAuthentication
	case status >= 400 && status < 500:
		kind = ErrValidation
	case status >= 500 && status < 600:
		kind = ErrServer
	default:
		kind = ErrUnknown
	}
	return &Error{Kind: kind, Status: status, Message: message}
}
