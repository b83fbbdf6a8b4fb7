package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a backend failure. The UI layer keys retry decisions off
// the kind and the Retryable flag, so kinds are part of the public contract.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindTransport   Kind = "transport"
	KindUnavailable Kind = "backend_unavailable"
	KindTimeout     Kind = "timeout"
	KindBackend     Kind = "backend_error"
	KindUnsupported Kind = "unsupported_operation"
	KindNoBackend   Kind = "no_backend_available"
	KindJobNotFound Kind = "job_not_found"
)

// Error is the failure payload surfaced to callers: {kind, message, retryable}.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a backend Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// Retryable reports whether the caller may safely retry the failed call.
// Unknown errors are treated as non-retryable.
func Retryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func AuthError(message string, err error) *Error {
	return &Error{Kind: KindAuth, Message: message, Err: err}
}

func TransportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Retryable: true, Err: err}
}

func UnavailableError(message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Retryable: true, Err: err}
}

func TimeoutError(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message, Retryable: true}
}

func BackendError(message string, err error) *Error {
	return &Error{Kind: KindBackend, Message: message, Err: err}
}

func UnsupportedError(op Capability) *Error {
	return &Error{Kind: KindUnsupported, Message: fmt.Sprintf("active backend does not support %q", op)}
}

func NoBackendError(err error) *Error {
	return &Error{Kind: KindNoBackend, Message: "no backend available", Err: err}
}

func JobNotFoundError(jobID string) *Error {
	return &Error{Kind: KindJobNotFound, Message: fmt.Sprintf("job %s not found", jobID)}
}
