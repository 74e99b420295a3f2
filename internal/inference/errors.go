package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind groups backend failures by what the caller can do about them.
type ErrorKind string

const (
	KindThrottled    ErrorKind = "throttled"
	KindValidation   ErrorKind = "validation"
	KindAccessDenied ErrorKind = "access_denied"
	KindNotFound     ErrorKind = "not_found"
	KindUnavailable  ErrorKind = "unavailable"
	KindTransport    ErrorKind = "transport"
	KindCanceled     ErrorKind = "canceled"
	KindUnknown      ErrorKind = "unknown"
)

// Error is a classified failure from an inference backend. Code is the
// service's own error code (or HTTP status) and Message its description.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference %s error: %s - %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("inference %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns err as an *Error. Errors already classified by a backend
// are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCanceled, Message: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// KindFromStatus maps an HTTP status code returned by a model API.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindThrottled
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAccessDenied
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return KindValidation
	case status >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// KindFromCode maps the error codes used by AWS Bedrock.
func KindFromCode(code string) ErrorKind {
	switch code {
	case "ThrottlingException", "ServiceQuotaExceededException", "TooManyRequestsException":
		return KindThrottled
	case "ValidationException":
		return KindValidation
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		return KindAccessDenied
	case "ResourceNotFoundException":
		return KindNotFound
	case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException",
		"ModelTimeoutException", "ModelStreamErrorException":
		return KindUnavailable
	default:
		return KindUnknown
	}
}
