package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure and fixes its HTTP status.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindBadRequest         Kind = "bad_request"
	KindAuthentication     Kind = "authentication_error"
	KindAuthorization      Kind = "authorization_error"
	KindNotFound           Kind = "not_found"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindRateLimit          Kind = "rate_limit_error"
	KindExternalAPI        Kind = "external_api_error"
	KindDatabase           Kind = "database_error"
	KindConfig             Kind = "config_error"
	KindEncryption         Kind = "encryption_error"
	KindInternal           Kind = "internal_error"
	KindServiceUnavailable Kind = "service_unavailable"
)

// Error codes surfaced in the response envelope.
const (
	CodeInvalidRequest      = "invalid_request_error"
	CodeInvalidAPIKey       = "invalid_api_key"
	CodeRateLimitExceeded   = "rate_limit_exceeded"
	CodeProviderBadRequest  = "invalid_request"
	CodeProviderError       = "provider_error"
	CodeServiceUnavailable  = "service_unavailable"
	CodeInternal            = "internal_error"
	CodePermissionDenied    = "permission_denied"
	CodeNotFound            = "not_found"
	CodeMissingProviderKey  = "missing_provider_key"
	CodeRequestTooLarge     = "request_too_large"
	genericInternalResponse = "internal server error"
)

var statusByKind = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindBadRequest:         http.StatusBadRequest,
	KindAuthentication:     http.StatusUnauthorized,
	KindAuthorization:      http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	KindRateLimit:          http.StatusTooManyRequests,
	KindExternalAPI:        http.StatusBadGateway,
	KindDatabase:           http.StatusInternalServerError,
	KindConfig:             http.StatusInternalServerError,
	KindEncryption:         http.StatusInternalServerError,
	KindInternal:           http.StatusInternalServerError,
	KindServiceUnavailable: http.StatusServiceUnavailable,
}

// Error is the gateway's typed error. Code is optional and overrides the
// envelope code derived from Kind.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status for the error's kind.
func (e *Error) StatusCode() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage is the message safe to return to a caller. Server-side
// failures never leak their detail.
func (e *Error) PublicMessage() string {
	if e.StatusCode() == http.StatusInternalServerError {
		return genericInternalResponse
	}
	return e.Message
}

// PublicCode is the code placed in the response envelope.
func (e *Error) PublicCode() string {
	if e.Code != "" {
		return e.Code
	}
	switch e.Kind {
	case KindValidation, KindBadRequest:
		return CodeInvalidRequest
	case KindAuthentication:
		return CodeInvalidAPIKey
	case KindAuthorization:
		return CodePermissionDenied
	case KindNotFound:
		return CodeNotFound
	case KindPayloadTooLarge:
		return CodeRequestTooLarge
	case KindRateLimit:
		return CodeRateLimitExceeded
	case KindExternalAPI:
		return CodeProviderError
	case KindServiceUnavailable:
		return CodeServiceUnavailable
	default:
		return CodeInternal
	}
}

// PublicType is the envelope "type" field.
func (e *Error) PublicType() string {
	if e.Kind == KindValidation || e.Kind == KindBadRequest {
		return CodeInvalidRequest
	}
	return string(e.Kind)
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithCode returns a copy of e carrying an explicit envelope code.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

func Validation(message string) *Error { return New(KindValidation, message) }

func BadRequest(message string) *Error { return New(KindBadRequest, message) }

func Authentication(message string) *Error { return New(KindAuthentication, message) }

func Authorization(message string) *Error { return New(KindAuthorization, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Config(message string) *Error { return New(KindConfig, message) }

func Internal(message string, err error) *Error { return Wrap(KindInternal, message, err) }

func Database(message string, err error) *Error { return Wrap(KindDatabase, message, err) }

func Encryption(message string, err error) *Error { return Wrap(KindEncryption, message, err) }

func ExternalAPI(message string) *Error { return New(KindExternalAPI, message) }

func ServiceUnavailable(message string, err error) *Error {
	return Wrap(KindServiceUnavailable, message, err)
}

// As extracts an *Error from err. Untyped errors are reported as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("unexpected error", err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
