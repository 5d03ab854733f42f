// Package apierr defines the gateway's error taxonomy and the JSON envelope
// used to surface typed errors to HTTP callers.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and retry decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindNotFound
	KindConflict
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external_service"
	default:
		return "internal"
	}
}

// Error codes surfaced to callers.
const (
	CodeMissingParams        = "MISSING_PARAMS"
	CodeInvalidDomain        = "INVALID_SHOP_DOMAIN"
	CodeInvalidState         = "INVALID_STATE"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeTokenExchangeFailed  = "TOKEN_EXCHANGE_FAILED"
	CodeSessionPersistFailed = "SESSION_PERSIST_FAILED"
	CodeTenantPersistFailed  = "TENANT_PERSIST_FAILED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeReauthRequired       = "REAUTH_REQUIRED"
	CodeTenantNotFound       = "TENANT_NOT_FOUND"
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	CodePhoneUnavailable     = "PHONE_NUMBER_UNAVAILABLE"
	CodeProvisionedNotSaved  = "PROVISIONED_NOT_SAVED"
	CodeProvisionInProgress  = "PROVISIONING_IN_PROGRESS"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is a typed, code-bearing error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Service names the failing external dependency for KindExternal.
	Service string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Service != "" {
		msg = fmt.Sprintf("%s (service=%s)", msg, e.Service)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Authentication(code, message string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func External(service, code, message string, err error) *Error {
	return &Error{Kind: KindExternal, Code: code, Message: message, Service: service, Err: err}
}

func Internal(code, message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: code, Message: message, Err: err}
}

// As extracts an *Error from err, wrapping unknown errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(CodeInternal, "internal error", err)
}

// Envelope is the failure body shared by JSON endpoints.
type Envelope struct {
	Success bool      `json:"success"`
	Error   ErrorInfo `json:"error"`
}

// ErrorInfo is the error detail inside Envelope.
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// WriteEnvelope writes err as {success:false, error:{code,message,statusCode}}
// with a matching HTTP status.
func WriteEnvelope(w http.ResponseWriter, err error) {
	e := As(err)
	status := e.Status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error: ErrorInfo{
			Code:       e.Code,
			Message:    e.Message,
			StatusCode: status,
		},
	})
}
