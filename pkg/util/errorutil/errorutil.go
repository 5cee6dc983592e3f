package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the auth core and the HTTP layer.
const (
	CodeValidationFailed          = "VALIDATION_FAILED"
	CodeNotFound                  = "NOT_FOUND"
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeForbidden                 = "FORBIDDEN"
	CodeInternal                  = "INTERNAL_ERROR"
	CodeCredentialInvalid         = "CREDENTIAL_INVALID"
	CodeEmailUnconfirmed          = "EMAIL_UNCONFIRMED"
	CodeSessionVerificationFailed = "SESSION_VERIFICATION_FAILED"
	CodeProfileProvisioningFailed = "PROFILE_PROVISIONING_FAILED"
	CodeAuthorizationDenied       = "AUTHORIZATION_DENIED"
	CodeAlreadyExists             = "ALREADY_EXISTS"
	CodeRemoteUnavailable         = "REMOTE_UNAVAILABLE"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func wrap(code, message string, status int, err error) error {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewCredentialInvalid(message string, err error) error {
	return wrap(CodeCredentialInvalid, message, http.StatusUnauthorized, err)
}

func NewEmailUnconfirmed(message string, err error) error {
	return wrap(CodeEmailUnconfirmed, message, http.StatusForbidden, err)
}

func NewSessionVerificationFailed(message string, err error) error {
	return wrap(CodeSessionVerificationFailed, message, http.StatusUnauthorized, err)
}

func NewProfileProvisioningFailed(message string, err error) error {
	return wrap(CodeProfileProvisioningFailed, message, http.StatusInternalServerError, err)
}

func NewAuthorizationDenied(message string, err error) error {
	return wrap(CodeAuthorizationDenied, message, http.StatusForbidden, err)
}

func NewAlreadyExists(message string, details map[string]any) error {
	return NewDomainError(CodeAlreadyExists, message, http.StatusConflict, details)
}

// NewRemoteUnavailable passes the provider's message through.
func NewRemoteUnavailable(err error) error {
	message := "remote service unavailable"
	if err != nil {
		message = err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		message = "remote call timed out"
	}
	return wrap(CodeRemoteUnavailable, message, http.StatusServiceUnavailable, err)
}

// HasCode reports whether err carries the given DomainError code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if de, ok := NewRemoteUnavailable(err).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
