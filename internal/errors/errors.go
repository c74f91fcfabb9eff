// Package errors defines the service error model shared by all HTTP surfaces.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of service error.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeInvalidToken Code = "INVALID_TOKEN"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeBusinessRule Code = "BUSINESS_RULE"
	CodeRateLimited  Code = "RATE_LIMIT_EXCEEDED"
	CodeExternal     Code = "EXTERNAL_SERVICE"
	CodeInternal     Code = "INTERNAL"
)

// ServiceError carries an error code, a user-facing message and the HTTP
// status it maps to.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a detail key/value pair and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// Validation reports invalid request input.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Unauthorized reports a missing or failed authentication.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a malformed, expired or mistyped token.
func InvalidToken(cause error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", cause)
}

// Forbidden reports an authenticated caller acting outside its rights.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "not authorized for this resource"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// NotFound reports a missing resource.
func NotFound(resource string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
}

// Conflict reports a uniqueness or state collision.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// BusinessRule reports a domain rule violation.
func BusinessRule(message string) *ServiceError {
	return newError(CodeBusinessRule, http.StatusBadRequest, message, nil)
}

// RateLimitExceeded reports a throttled request.
func RateLimitExceeded(limit int, window string) *ServiceError {
	err := newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil)
	return err.WithDetails("limit", limit).WithDetails("window", window)
}

// External reports a failure in an upstream provider (M-PESA, Maps, FCM).
func External(provider string, cause error) *ServiceError {
	return newError(CodeExternal, http.StatusBadGateway, provider+" request failed", cause)
}

// Internal reports an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	if message == "" {
		message = "internal error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}

// GetServiceError extracts a ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// HTTPStatus returns the status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
