package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"lexhub/api/internal/auth"
	"lexhub/api/internal/authpw"
	"lexhub/api/internal/review"
	"lexhub/api/internal/store"
)

const (
	CodeNotFound        = "NOT_FOUND"
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeServerError     = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(entity string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, entity+" not found", nil)
}

func validationError(field, message string) *DomainError {
	var details any
	if field != "" {
		details = map[string]string{"field": field}
	}
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, "Authentication required", nil)
}

func forbidden(message string) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func conflict(message string, cause error) *DomainError {
	e := domainError(http.StatusConflict, CodeConflict, message, nil)
	e.cause = cause
	return e
}

// externalServiceError wraps reviewer failures. Timeouts map to 504, the rest
// to 502; both are retryable.
func externalServiceError(cause error) *DomainError {
	status := http.StatusBadGateway
	message := "Reviewer service failed"
	reason := "unavailable"
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		message = "Reviewer service timed out"
		reason = "timeout"
	case errors.Is(cause, review.ErrMalformed):
		message = "Reviewer returned an unusable answer"
		reason = "malformed"
	case errors.Is(cause, review.ErrNotConfigured):
		message = "Reviewer service is not configured"
		reason = "not_configured"
	}
	e := domainError(status, CodeExternalService, message, map[string]any{
		"retryable": reason != "not_configured",
		"reason":    reason,
	})
	e.cause = cause
	return e
}

// mapError turns any error returned by the service into an HTTP status, code
// and message. Store sentinels are mapped here so handlers never inspect them.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var vErr *authpw.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusUnprocessableEntity, CodeValidation, vErr.Message, map[string]string{"field": vErr.Field}
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, store.ErrStaleParent):
		return http.StatusConflict, CodeConflict, "Document was updated by another commit", nil
	case errors.Is(err, store.ErrStatusChanged):
		return http.StatusConflict, CodeConflict, "Proposal status changed concurrently", nil
	case errors.Is(err, store.ErrStaleReview):
		return http.StatusConflict, CodeConflict, "Proposal changes were modified during review", nil
	case errors.Is(err, store.ErrProposalTerminal):
		return http.StatusUnprocessableEntity, CodeValidation, "Proposal is merged or closed", nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, CodeConflict, "Conflict", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeUnauthorized, "Invalid email or password", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.Is(err, review.ErrUnavailable), errors.Is(err, review.ErrMalformed), errors.Is(err, review.ErrNotConfigured):
		e := externalServiceError(err)
		return e.Status, e.Code, e.Message, e.Details
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
