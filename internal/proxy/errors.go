package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrEmptyResponse is returned when a service answers without content.
var ErrEmptyResponse = errors.New("no response generated")

// Status classes reported by ServiceError.Class.
const (
	ClassClientError = "client_error"
	ClassServerError = "server_error"
	ClassRateLimited = "rate_limited"
)

// ServiceError is an external-service failure mapped to a user-facing
// message and an HTTP status.
type ServiceError struct {
	Status  int
	Message string
	Details string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Details == "" || e.Details == e.Message {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Class buckets Status into client error, server error or rate limited.
func (e *ServiceError) Class() string {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return ClassRateLimited
	case e.Status >= 400 && e.Status < 500:
		return ClassClientError
	default:
		return ClassServerError
	}
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.Status, e.Body)
}

// Classify maps err onto a ServiceError. Errors that already are a
// *ServiceError are returned unchanged.
func Classify(err error) *ServiceError {
	if err == nil {
		return nil
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	status := 0
	var st *StatusError
	if errors.As(err, &st) {
		status = st.Status
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ServiceError{Status: http.StatusGatewayTimeout, Message: "Request cancelled or timed out", Details: msg, Err: err}
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		strings.Contains(msg, "API_KEY_INVALID"), strings.Contains(lower, "api key"):
		return &ServiceError{Status: http.StatusUnauthorized, Message: "Invalid API key", Details: msg, Err: err}
	case status == http.StatusTooManyRequests, strings.Contains(lower, "quota"),
		strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(lower, "rate limited"):
		return &ServiceError{Status: http.StatusTooManyRequests, Message: "API quota exceeded", Details: msg, Err: err}
	case errors.Is(err, ErrEmptyResponse):
		return &ServiceError{Status: http.StatusUnprocessableEntity, Message: "No response generated", Details: msg, Err: err}
	case status == http.StatusBadRequest, strings.Contains(lower, "invalid"), strings.Contains(lower, "malformed"):
		return &ServiceError{Status: http.StatusBadRequest, Message: "Invalid request data", Details: msg, Err: err}
	default:
		return &ServiceError{Status: http.StatusInternalServerError, Message: "Generation request failed", Details: msg, Err: err}
	}
}
