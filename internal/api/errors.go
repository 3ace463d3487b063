// Package api is the Public Contracts layer (C8): HTTP request validation,
// typed-error-to-response-code mapping, correlation headers, and delegation
// to the query/collectjob/streamsession services. Routing idiom grounded on
// the teacher's internal/server/http.go (method-prefixed ServeMux patterns,
// JSON envelope handlers); websocket push channel grounded on
// Andrew50-peripheral's gorilla/websocket usage.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/loghoi/loghoi/internal/index"
	"github.com/loghoi/loghoi/internal/query"
	"github.com/loghoi/loghoi/internal/streamsession"
)

// notFoundError reports a missing resource the api layer itself discovers
// (e.g. an unknown job id), distinct from query.NotFoundError which covers
// zip/log-file lookups inside the Query Service.
type notFoundError struct {
	resource string
	key      string
}

func (e *notFoundError) Error() string {
	return e.resource + " " + e.key + " not found"
}

// errorEnvelope is the uniform error response shape (spec §6).
type errorEnvelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Operation string `json:"operation"`
	ErrorCode string `json:"error_code"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// writeError maps err to an HTTP status and error_code per spec §7 and
// writes the uniform envelope.
func writeError(w http.ResponseWriter, operation string, err error) {
	status, code, details := classify(err)

	env := errorEnvelope{
		Status:    "error",
		Message:   err.Error(),
		Operation: operation,
		ErrorCode: code,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func classify(err error) (httpStatus int, code string, details string) {
	var validationErr *query.ValidationError
	var notFoundErr *query.NotFoundError
	var authHintErr *query.AuthHintError
	var svcUnavailErr *index.ServiceUnavailableError
	var localNotFoundErr *notFoundError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "VALIDATION_ERROR", ""
	case errors.As(err, &notFoundErr), errors.As(err, &localNotFoundErr):
		return http.StatusNotFound, "NOT_FOUND_ERROR", ""
	case errors.As(err, &authHintErr):
		return http.StatusInternalServerError, "AUTH_HINT_ERROR", authHintErr.Hint
	case errors.As(err, &svcUnavailErr):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE_ERROR", ""
	case streamsession.IsConflict(err),
		errors.Is(err, streamsession.ErrNotSshReady),
		errors.Is(err, streamsession.ErrMonitorExists),
		errors.Is(err, streamsession.ErrUnknownSession):
		return http.StatusConflict, "CONFLICT_ERROR", ""
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", ""
	}
}
