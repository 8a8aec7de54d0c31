package handler

// RESPONSE HELPERS:
// Every response from this API, success or failure, uses one envelope:
//
//	{"success": true,  "status": 201, "message": "...", "data": {...}}
//	{"success": false, "status": 422, "message": "The email field is required."}
//
// The status field repeats the HTTP status so clients that only look at the
// body (or lose the status line behind a proxy) still know what happened.
//
// WHY HELPERS?
// Without helpers every handler repeats the same boilerplate (set header,
// write status, encode). Worse, each one would decide on its own which errors
// are safe to show. Here there is exactly one place that maps errors to HTTP.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/sakif/account-api/internal/apperror"
)

// ServerErrorMessage is all a client ever learns about an unexpected failure.
const ServerErrorMessage = "Something went wrong on our side. Please try again later."

// Envelope is the JSON shape of every response.
type Envelope struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// writes the first byte, any later header change is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Status: status, Message: message, Data: data})
}

// WriteStatus writes a failure envelope with a fixed message. The server
// package uses it for 404/405 so unknown routes look like every other error.
func WriteStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Status: status, Message: message})
}

// errorWriter maps errors to the envelope. validationStatus is the status a
// validation failure gets: 422 for registration, 400 for login.
type errorWriter struct {
	logger           *slog.Logger
	validationStatus int
}

// write maps a service error to HTTP.
//
// ERROR MAPPING:
//
//	ErrValidation   → validationStatus (422 or 400)
//	ErrConflict     → 422, reported like a validation failure on the field
//	ErrUnauthorized → 401
//	ErrForbidden    → 403
//	anything else   → 500, logged and sent to Sentry, fixed message
//
// ErrNotFound has no client status: no route looks a resource up by a
// client-supplied key, so a miss that reaches here is a server fault and its
// message (which names the lookup key) stays in the log.
//
// errors.As walks the wrap chain, so a service may add context with
// fmt.Errorf("...: %w", appErr) without changing what the client sees.
func (ew errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = ew.validationStatus
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
		}
		if status != http.StatusInternalServerError {
			WriteStatus(w, status, appErr.Message)
			return
		}
	}

	// Unknown error: log everything, tell the client nothing.
	// The raw message might contain SQL, file paths or driver detail.
	ew.logger.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	captureException(r, err)
	WriteStatus(w, http.StatusInternalServerError, ServerErrorMessage)
}

// captureException reports err to Sentry. sentryhttp puts a per-request hub
// on the context; without it (tests, Sentry disabled) the global hub is a no-op.
func captureException(r *http.Request, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
