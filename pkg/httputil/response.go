package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
	"github.com/Kharon-pay-mini/user-management-server/pkg/logger"
	"github.com/Kharon-pay-mini/user-management-server/pkg/validator"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the JSON envelope used by every endpoint.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Success wraps data in a success envelope.
func Success(data any) Response {
	return Response{Status: StatusSuccess, Data: data}
}

// SuccessMessage builds a success envelope that only carries a message.
func SuccessMessage(message string) Response {
	return Response{Status: StatusSuccess, Message: message}
}

// WriteJSON writes a JSON response with the given status code.
// If encoding fails, the error is logged but headers are already sent so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody builds the {status:"error", message} body, merging any extra keys.
func ErrorBody(message string, extra map[string]any) map[string]any {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["status"] = StatusError
	body["message"] = message
	return body
}

// WriteMessage writes an error body with the given status and message.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody(message, nil))
}

// WriteError writes a standardized error response based on the error type.
// AppError carries its own status, message and details; bare sentinels are
// mapped through apperrors.HTTPStatus. Internal errors are logged with the
// request-scoped logger when one is present, otherwise the fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	extra := map[string]any{}
	if requestID := logger.CorrelationIDFromContext(r.Context()); requestID != "" {
		extra["request_id"] = requestID
	}

	status := apperrors.HTTPStatus(err)
	message := "an internal error occurred"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
		for k, v := range appErr.Details {
			extra[k] = v
		}
	} else {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			message = "resource not found"
		case errors.Is(err, apperrors.ErrAlreadyExists):
			message = "resource already exists"
		case errors.Is(err, apperrors.ErrInvalidInput):
			message = err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, ErrorBody(message, extra))
}

// WriteValidationError writes a standardized validation error response.
// It handles ValidationError from the validator package and returns field-level errors.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("request validation failed", map[string]any{
			"fields": valErr.Fields(),
		}))
		return
	}

	WriteMessage(w, http.StatusBadRequest, err.Error())
}
