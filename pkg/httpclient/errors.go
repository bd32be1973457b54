package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

// providerError covers the error bodies returned by the third-party APIs
// this service talks to: {"status":"error","message":"..."} and
// {"error":{"title":"...","message":"..."}}.
type providerError struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

type nestedError struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func extractMessage(body []byte) string {
	var pe providerError
	if json.Unmarshal(body, &pe) != nil {
		return strings.TrimSpace(string(body))
	}
	if pe.Message != "" {
		return pe.Message
	}
	if len(pe.Error) > 0 {
		var nested nestedError
		if json.Unmarshal(pe.Error, &nested) == nil {
			if nested.Message != "" {
				return nested.Message
			}
			if nested.Title != "" {
				return nested.Title
			}
		}
		var s string
		if json.Unmarshal(pe.Error, &s) == nil {
			return s
		}
	}
	return strings.TrimSpace(string(body))
}

// ParseResponseError consumes and closes a non-2xx response from provider and
// translates it into an AppError. Rejections of the caller's input (400, 404,
// 422) become InvalidInput carrying the provider's message. Everything else
// means the provider could not serve us and becomes an Upstream failure.
func ParseResponseError(resp *http.Response, provider string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Upstream(provider+" request failed",
			fmt.Errorf("status %d, read body: %w", resp.StatusCode, err))
	}

	message := extractMessage(body)
	cause := fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, message)

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		if message == "" {
			message = provider + " rejected the request"
		}
		appErr := apperrors.InvalidInput(message)
		appErr.Err = fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, cause)
		return appErr
	default:
		return apperrors.Upstream(provider+" request failed", cause)
	}
}

// IsClientError reports whether status is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
