package clover

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when a call needs credentials that are missing.
var ErrNotConfigured = errors.New("clover: client not configured")

// APIError is a non-2xx response from Clover.
type APIError struct {
	Op          string
	Status      int
	Type        string
	Code        string
	DeclineCode string
	Message     string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("clover: %s: %s (%s, status %d)", e.Op, msg, e.Code, e.Status)
	}
	return fmt.Sprintf("clover: %s: %s (status %d)", e.Op, msg, e.Status)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsDecline reports whether the card was refused, as opposed to a failure on
// the Clover side.
func (e *APIError) IsDecline() bool {
	if e.DeclineCode != "" || e.Type == "card_error" {
		return true
	}
	return e.Status == http.StatusPaymentRequired
}

// IsDecline reports whether err carries a card decline.
func IsDecline(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsDecline()
}

// IsNotFound reports whether err is a 404 from Clover.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type errorBody struct {
	Message string `json:"message"`
	Error   *struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func parseAPIError(op string, status int, body []byte) *APIError {
	apiErr := &APIError{Op: op, Status: status}
	var payload errorBody
	if err := json.Unmarshal(body, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if len(apiErr.Message) > 200 {
			apiErr.Message = apiErr.Message[:200]
		}
		return apiErr
	}
	apiErr.Message = payload.Message
	if payload.Error != nil {
		apiErr.Type = payload.Error.Type
		apiErr.Code = payload.Error.Code
		apiErr.DeclineCode = payload.Error.DeclineCode
		if payload.Error.Message != "" {
			apiErr.Message = payload.Error.Message
		}
	}
	return apiErr
}
