package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultErrorMessage is shown when the backend gives no message.
const DefaultErrorMessage = "An error occurred"

var (
	// ErrUnauthorized matches any error caused by a rejected or missing credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoToken is returned without contacting the backend when a
	// protected endpoint is called without a session.
	ErrNoToken = fmt.Errorf("%w: no credential token", ErrUnauthorized)
	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Method     string
	Path       string
}

// Error returns the server message so that it can be shown as is.
func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// newAPIError extracts the backend message from an error body. The backend
// answers with {"message": "..."}; anything else falls back to the generic
// message.
func newAPIError(method, path string, status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = strings.TrimSpace(payload.Message)
		if msg == "" {
			msg = strings.TrimSpace(payload.Error)
		}
	}
	if msg == "" {
		msg = DefaultErrorMessage
	}
	return &APIError{StatusCode: status, Message: msg, Method: method, Path: path}
}

// Message returns the text to show the user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
