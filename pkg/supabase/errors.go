package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidPayload marks a response that did not match the expected shape.
	ErrInvalidPayload = errors.New("invalid platform payload")
	// ErrNotFound is returned when a single-row query matched nothing.
	ErrNotFound = errors.New("no rows returned")
	// ErrNoSession is returned by operations that need a signed-in caller.
	ErrNoSession = errors.New("no active session")
)

// APIError is an error reply from one of the platform APIs.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// FunctionError is a non-2xx reply from an edge function.
type FunctionError struct {
	Name    string
	Status  int
	Message string
}

func (e *FunctionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("function %s returned status %d", e.Name, e.Status)
}

// StatusOf returns the HTTP status carried by a platform error, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var fnErr *FunctionError
	if errors.As(err, &fnErr) {
		return fnErr.Status
	}
	return 0
}

func IsUnauthorized(err error) bool { return StatusOf(err) == http.StatusUnauthorized }
func IsForbidden(err error) bool    { return StatusOf(err) == http.StatusForbidden }

// IsNotFound covers both empty single-row reads and 404 replies.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || StatusOf(err) == http.StatusNotFound
}

// parseAPIError reads the error envelope used by PostgREST, GoTrue and
// Storage. Each service names the message field differently.
func parseAPIError(status int, body []byte) *APIError {
	var env struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Details          any             `json:"details"`
		Hint             string          `json:"hint"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, &env); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}
	apiErr.Code = strings.Trim(string(env.Code), `"`)
	if apiErr.Code == "" {
		apiErr.Code = env.ErrorCode
	}
	for _, m := range []string{env.Message, env.Msg, env.ErrorDescription, env.Error} {
		if strings.TrimSpace(m) != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if env.Details != nil {
		apiErr.Details = fmt.Sprint(env.Details)
	}
	apiErr.Hint = env.Hint
	return apiErr
}
