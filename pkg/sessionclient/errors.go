package sessionclient

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSessionEnded marks every error caused by a failed credential refresh.
// Once it is returned both credentials have been discarded and the user has
// to log in again.
var ErrSessionEnded = errors.New("session ended")

// RequestError is a non-2xx response or a transport failure. Status is 0
// when no response was received.
type RequestError struct {
	Method string
	Path   string
	Status int
	// Body is the decoded JSON response, or an empty map when the body was
	// not a JSON object.
	Body map[string]any
	Err  error
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Code returns error.code from a standard error envelope, if present.
func (e *RequestError) Code() string {
	return e.envelopeField("code")
}

// Message returns error.message from a standard error envelope, if present.
func (e *RequestError) Message() string {
	return e.envelopeField("message")
}

func (e *RequestError) envelopeField(name string) string {
	env, ok := e.Body["error"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := env[name].(string)
	return s
}

func parseErrorBody(raw []byte) map[string]any {
	body := map[string]any{}
	if len(raw) == 0 {
		return body
	}
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return map[string]any{}
	}
	return body
}

// RefreshError reports a failed refresh call. errors.Is(err, ErrSessionEnded)
// holds for every RefreshError.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s: refresh failed: %v", ErrSessionEnded, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool {
	return target == ErrSessionEnded
}
