package restclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// errInternal is returned if the retry loop ends without producing either a
// response or a classified failure. It indicates a bug in the engine, not a
// runtime condition.
var errInternal = errors.New("restclient: request loop ended without an outcome")

// APIError reports that the server was reached and answered with a non-2xx
// status. Body holds the best-effort parsed JSON error payload; it is nil
// when the response body was empty or not valid JSON.
type APIError struct {
	Status  int
	Message string
	Body    json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// ConnectionError reports that no usable HTTP response was obtained after
// exhausting the retry budget: the request timed out, was cancelled, or the
// server was unreachable. Message folds in the last known status or
// server-reported error text when one was observed on an earlier attempt.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", e.Message, e.Err)
	}
	return "connection error: " + e.Message
}

// Unwrap exposes the underlying transport error for errors.Is/As checks.
func (e *ConnectionError) Unwrap() error { return e.Err }

// newAPIError builds an APIError from a non-2xx response body. A body that
// is empty or not valid JSON is tolerated and yields no payload; a JSON
// object with a string "error" field contributes the message.
func newAPIError(status int, raw []byte) *APIError {
	e := &APIError{Status: status, Message: http.StatusText(status)}

	if len(raw) == 0 || !json.Valid(raw) {
		return e
	}

	e.Body = json.RawMessage(append([]byte(nil), raw...))

	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &probe) == nil && probe.Error != "" {
		e.Message = probe.Error
	}

	return e
}
