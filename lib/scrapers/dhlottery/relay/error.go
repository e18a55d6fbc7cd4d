package relay

import (
	"encoding/json"
	"strings"
)

// Error reports that the relay itself failed, either unreachable from
// the client or unable to reach the upstream (status 523). Ordinary
// upstream statuses pass through and never produce one.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "relay: " + e.Message + ": " + e.Err.Error()
	}
	return "relay: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorFromBody decodes the JSON payload a relay serves alongside
// status 523, keeping the upstream failure's original message. Bodies
// in any other shape are carried verbatim.
func ErrorFromBody(body []byte) *Error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return &Error{Message: payload.Message}
	}
	return &Error{Message: strings.TrimSpace(string(body))}
}
