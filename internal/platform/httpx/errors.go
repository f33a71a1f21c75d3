package httpx

import (
	"errors"
	"net/http"
)

// Error is a user-facing failure carrying the HTTP status it maps to. The
// message is safe to return to clients verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// BadRequest reports malformed input (missing field, bad email format).
func BadRequest(message string) error {
	return &Error{Status: http.StatusBadRequest, Message: message}
}

// Unauthorized reports a missing session or failed credential check.
func Unauthorized(message string) error {
	return &Error{Status: http.StatusUnauthorized, Message: message}
}

// Forbidden reports a session identity that does not match the target.
func Forbidden(message string) error {
	return &Error{Status: http.StatusForbidden, Message: message}
}

// NotFound reports a record that does not exist.
func NotFound(message string) error {
	return &Error{Status: http.StatusNotFound, Message: message}
}

// Conflict reports a uniqueness violation.
func Conflict(message string) error {
	return &Error{Status: http.StatusConflict, Message: message}
}

// RespondError writes the `{"error": ...}` envelope for err. Unknown errors
// become a generic 500; their detail is for logs only, never the client.
func RespondError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		JSON(w, apiErr.Status, map[string]string{"error": apiErr.Message})
		return
	}
	JSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}
