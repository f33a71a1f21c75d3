package accounts

import (
	"time"

	"github.com/accountd/accountd/internal/platform/httpx"
)

// User represents a stored account. PasswordHash never leaves the service
// layer; response payloads carry id, name, and email only.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Changes describes a partial update. An empty field means "leave unchanged".
type Changes struct {
	Name         string
	Email        string
	PasswordHash string
}

// Empty reports whether no field is being changed.
func (c Changes) Empty() bool {
	return c.Name == "" && c.Email == "" && c.PasswordHash == ""
}

// Domain errors, carrying the status and message returned to clients.
var (
	ErrMissingRegisterFields = httpx.BadRequest("Missing username, password, or email")
	ErrMissingLoginFields    = httpx.BadRequest("Missing username/email or password")
	ErrInvalidEmail          = httpx.BadRequest("Invalid email format")
	ErrNameTaken             = httpx.Conflict("Username already exists")
	ErrEmailTaken            = httpx.Conflict("Email already registered")
	ErrUserNotFound          = httpx.NotFound("User not found")
	// Login failures surface as 401 regardless of cause; the message still
	// distinguishes a missing user from a bad password.
	ErrUnknownUser       = httpx.Unauthorized("User not found")
	ErrIncorrectPassword = httpx.Unauthorized("Incorrect password")
	ErrForbidden         = httpx.Forbidden("Forbidden")
	ErrUnauthorized      = httpx.Unauthorized("Unauthorized")
)
