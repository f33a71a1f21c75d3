package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Service wraps account business rules: credential hashing, uniqueness,
// and session-bound authorization.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a new account. Inputs are already trimmed; the handler
// rejects empty fields before calling.
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, name, email, string(hash))
}

// Login validates credentials. When a username is supplied the lookup is by
// name exclusively; otherwise by email. Both lookup and password failures
// surface as 401.
func (s *Service) Login(ctx context.Context, username, email, password string) (*User, error) {
	var (
		user *User
		err  error
	)
	if username != "" {
		user, err = s.repo.FindByName(ctx, username)
	} else {
		user, err = s.repo.FindByEmail(ctx, email)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrIncorrectPassword
	}
	return user, nil
}

// Get fetches an account by id.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// Update applies the requested changes to the target account. Only the
// account's own session may modify it. Each field is independently optional;
// an empty value leaves the field unchanged.
func (s *Service) Update(ctx context.Context, targetID, callerID int64, name, email, password string) error {
	if callerID != targetID || callerID == 0 {
		return ErrForbidden
	}
	if _, err := s.repo.FindByID(ctx, targetID); err != nil {
		return err
	}
	// A name collision is reported ahead of email validation.
	if name != "" {
		other, err := s.repo.FindByName(ctx, name)
		if err == nil && other.ID != targetID {
			return ErrNameTaken
		}
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return err
		}
	}
	if email != "" && !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}
	changes := Changes{Name: name, Email: email}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		changes.PasswordHash = string(hash)
	}
	return s.repo.Update(ctx, targetID, changes)
}

// Delete permanently removes the target account under the same authorization
// rule as Update.
func (s *Service) Delete(ctx context.Context, targetID, callerID int64) error {
	if callerID != targetID || callerID == 0 {
		return ErrForbidden
	}
	if _, err := s.repo.FindByID(ctx, targetID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, targetID)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
