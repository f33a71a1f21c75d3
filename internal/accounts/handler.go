package accounts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/accountd/accountd/internal/platform/httpx"
	"github.com/accountd/accountd/internal/shared"
)

// Handler wires the HTTP endpoints for account flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		validator:      validator.New(),
	}
}

// MountRoutes registers account routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Put("/user/{id}", h.handleUpdate)
	r.Delete("/user/{id}", h.handleDelete)
	r.Get("/me", h.handleMe)
}

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"required"`
}

type loginRequest struct {
	Password string `json:"password" validate:"required"`
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email" validate:"required_without=Username"`
}

type updateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type userResponse struct {
	Message string      `json:"message"`
	User    userPayload `json:"user"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondErr(w, "register decode", httpx.BadRequest("Invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Password = strings.TrimSpace(req.Password)
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.Struct(req); err != nil {
		h.respondErr(w, "register validate", ErrMissingRegisterFields)
		return
	}

	user, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.respondErr(w, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, userResponse{
		Message: "User registered successfully",
		User:    userPayload{ID: user.ID, Name: user.Name, Email: user.Email},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondErr(w, "login decode", httpx.BadRequest("Invalid request body"))
		return
	}
	req.Password = strings.TrimSpace(req.Password)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.Struct(req); err != nil {
		h.respondErr(w, "login validate", ErrMissingLoginFields)
		return
	}

	user, err := h.service.Login(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.respondErr(w, "login", err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.respondErr(w, "login", errors.New("session missing during login"))
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, userResponse{
		Message: "Login successful",
		User:    userPayload{ID: user.ID, Name: user.Name},
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		// Drop the binding; the session itself survives, as after a
		// self-delete.
		sess.ClearUser()
	}
	httpx.Message(w, http.StatusOK, "Logged out successfully")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	targetID, err := parseID(r)
	if err != nil {
		h.respondErr(w, "update", ErrUserNotFound)
		return
	}

	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondErr(w, "update decode", httpx.BadRequest("Invalid request body"))
		return
	}
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	password := strings.TrimSpace(req.Password)

	if err := h.service.Update(r.Context(), targetID, h.callerID(r), name, email, password); err != nil {
		h.respondErr(w, "update", err)
		return
	}
	httpx.Message(w, http.StatusOK, "User updated successfully")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	targetID, err := parseID(r)
	if err != nil {
		h.respondErr(w, "delete", ErrUserNotFound)
		return
	}

	if err := h.service.Delete(r.Context(), targetID, h.callerID(r)); err != nil {
		h.respondErr(w, "delete", err)
		return
	}

	// The record is gone; drop the session binding so the connection
	// returns to anonymous.
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.ClearUser()
	}
	httpx.Message(w, http.StatusOK, "User deleted successfully")
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	callerID := h.callerID(r)
	if callerID == 0 {
		h.respondErr(w, "me", ErrUnauthorized)
		return
	}

	user, err := h.service.Get(r.Context(), callerID)
	if err != nil {
		h.respondErr(w, "me", err)
		return
	}
	httpx.JSON(w, http.StatusOK, userPayload{ID: user.ID, Name: user.Name, Email: user.Email})
}

// callerID resolves the authenticated user id from the request session, or 0
// for an anonymous connection.
func (h *Handler) callerID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	var apiErr *httpx.Error
	if !errors.As(err, &apiErr) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
