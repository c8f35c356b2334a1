package identity

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler handles HTTP requests for the identity module.
type Handler struct {
	service       *Service
	validator     *validator.Validate
	tokenDuration time.Duration
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service, tokenDuration time.Duration) *Handler {
	return &Handler{
		service:       service,
		validator:     validator.New(),
		tokenDuration: tokenDuration,
	}
}

// RegisterRoutes registers public identity routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

// RegisterProtectedRoutes registers routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Post("/auth/change-password", h.ChangePassword)
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents a successful login.
type LoginResponse struct {
	Token      string             `json:"token"`
	ExpiresIn  int64              `json:"expires_in"`
	Technician *domain.Technician `json:"technician"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, identityErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, LoginResponse{
		Token:      result.Token,
		ExpiresIn:  int64(h.tokenDuration.Seconds()),
		Technician: result.Technician,
	})
}

// ChangePasswordRequest represents the change password request body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// ChangePassword handles POST /auth/change-password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := httputil.UserIDFromContext(r.Context())
	if userID == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), *userID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.HandleError(r.Context(), w, err, identityErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"changed": true})
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := httputil.UserIDFromContext(r.Context())
	if userID == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	tech, err := h.service.Me(r.Context(), *userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, identityErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, tech)
}

var identityErrorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidCredentials, Status: http.StatusUnauthorized},
	{Error: ErrUserNotFound, Status: http.StatusNotFound},
}
