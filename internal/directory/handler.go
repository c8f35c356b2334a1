package directory

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler handles HTTP requests for the directory module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new directory handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers authenticated directory routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Patch("/technicians/availability", h.SetOwnAvailability)
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/register-token", h.RegisterPushToken)
		r.Patch("/settings", h.SetNotificationSettings)
	})
}

// RegisterManagerRoutes registers routes that require manager role.
func (h *Handler) RegisterManagerRoutes(r chi.Router) {
	r.Get("/technicians", h.ListTechnicians)
	r.Get("/technicians/{id}", h.GetTechnician)
	r.Patch("/technicians/{id}/availability", h.SetAvailability)
}

var directoryErrorMappings = []httputil.ErrorMapping{
	{Error: domain.ErrTechnicianNotFound, Status: http.StatusNotFound},
}

// ListTechnicians handles GET /technicians.
func (h *Handler) ListTechnicians(w http.ResponseWriter, r *http.Request) {
	techs, err := h.service.ListTechnicians(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, directoryErrorMappings)
		return
	}
	if techs == nil {
		techs = []*domain.Technician{}
	}

	httputil.Success(w, http.StatusOK, techs)
}

// GetTechnician handles GET /technicians/{id}.
func (h *Handler) GetTechnician(w http.ResponseWriter, r *http.Request) {
	id, ok := h.technicianID(w, r)
	if !ok {
		return
	}

	tech, err := h.service.GetTechnician(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, directoryErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, tech)
}

// AvailabilityRequest represents an availability toggle.
type AvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

// SetOwnAvailability handles PATCH /technicians/availability for the
// authenticated technician.
func (h *Handler) SetOwnAvailability(w http.ResponseWriter, r *http.Request) {
	userID := httputil.UserIDFromContext(r.Context())
	if userID == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.setAvailability(w, r, *userID)
}

// SetAvailability handles PATCH /technicians/{id}/availability.
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := h.technicianID(w, r)
	if !ok {
		return
	}

	h.setAvailability(w, r, id)
}

func (h *Handler) setAvailability(w http.ResponseWriter, r *http.Request, id int64) {
	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.SetAvailability(r.Context(), id, *req.Available); err != nil {
		httputil.HandleError(r.Context(), w, err, directoryErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"available": *req.Available})
}

// RegisterTokenRequest represents a push token registration.
type RegisterTokenRequest struct {
	PushToken string `json:"push_token" validate:"required,min=1"`
}

// RegisterPushToken handles POST /notifications/register-token.
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID := httputil.UserIDFromContext(r.Context())
	if userID == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.RegisterPushToken(r.Context(), *userID, req.PushToken); err != nil {
		httputil.HandleError(r.Context(), w, err, directoryErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"registered": true})
}

// NotificationSettingsRequest toggles push delivery.
type NotificationSettingsRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetNotificationSettings handles PATCH /notifications/settings.
func (h *Handler) SetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	userID := httputil.UserIDFromContext(r.Context())
	if userID == nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req NotificationSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.SetNotificationsEnabled(r.Context(), *userID, *req.Enabled); err != nil {
		httputil.HandleError(r.Context(), w, err, directoryErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (h *Handler) technicianID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid technician id")
		return 0, false
	}
	return id, true
}
