package routing

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Pagination constants.
const (
	DefaultIncidentsLimit = 50
	MaxIncidentsLimit     = 200
)

// Handler handles HTTP requests for the routing module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new routing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers authenticated incident routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Post("/", h.CreateIncident)
		r.Get("/{id}", h.GetIncident)
		r.Get("/{id}/events", h.ListEvents)
		r.Get("/{id}/attempts", h.ListAttempts)
		r.Post("/{id}/respond", h.Respond)
	})
}

// RegisterManagerRoutes registers routes that require manager role.
func (h *Handler) RegisterManagerRoutes(r chi.Router) {
	r.Post("/incidents/{id}/route", h.StartRouting)
	r.Post("/incidents/{id}/assign", h.AssignIncident)
	r.Post("/incidents/{id}/escalate", h.ManualEscalate)
	r.Post("/incidents/{id}/close", h.CloseIncident)
}

// RegisterWebhookRoutes registers the unauthenticated telephony callback.
func (h *Handler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/webhooks/telephony", h.TelephonyCallback)
}

var incidentErrorMappings = []httputil.ErrorMapping{
	{Error: domain.ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: domain.ErrTechnicianNotFound, Status: http.StatusNotFound},
	{Error: domain.ErrAttemptNotFound, Status: http.StatusNotFound},
	{Error: domain.ErrAttemptInFlight, Status: http.StatusConflict},
	{Error: domain.ErrInvalidTransition, Status: http.StatusConflict},
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	BuildingID  string  `json:"building_id" validate:"required,min=1,max=255"`
	SiteID      *string `json:"site_id"`
	Source      string  `json:"source" validate:"omitempty,oneof=telephony manual"`
	Description string  `json:"description" validate:"required,min=1"`
	Priority    string  `json:"priority" validate:"omitempty,oneof=low medium high"`
	CallerID    *string `json:"caller_id"`
	// StartRouting controls whether the escalation ladder starts immediately.
	StartRouting *bool `json:"start_routing"`
}

// CreateIncident handles POST /incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	source := domain.IncidentSource(req.Source)
	if source == "" {
		source = domain.IncidentSourceManual
	}

	userID := httputil.UserIDFromContext(r.Context())

	incident, err := h.service.CreateIncident(r.Context(), CreateIncidentInput{
		BuildingID:      req.BuildingID,
		SiteID:          req.SiteID,
		Source:          source,
		Description:     req.Description,
		Priority:        domain.IncidentPriority(req.Priority),
		CreatedByUserID: userID,
		CallerID:        req.CallerID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	if req.StartRouting == nil || *req.StartRouting {
		if err := h.service.StartRouting(r.Context(), incident.ID, userID); err != nil {
			httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
			return
		}
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filters := IncidentFilters{
		Search: r.URL.Query().Get("search"),
		Limit:  DefaultIncidentsLimit,
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.IncidentStatus(s)
		filters.Status = &status
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 || limit > MaxIncidentsLimit {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filters.Limit = limit
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		offset, err := strconv.Atoi(o)
		if err != nil || offset < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filters.Offset = offset
	}

	incidents, err := h.service.ListIncidents(r.Context(), filters)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}
	if incidents == nil {
		incidents = []*domain.Incident{}
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	incident, err := h.service.GetIncident(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ListEvents handles GET /incidents/{id}/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.GetIncident(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	events, err := h.service.ListEvents(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}
	if events == nil {
		events = []*domain.IncidentEvent{}
	}

	httputil.Success(w, http.StatusOK, events)
}

// ListAttempts handles GET /incidents/{id}/attempts.
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.GetIncident(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	attempts, err := h.service.ListAttempts(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}
	if attempts == nil {
		attempts = []*domain.CallAttempt{}
	}

	httputil.Success(w, http.StatusOK, attempts)
}

// StartRouting handles POST /incidents/{id}/route.
func (h *Handler) StartRouting(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	if err := h.service.StartRouting(r.Context(), id, httputil.UserIDFromContext(r.Context())); err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, map[string]bool{"routing": true})
}

// RespondRequest represents a technician's accept/decline response.
type RespondRequest struct {
	AttemptID int64  `json:"attempt_id" validate:"required"`
	Outcome   string `json:"outcome" validate:"required,oneof=accepted declined"`
}

// Respond handles POST /incidents/{id}/respond (mobile accept/decline).
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	err := h.service.HandleResponse(r.Context(), id, req.AttemptID,
		domain.AttemptOutcome(req.Outcome), httputil.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"recorded": true})
}

// AssignRequest represents a manual assignment.
type AssignRequest struct {
	TechnicianID int64 `json:"technician_id" validate:"required"`
}

// AssignIncident handles POST /incidents/{id}/assign.
func (h *Handler) AssignIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	err := h.service.AssignIncident(r.Context(), id, req.TechnicianID, httputil.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"assigned": true})
}

// ManualEscalate handles POST /incidents/{id}/escalate.
func (h *Handler) ManualEscalate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	if err := h.service.ManualEscalate(r.Context(), id, httputil.UserIDFromContext(r.Context())); err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"escalated": true})
}

// CloseRequest represents the request body for closing an incident.
type CloseRequest struct {
	Notes            string `json:"notes"`
	FollowUpRequired bool   `json:"follow_up_required"`
}

// CloseIncident handles POST /incidents/{id}/close.
func (h *Handler) CloseIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := h.service.CloseIncident(r.Context(), id, CloseInput{
		Notes:            req.Notes,
		FollowUpRequired: req.FollowUpRequired,
		ClosedByUserID:   httputil.UserIDFromContext(r.Context()),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"closed": true})
}

// TelephonyCallbackRequest represents a provider call-status callback.
type TelephonyCallbackRequest struct {
	IncidentID int64  `json:"incident_id" validate:"required"`
	AttemptID  int64  `json:"attempt_id" validate:"required"`
	CallStatus string `json:"call_status" validate:"required,oneof=accepted declined answered no_answer busy failed"`
}

// TelephonyCallback handles POST /webhooks/telephony. Late callbacks for
// attempts the mobile app already resolved are recorded as stale and the
// webhook still succeeds.
func (h *Handler) TelephonyCallback(w http.ResponseWriter, r *http.Request) {
	var req TelephonyCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	outcome := domain.AttemptOutcome(req.CallStatus)
	if req.CallStatus == "busy" || req.CallStatus == "failed" {
		outcome = domain.AttemptOutcomeNoAnswer
	}

	err := h.service.HandleResponse(r.Context(), req.IncidentID, req.AttemptID, outcome, nil)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, incidentErrorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) incidentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid incident id")
		return 0, false
	}
	return id, true
}
