package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/skyplanner/eventkit/pkg/urlguard"
)

// Identity resolves the authenticated caller of an admin request. The
// application wires it to its session or JWT middleware.
type Identity func(r *http.Request) (orgID, userID int64, err error)

// Handler exposes the endpoint and delivery management API.
type Handler struct {
	svc      *Service
	identity Identity
	log      *slog.Logger
}

// NewHandler creates the admin API handler. identity must not be nil.
func NewHandler(svc *Service, identity Identity, log *slog.Logger) *Handler {
	if identity == nil {
		panic("webhook: identity resolver cannot be nil")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{svc: svc, identity: identity, log: log}
}

// Router returns the admin routes, meant to be mounted under a path like
// /api/webhooks.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/event-types", h.listEventTypes)
	r.Route("/endpoints", func(r chi.Router) {
		r.Get("/", h.listEndpoints)
		r.Post("/", h.createEndpoint)
		r.Route("/{endpointID}", func(r chi.Router) {
			r.Get("/", h.getEndpoint)
			r.Patch("/", h.updateEndpoint)
			r.Delete("/", h.deleteEndpoint)
			r.Post("/rotate-secret", h.rotateSecret)
			r.Get("/deliveries", h.listDeliveries)
		})
	})
	r.Route("/deliveries/{deliveryID}", func(r chi.Router) {
		r.Get("/", h.getDelivery)
		r.Post("/retry", h.retryDelivery)
	})
	return r
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type responseBody struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(responseBody{Data: data}); err != nil {
		h.log.Debug("response write failed", slog.Any("error", err))
	}
}

// respondError maps domain errors onto HTTP statuses with a stable
// machine-readable code.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrEndpointNotFound), errors.Is(err, ErrDeliveryNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrNoEvents), errors.Is(err, ErrUnknownEvent),
		errors.Is(err, ErrNameRequired), errors.Is(err, urlguard.ErrInvalidURL):
		status, code = http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, ErrAlreadyDelivered):
		status, code = http.StatusConflict, "already_delivered"
	case errors.Is(err, errBadRequest):
		status, code = http.StatusBadRequest, "bad_request"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(responseBody{Error: &errorBody{Code: code, Message: err.Error()}})
}

var errBadRequest = errors.New("bad request")

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	orgID, userID, err := h.identity(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(responseBody{Error: &errorBody{Code: "unauthorized", Message: "unauthorized"}})
		return 0, 0, false
	}
	return orgID, userID, true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadRequest
	}
	return id, nil
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.caller(w, r); !ok {
		return
	}
	h.respond(w, http.StatusOK, EventTypes())
}

type createEndpointRequest struct {
	URL         string      `json:"url"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Events      []EventType `json:"events"`
}

// createEndpointResponse carries the plaintext secret exactly once, at
// creation time.
type createEndpointResponse struct {
	Endpoint *Endpoint `json:"endpoint"`
	Secret   string    `json:"secret"`
}

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	orgID, userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, errBadRequest)
		return
	}
	endpoint, secret, err := h.svc.CreateEndpoint(r.Context(), orgID, userID, CreateEndpointParams{
		URL:         req.URL,
		Name:        req.Name,
		Description: req.Description,
		Events:      req.Events,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, createEndpointResponse{Endpoint: endpoint, Secret: secret})
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	endpoints, err := h.svc.ListEndpoints(r.Context(), orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, endpoints)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "endpointID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	endpoint, err := h.svc.GetEndpoint(r.Context(), id, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, endpoint)
}

type updateEndpointRequest struct {
	URL         *string     `json:"url"`
	Name        *string     `json:"name"`
	Description *string     `json:"description"`
	Events      []EventType `json:"events"`
	IsActive    *bool       `json:"is_active"`
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "endpointID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req updateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, errBadRequest)
		return
	}
	endpoint, err := h.svc.UpdateEndpoint(r.Context(), id, orgID, UpdateEndpointParams{
		URL:         req.URL,
		Name:        req.Name,
		Description: req.Description,
		Events:      req.Events,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, endpoint)
}

func (h *Handler) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "endpointID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.svc.DeleteEndpoint(r.Context(), id, orgID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rotateSecretResponse struct {
	Secret string `json:"secret"`
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "endpointID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	secret, err := h.svc.RotateSecret(r.Context(), id, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, rotateSecretResponse{Secret: secret})
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "endpointID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.respondError(w, errBadRequest)
			return
		}
	}
	deliveries, err := h.svc.ListDeliveries(r.Context(), id, orgID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, deliveries)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "deliveryID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	delivery, err := h.svc.GetDelivery(r.Context(), id, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, delivery)
}

func (h *Handler) retryDelivery(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "deliveryID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	delivery, err := h.svc.RetryDelivery(r.Context(), id, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, delivery)
}
