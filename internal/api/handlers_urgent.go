package api

import (
	"net/http"
	"strings"

	"github.com/cureliah/backend/internal/app"
	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
)

// ListOpenUrgentRequestsHandler lists requests doctors can still answer.
func (h *Handlers) ListOpenUrgentRequestsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r, 50)
	if err != nil {
		h.writeServiceError(w, r, "list_urgent_requests", err)
		return
	}
	opts := domain.UrgentListOptions{
		Speciality: strings.TrimSpace(r.URL.Query().Get("speciality")),
		Limit:      limit,
		Offset:     offset,
	}
	if level := strings.TrimSpace(r.URL.Query().Get("urgency_level")); level != "" {
		opts.UrgencyLevel = domain.UrgencyLevel(level)
		if !opts.UrgencyLevel.Valid() {
			h.writeValidationError(w, domain.NewValidationError("urgency_level", "must be one of medium, high, critical"))
			return
		}
	}
	items, err := h.urgent.ListOpen(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, "list_urgent_requests", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) ListMyUrgentRequestsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	items, err := h.urgent.ListMine(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, "list_my_urgent_requests", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) CreateUrgentRequestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in app.CreateUrgentInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req, err := h.urgent.Create(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, "create_urgent_request", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetUrgentRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "requestID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}
	req, err := h.urgent.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get_urgent_request", err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) ListUrgentResponsesHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "requestID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}
	items, err := h.urgent.ListResponses(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, "list_urgent_responses", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) RespondToUrgentRequestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "requestID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}
	var in app.RespondInput
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	resp, err := h.urgent.Respond(r.Context(), actor, id, in)
	if err != nil {
		h.writeServiceError(w, r, "respond_urgent_request", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) CancelUrgentRequestHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "requestID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}
	req, err := h.urgent.Cancel(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, "cancel_urgent_request", err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

type urgentResponseAction func(r *http.Request, actor app.Actor, responseID uuid.UUID) (*domain.UrgentResponse, error)

// urgentResponseHandler shares the plumbing of accept, reject and withdraw.
func (h *Handlers) urgentResponseHandler(endpoint string, action urgentResponseAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		id, ok := urlUUID(r, "responseID")
		if !ok {
			h.writeError(w, http.StatusBadRequest, "Invalid response id")
			return
		}
		resp, err := action(r, actor, id)
		if err != nil {
			h.writeServiceError(w, r, endpoint, err)
			return
		}
		h.writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handlers) AcceptUrgentResponseHandler(w http.ResponseWriter, r *http.Request) {
	h.urgentResponseHandler("accept_urgent_response", func(r *http.Request, actor app.Actor, id uuid.UUID) (*domain.UrgentResponse, error) {
		return h.urgent.AcceptResponse(r.Context(), actor, id)
	})(w, r)
}

func (h *Handlers) RejectUrgentResponseHandler(w http.ResponseWriter, r *http.Request) {
	h.urgentResponseHandler("reject_urgent_response", func(r *http.Request, actor app.Actor, id uuid.UUID) (*domain.UrgentResponse, error) {
		return h.urgent.RejectResponse(r.Context(), actor, id)
	})(w, r)
}

func (h *Handlers) WithdrawUrgentResponseHandler(w http.ResponseWriter, r *http.Request) {
	h.urgentResponseHandler("withdraw_urgent_response", func(r *http.Request, actor app.Actor, id uuid.UUID) (*domain.UrgentResponse, error) {
		return h.urgent.WithdrawResponse(r.Context(), actor, id)
	})(w, r)
}
