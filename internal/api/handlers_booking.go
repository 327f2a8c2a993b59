package api

import (
	"net/http"
	"strings"

	"github.com/cureliah/backend/internal/app"
	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
)

const idempotencyKeyHeader = "Idempotency-Key"

type requestBookingPayload struct {
	VacationID uuid.UUID `json:"vacation_id"`
}

type respondToBookingPayload struct {
	Decision domain.BookingDecision `json:"decision"`
}

type cancelBookingPayload struct {
	Reason string `json:"reason"`
}

// actor returns the authenticated caller, writing a 401 when it is missing.
func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (app.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
	}
	return actor, ok
}

func vacationFilter(r *http.Request) (domain.VacationListOptions, error) {
	limit, offset, err := paging(r, 50)
	if err != nil {
		return domain.VacationListOptions{}, err
	}
	q := r.URL.Query()
	from, err := parseOptionalTime(q.Get("from"), "from")
	if err != nil {
		return domain.VacationListOptions{}, err
	}
	to, err := parseOptionalTime(q.Get("to"), "to")
	if err != nil {
		return domain.VacationListOptions{}, err
	}
	opts := domain.VacationListOptions{
		Speciality: strings.TrimSpace(q.Get("speciality")),
		Location:   strings.TrimSpace(q.Get("location")),
		From:       from,
		To:         to,
		Limit:      limit,
		Offset:     offset,
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" {
		opts.Status = domain.VacationStatus(status)
		if !opts.Status.Valid() {
			return domain.VacationListOptions{}, domain.NewValidationError("status", "unknown status")
		}
	}
	return opts, nil
}

// ListVacationsHandler lists vacation posts open for booking.
func (h *Handlers) ListVacationsHandler(w http.ResponseWriter, r *http.Request) {
	opts, err := vacationFilter(r)
	if err != nil {
		h.writeServiceError(w, r, "list_vacations", err)
		return
	}
	items, err := h.bookings.ListAvailableVacations(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, "list_vacations", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// ListMyVacationsHandler lists the calling doctor's posts in any status.
func (h *Handlers) ListMyVacationsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	opts, err := vacationFilter(r)
	if err != nil {
		h.writeServiceError(w, r, "list_my_vacations", err)
		return
	}
	items, err := h.bookings.ListDoctorVacations(r.Context(), actor, opts)
	if err != nil {
		h.writeServiceError(w, r, "list_my_vacations", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) CreateVacationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in app.CreateVacationInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	vacation, err := h.bookings.CreateVacation(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, "create_vacation", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, vacation)
}

func (h *Handlers) GetVacationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "vacationID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid vacation id")
		return
	}
	vacation, err := h.bookings.GetVacation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get_vacation", err)
		return
	}
	h.writeJSON(w, http.StatusOK, vacation)
}

func (h *Handlers) PublishVacationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "vacationID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid vacation id")
		return
	}
	vacation, err := h.bookings.PublishVacation(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, "publish_vacation", err)
		return
	}
	h.writeJSON(w, http.StatusOK, vacation)
}

// RequestBookingHandler books a vacation for the calling establishment. A
// replayed Idempotency-Key returns the original booking with 200 instead of 201.
func (h *Handlers) RequestBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload requestBookingPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.VacationID == uuid.Nil {
		h.writeValidationError(w, domain.NewValidationError("vacation_id", "is required"))
		return
	}
	requestKey := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if len(requestKey) > 128 {
		h.writeValidationError(w, domain.NewValidationError(idempotencyKeyHeader, "must be at most 128 characters"))
		return
	}

	booking, created, err := h.bookings.RequestBooking(r.Context(), actor, payload.VacationID, requestKey)
	if err != nil {
		h.writeServiceError(w, r, "request_booking", err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	h.writeJSON(w, status, booking)
}

func (h *Handlers) RespondToBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "bookingID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid booking id")
		return
	}
	var payload respondToBookingPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	booking, err := h.bookings.RespondToBooking(r.Context(), actor, id, payload.Decision)
	if err != nil {
		h.writeServiceError(w, r, "respond_booking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, booking)
}

func (h *Handlers) CancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "bookingID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid booking id")
		return
	}
	var payload cancelBookingPayload
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &payload); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	booking, err := h.bookings.CancelBooking(r.Context(), actor, id, strings.TrimSpace(payload.Reason))
	if err != nil {
		h.writeServiceError(w, r, "cancel_booking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, booking)
}

func (h *Handlers) CompleteBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "bookingID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid booking id")
		return
	}
	booking, err := h.bookings.CompleteBooking(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, "complete_booking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, booking)
}

func (h *Handlers) SubmitReviewHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "bookingID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid booking id")
		return
	}
	var in app.ReviewInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	review, err := h.bookings.SubmitReview(r.Context(), actor, id, in)
	if err != nil {
		h.writeServiceError(w, r, "submit_review", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, review)
}

func (h *Handlers) ListBookingsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	limit, offset, err := paging(r, 50)
	if err != nil {
		h.writeServiceError(w, r, "list_bookings", err)
		return
	}
	opts := domain.BookingListOptions{Limit: limit, Offset: offset}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		opts.Status = domain.BookingStatus(status)
		if !opts.Status.Valid() {
			h.writeValidationError(w, domain.NewValidationError("status", "unknown status"))
			return
		}
	}
	items, err := h.bookings.ListBookings(r.Context(), actor, opts)
	if err != nil {
		h.writeServiceError(w, r, "list_bookings", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "bookingID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid booking id")
		return
	}
	booking, err := h.bookings.GetBooking(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, "get_booking", err)
		return
	}
	h.writeJSON(w, http.StatusOK, booking)
}
