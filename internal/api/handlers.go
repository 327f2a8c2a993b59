/**
 * @description
 * HTTP handlers for the Cureliah API. Handlers decode the request, resolve the
 * authenticated actor, call the application services and map their errors onto
 * status codes. Business rules live in internal/app.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/goccy/go-json: request and response bodies.
 * - github.com/sony/gobreaker/v2: open-circuit detection for 503 responses.
 * - internal/app: the services behind every endpoint.
 */

package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cureliah/backend/internal/app"
	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/realtime"
	"github.com/cureliah/backend/pkg/stripeclient"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

const maxBodyBytes = 1 << 20

// BookingAPI is the booking and vacation surface of the application layer.
type BookingAPI interface {
	CreateVacation(ctx context.Context, actor app.Actor, in app.CreateVacationInput) (*domain.VacationPost, error)
	PublishVacation(ctx context.Context, actor app.Actor, vacationID uuid.UUID) (*domain.VacationPost, error)
	ListAvailableVacations(ctx context.Context, opts domain.VacationListOptions) ([]domain.VacationPost, error)
	ListDoctorVacations(ctx context.Context, actor app.Actor, opts domain.VacationListOptions) ([]domain.VacationPost, error)
	GetVacation(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error)
	RequestBooking(ctx context.Context, actor app.Actor, vacationID uuid.UUID, requestKey string) (*domain.Booking, bool, error)
	RespondToBooking(ctx context.Context, actor app.Actor, bookingID uuid.UUID, decision domain.BookingDecision) (*domain.Booking, error)
	CancelBooking(ctx context.Context, actor app.Actor, bookingID uuid.UUID, reason string) (*domain.Booking, error)
	CompleteBooking(ctx context.Context, actor app.Actor, bookingID uuid.UUID) (*domain.Booking, error)
	SubmitReview(ctx context.Context, actor app.Actor, bookingID uuid.UUID, in app.ReviewInput) (*domain.Review, error)
	ListBookings(ctx context.Context, actor app.Actor, opts domain.BookingListOptions) ([]domain.Booking, error)
	GetBooking(ctx context.Context, actor app.Actor, id uuid.UUID) (*domain.Booking, error)
}

type UrgentAPI interface {
	Create(ctx context.Context, actor app.Actor, in app.CreateUrgentInput) (*domain.UrgentRequest, error)
	ListOpen(ctx context.Context, opts domain.UrgentListOptions) ([]domain.UrgentRequest, error)
	ListMine(ctx context.Context, actor app.Actor) ([]domain.UrgentRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error)
	ListResponses(ctx context.Context, actor app.Actor, requestID uuid.UUID) ([]domain.UrgentResponse, error)
	Respond(ctx context.Context, actor app.Actor, requestID uuid.UUID, in app.RespondInput) (*domain.UrgentResponse, error)
	AcceptResponse(ctx context.Context, actor app.Actor, responseID uuid.UUID) (*domain.UrgentResponse, error)
	RejectResponse(ctx context.Context, actor app.Actor, responseID uuid.UUID) (*domain.UrgentResponse, error)
	WithdrawResponse(ctx context.Context, actor app.Actor, responseID uuid.UUID) (*domain.UrgentResponse, error)
	Cancel(ctx context.Context, actor app.Actor, requestID uuid.UUID) (*domain.UrgentRequest, error)
}

type NotificationAPI interface {
	List(ctx context.Context, actor app.Actor, opts domain.NotificationListOptions) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, actor app.Actor, id uuid.UUID) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, actor app.Actor) (int64, error)
	Delete(ctx context.Context, actor app.Actor, id uuid.UUID) error
}

type PaymentAPI interface {
	CheckStatus(ctx context.Context, actor app.Actor, sessionID string, userID uuid.UUID) (*app.PaymentStatusReport, error)
	CreateBookingCheckout(ctx context.Context, actor app.Actor, bookingID uuid.UUID) (*app.CheckoutResult, error)
	CreateSubscriptionCheckout(ctx context.Context, actor app.Actor, plan domain.PlanType) (*app.CheckoutResult, error)
	ListSubscriptions(ctx context.Context, actor app.Actor) ([]domain.Subscription, error)
}

// WebhookVerifier authenticates a raw webhook payload against its signature header.
type WebhookVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (*stripeclient.Event, error)
}

type WebhookReconciler interface {
	HandleEvent(ctx context.Context, evt *stripeclient.Event) (bool, error)
}

type MonitoringAPI interface {
	ReportError(ctx context.Context, in app.ErrorReportInput) (*domain.ErrorReport, error)
	RecordPerformance(ctx context.Context, in app.PerformanceInput) (*domain.PerformanceMetric, error)
}

type EmailAPI interface {
	Send(ctx context.Context, in app.SendEmailInput) (string, error)
}

// Dependencies groups everything the handlers call into.
type Dependencies struct {
	Bookings      BookingAPI
	Urgent        UrgentAPI
	Notifications NotificationAPI
	Payments      PaymentAPI
	Verifier      WebhookVerifier
	Reconciler    WebhookReconciler
	Deduper       app.EventDeduper
	Monitoring    MonitoringAPI
	Email         EmailAPI
	Hub           *realtime.Hub
	Logger        *slog.Logger
}

// Handlers holds the dependencies for the HTTP handlers.
type Handlers struct {
	bookings      BookingAPI
	urgent        UrgentAPI
	notifications NotificationAPI
	payments      PaymentAPI
	verifier      WebhookVerifier
	reconciler    WebhookReconciler
	deduper       app.EventDeduper
	monitoring    MonitoringAPI
	email         EmailAPI
	hub           *realtime.Hub
	logger        *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(deps Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deduper := deps.Deduper
	if deduper == nil {
		deduper = app.NewMemoryEventDeduper(24 * time.Hour)
	}
	return &Handlers{
		bookings:      deps.Bookings,
		urgent:        deps.Urgent,
		notifications: deps.Notifications,
		payments:      deps.Payments,
		verifier:      deps.Verifier,
		reconciler:    deps.Reconciler,
		deduper:       deduper,
		monitoring:    deps.Monitoring,
		email:         deps.Email,
		hub:           deps.Hub,
		logger:        logger.With("component", "api"),
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Warn("failed to encode response", "error", err)
		}
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handlers) writeValidationError(w http.ResponseWriter, verr *domain.ValidationError) {
	h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":  "Validation failed",
		"fields": verr.Fields,
	})
}

// writeServiceError maps an application error onto a status code. Unexpected
// errors are logged with the endpoint name and reported as 500.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status, message := statusForError(err)
	if verr, ok := domain.IsValidation(err); ok {
		h.writeValidationError(w, verr)
		return
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"endpoint", endpoint,
			"method", r.Method,
			"path", r.URL.Path,
			"op_id", app.OpIDFromContext(r.Context()),
			"error", err,
		)
	}
	h.writeError(w, status, message)
}

// statusForError is the single place domain errors become HTTP codes.
func statusForError(err error) (int, string) {
	if _, ok := domain.IsValidation(err); ok {
		return http.StatusUnprocessableEntity, "Validation failed"
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, domain.ErrVacationUnavailable):
		return http.StatusConflict, "Vacation is not available"
	case errors.Is(err, domain.ErrAlreadyResponded):
		return http.StatusConflict, "Already responded"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "Invalid status transition"
	case errors.Is(err, domain.ErrReviewNotAllowed):
		return http.StatusConflict, "Reviews require a completed booking"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, domain.ErrUnknownTemplate):
		return http.StatusBadRequest, "Unknown email template"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, "Payment or email provider temporarily unavailable"
	case errors.Is(err, stripeclient.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Payments are not configured"
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, "Upstream provider error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, dst)
}

func urlUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// paging reads limit and offset query parameters.
func paging(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit, err = parseOptionalPositiveInt(r.URL.Query().Get("limit"), defaultLimit)
	if err != nil {
		return 0, 0, domain.NewValidationError("limit", "must be a non-negative integer")
	}
	offset, err = parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		return 0, 0, domain.NewValidationError("offset", "must be a non-negative integer")
	}
	return limit, offset, nil
}

func parseOptionalTime(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, domain.NewValidationError(field, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	}
	return &t, nil
}
