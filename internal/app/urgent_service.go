package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/internal/validation"
	"github.com/google/uuid"
)

// UrgentService runs short-notice staffing requests and the doctors' answers to them.
type UrgentService struct {
	store  store.Store
	events *EventWriter
	logger *slog.Logger
	now    func() time.Time
}

func NewUrgentService(st store.Store, events *EventWriter, logger *slog.Logger) *UrgentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UrgentService{store: st, events: events, logger: logger.With("component", "urgent_service"), now: time.Now}
}

type CreateUrgentInput struct {
	Title           string              `json:"title" validate:"required,max=200"`
	Description     string              `json:"description" validate:"max=5000"`
	Speciality      string              `json:"speciality" validate:"required,max=120"`
	StartDate       time.Time           `json:"start_date" validate:"required"`
	EndDate         time.Time           `json:"end_date" validate:"required,gtfield=StartDate"`
	HourlyRateCents int64               `json:"hourly_rate_cents" validate:"gte=0"`
	UrgencyLevel    domain.UrgencyLevel `json:"urgency_level" validate:"required,oneof=medium high critical"`
	ExpiresAt       *time.Time          `json:"expires_at"`
}

func (s *UrgentService) Create(ctx context.Context, actor Actor, in CreateUrgentInput) (*domain.UrgentRequest, error) {
	if actor.Role != domain.RoleEstablishment {
		return nil, domain.ErrForbidden
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, domain.NewValidationError("expires_at", "must be in the future")
	}

	req := &domain.UrgentRequest{
		ID:              uuid.New(),
		EstablishmentID: actor.ID,
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		Speciality:      strings.TrimSpace(in.Speciality),
		StartDate:       in.StartDate.UTC(),
		EndDate:         in.EndDate.UTC(),
		HourlyRateCents: in.HourlyRateCents,
		UrgencyLevel:    in.UrgencyLevel,
		Status:          domain.UrgentOpen,
	}
	if in.ExpiresAt != nil {
		expires := in.ExpiresAt.UTC()
		req.ExpiresAt = &expires
	}
	if err := s.store.CreateUrgentRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create urgent request: %w", translateStoreErr(err))
	}
	s.logger.Info("urgent request created", "request_id", req.ID, "establishment_id", actor.ID, "urgency", req.UrgencyLevel)
	return req, nil
}

func (s *UrgentService) ListOpen(ctx context.Context, opts domain.UrgentListOptions) ([]domain.UrgentRequest, error) {
	if opts.UrgencyLevel != "" && !opts.UrgencyLevel.Valid() {
		return nil, domain.NewValidationError("urgency_level", "must be one of: medium high critical")
	}
	return s.store.ListOpenUrgentRequests(ctx, opts)
}

// ListMine returns the calling establishment's requests.
func (s *UrgentService) ListMine(ctx context.Context, actor Actor) ([]domain.UrgentRequest, error) {
	return s.store.ListUrgentRequestsByEstablishment(ctx, actor.ID)
}

func (s *UrgentService) Get(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error) {
	req, err := s.store.GetUrgentRequest(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return req, nil
}

// ListResponses is visible to the owning establishment only.
func (s *UrgentService) ListResponses(ctx context.Context, actor Actor, requestID uuid.UUID) ([]domain.UrgentResponse, error) {
	req, err := s.store.GetUrgentRequest(ctx, requestID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if req.EstablishmentID != actor.ID && !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	return s.store.ListUrgentResponses(ctx, requestID, "")
}

type RespondInput struct {
	Message string `json:"message" validate:"max=2000"`
}

// Respond records a doctor's offer. The first response moves the request to in_progress.
func (s *UrgentService) Respond(ctx context.Context, actor Actor, requestID uuid.UUID, in RespondInput) (*domain.UrgentResponse, error) {
	if actor.Role != domain.RoleDoctor {
		return nil, domain.ErrForbidden
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var (
		resp    *domain.UrgentResponse
		movedTo domain.UrgentRequestStatus
	)
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		req, err := repo.GetUrgentRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Status.AcceptsResponses() {
			return fmt.Errorf("%w: urgent request is %s", domain.ErrInvalidTransition, req.Status)
		}
		r := &domain.UrgentResponse{
			ID:        uuid.New(),
			RequestID: req.ID,
			DoctorID:  actor.ID,
			Status:    domain.ResponsePending,
			Message:   strings.TrimSpace(in.Message),
		}
		if err := repo.CreateUrgentResponse(ctx, r); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.ErrAlreadyResponded
			}
			return err
		}
		if req.Status == domain.UrgentOpen {
			if err := repo.UpdateUrgentRequestStatus(ctx, req.ID, domain.UrgentOpen, domain.UrgentInProgress); err != nil {
				return err
			}
			movedTo = domain.UrgentInProgress
		}
		if _, err := s.events.Notify(ctx, repo, domain.UrgentResponseReceivedNotice(*req)); err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if movedTo != "" {
		recordUrgentTransition(domain.UrgentOpen, movedTo)
	}
	return resp, nil
}

// AcceptResponse fills the request with one doctor and turns the other pending
// responses down.
func (s *UrgentService) AcceptResponse(ctx context.Context, actor Actor, responseID uuid.UUID) (*domain.UrgentResponse, error) {
	var (
		accepted *domain.UrgentResponse
		from     domain.UrgentRequestStatus
	)
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		resp, req, err := s.lockResponseForOwner(ctx, repo, actor, responseID)
		if err != nil {
			return err
		}
		if !domain.CanTransitionUrgent(req.Status, domain.UrgentFilled) {
			return fmt.Errorf("%w: urgent request is %s", domain.ErrInvalidTransition, req.Status)
		}
		if !domain.CanTransitionResponse(resp.Status, domain.ResponseAccepted) {
			return fmt.Errorf("%w: response is %s", domain.ErrInvalidTransition, resp.Status)
		}
		from = req.Status

		if err := repo.UpdateUrgentResponseStatus(ctx, resp.ID, domain.ResponsePending, domain.ResponseAccepted); err != nil {
			return err
		}
		resp.Status = domain.ResponseAccepted
		if err := repo.UpdateUrgentRequestStatus(ctx, req.ID, req.Status, domain.UrgentFilled); err != nil {
			return err
		}

		others, err := repo.ListUrgentResponses(ctx, req.ID, domain.ResponsePending)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID == resp.ID {
				continue
			}
			if err := repo.UpdateUrgentResponseStatus(ctx, other.ID, domain.ResponsePending, domain.ResponseRejected); err != nil {
				return err
			}
			if _, err := s.events.Notify(ctx, repo, domain.UrgentResponseRejectedNotice(*req, other)); err != nil {
				return err
			}
		}
		if _, err := s.events.Notify(ctx, repo, domain.UrgentResponseAcceptedNotice(*req, *resp)); err != nil {
			return err
		}
		accepted = resp
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	recordUrgentTransition(from, domain.UrgentFilled)
	s.logger.Info("urgent response accepted", "response_id", accepted.ID, "request_id", accepted.RequestID)
	return accepted, nil
}

// RejectResponse turns one response down; the request reopens when no pending
// response is left.
func (s *UrgentService) RejectResponse(ctx context.Context, actor Actor, responseID uuid.UUID) (*domain.UrgentResponse, error) {
	var (
		rejected *domain.UrgentResponse
		reopened bool
	)
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		resp, req, err := s.lockResponseForOwner(ctx, repo, actor, responseID)
		if err != nil {
			return err
		}
		if !domain.CanTransitionResponse(resp.Status, domain.ResponseRejected) {
			return fmt.Errorf("%w: response is %s", domain.ErrInvalidTransition, resp.Status)
		}
		if err := repo.UpdateUrgentResponseStatus(ctx, resp.ID, domain.ResponsePending, domain.ResponseRejected); err != nil {
			return err
		}
		resp.Status = domain.ResponseRejected
		if _, err := s.events.Notify(ctx, repo, domain.UrgentResponseRejectedNotice(*req, *resp)); err != nil {
			return err
		}
		reopened, err = reopenIfIdle(ctx, repo, req)
		if err != nil {
			return err
		}
		rejected = resp
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if reopened {
		recordUrgentTransition(domain.UrgentInProgress, domain.UrgentOpen)
	}
	return rejected, nil
}

// WithdrawResponse lets a doctor take back a pending response.
func (s *UrgentService) WithdrawResponse(ctx context.Context, actor Actor, responseID uuid.UUID) (*domain.UrgentResponse, error) {
	var (
		withdrawn *domain.UrgentResponse
		reopened  bool
	)
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		resp, err := repo.GetUrgentResponseForUpdate(ctx, responseID)
		if err != nil {
			return err
		}
		if resp.DoctorID != actor.ID {
			return domain.ErrForbidden
		}
		if !domain.CanTransitionResponse(resp.Status, domain.ResponseWithdrawn) {
			return fmt.Errorf("%w: response is %s", domain.ErrInvalidTransition, resp.Status)
		}
		req, err := repo.GetUrgentRequestForUpdate(ctx, resp.RequestID)
		if err != nil {
			return err
		}
		if err := repo.UpdateUrgentResponseStatus(ctx, resp.ID, domain.ResponsePending, domain.ResponseWithdrawn); err != nil {
			return err
		}
		resp.Status = domain.ResponseWithdrawn
		reopened, err = reopenIfIdle(ctx, repo, req)
		if err != nil {
			return err
		}
		withdrawn = resp
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if reopened {
		recordUrgentTransition(domain.UrgentInProgress, domain.UrgentOpen)
	}
	return withdrawn, nil
}

// Cancel closes a request and tells every doctor still waiting on it.
func (s *UrgentService) Cancel(ctx context.Context, actor Actor, requestID uuid.UUID) (*domain.UrgentRequest, error) {
	var (
		cancelled *domain.UrgentRequest
		from      domain.UrgentRequestStatus
	)
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		req, err := repo.GetUrgentRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.EstablishmentID != actor.ID && !actor.IsAdmin() {
			return domain.ErrForbidden
		}
		if !domain.CanTransitionUrgent(req.Status, domain.UrgentCancelled) {
			return fmt.Errorf("%w: urgent request is %s", domain.ErrInvalidTransition, req.Status)
		}
		from = req.Status
		if err := repo.UpdateUrgentRequestStatus(ctx, req.ID, req.Status, domain.UrgentCancelled); err != nil {
			return err
		}
		req.Status = domain.UrgentCancelled

		pending, err := repo.ListUrgentResponses(ctx, req.ID, domain.ResponsePending)
		if err != nil {
			return err
		}
		for _, resp := range pending {
			if err := repo.UpdateUrgentResponseStatus(ctx, resp.ID, domain.ResponsePending, domain.ResponseRejected); err != nil {
				return err
			}
			if _, err := s.events.Notify(ctx, repo, domain.UrgentRequestCancelledNotice(*req, resp)); err != nil {
				return err
			}
		}
		cancelled = req
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	recordUrgentTransition(from, domain.UrgentCancelled)
	s.logger.Info("urgent request cancelled", "request_id", cancelled.ID, "from", from)
	return cancelled, nil
}

// ExpireDue moves requests past their explicit deadline to expired. It returns
// how many requests were expired.
func (s *UrgentService) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	var transitions []domain.UrgentRequestStatus
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		due, err := repo.ClaimDueUrgentRequests(ctx, now, 100)
		if err != nil {
			return err
		}
		for i := range due {
			req := due[i]
			if !domain.CanTransitionUrgent(req.Status, domain.UrgentExpired) {
				continue
			}
			if err := repo.UpdateUrgentRequestStatus(ctx, req.ID, req.Status, domain.UrgentExpired); err != nil {
				return err
			}
			pending, err := repo.ListUrgentResponses(ctx, req.ID, domain.ResponsePending)
			if err != nil {
				return err
			}
			for _, resp := range pending {
				if err := repo.UpdateUrgentResponseStatus(ctx, resp.ID, domain.ResponsePending, domain.ResponseRejected); err != nil {
					return err
				}
			}
			if _, err := s.events.Notify(ctx, repo, domain.UrgentRequestExpiredNotice(req)); err != nil {
				return err
			}
			transitions = append(transitions, req.Status)
		}
		return nil
	})
	if err != nil {
		return 0, translateStoreErr(err)
	}
	for _, from := range transitions {
		recordUrgentTransition(from, domain.UrgentExpired)
	}
	if len(transitions) > 0 {
		s.logger.Info("urgent requests expired", "count", len(transitions))
	}
	return len(transitions), nil
}

// lockResponseForOwner locks a response and its request, checking that actor owns the request.
func (s *UrgentService) lockResponseForOwner(ctx context.Context, repo store.Repository, actor Actor, responseID uuid.UUID) (*domain.UrgentResponse, *domain.UrgentRequest, error) {
	resp, err := repo.GetUrgentResponseForUpdate(ctx, responseID)
	if err != nil {
		return nil, nil, err
	}
	req, err := repo.GetUrgentRequestForUpdate(ctx, resp.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if req.EstablishmentID != actor.ID {
		return nil, nil, domain.ErrForbidden
	}
	return resp, req, nil
}

// reopenIfIdle moves an in-progress request back to open once no response is pending.
func reopenIfIdle(ctx context.Context, repo store.Repository, req *domain.UrgentRequest) (bool, error) {
	if req.Status != domain.UrgentInProgress {
		return false, nil
	}
	pending, err := repo.ListUrgentResponses(ctx, req.ID, domain.ResponsePending)
	if err != nil {
		return false, err
	}
	if len(pending) > 0 {
		return false, nil
	}
	if err := repo.UpdateUrgentRequestStatus(ctx, req.ID, domain.UrgentInProgress, domain.UrgentOpen); err != nil {
		return false, err
	}
	req.Status = domain.UrgentOpen
	return true, nil
}

func recordUrgentTransition(from, to domain.UrgentRequestStatus) {
	metrics.UrgentTransitions.WithLabelValues(string(from), string(to)).Inc()
}
