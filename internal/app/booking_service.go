/**
 * @description
 * This file contains the booking lifecycle. Every status change goes through
 * `domain.CanTransitionBooking`, is applied with a guarded UPDATE, and writes its
 * notification and change event in the same transaction.
 *
 * @dependencies
 * - internal/store: transactional data access.
 * - internal/validation: input validation.
 * - internal/metrics: transition counters.
 */

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

const supersededReason = "Vacation attribuée à un autre établissement"

// BookingService provides the vacation and booking use cases.
type BookingService struct {
	store  store.Store
	events *EventWriter
	logger *slog.Logger
}

func NewBookingService(st store.Store, events *EventWriter, logger *slog.Logger) *BookingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingService{store: st, events: events, logger: logger.With("component", "booking_service")}
}

type CreateVacationInput struct {
	Title           string    `json:"title" validate:"required,max=200"`
	Description     string    `json:"description" validate:"max=5000"`
	Speciality      string    `json:"speciality" validate:"required,max=120"`
	Location        string    `json:"location" validate:"max=200"`
	StartDate       time.Time `json:"start_date" validate:"required"`
	EndDate         time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	HourlyRateCents int64     `json:"hourly_rate_cents" validate:"gte=0"`
	BillableHours   *float64  `json:"billable_hours" validate:"omitempty,gt=0"`
	Draft           bool      `json:"draft"`
}

func (s *BookingService) CreateVacation(ctx context.Context, actor Actor, in CreateVacationInput) (*domain.VacationPost, error) {
	if actor.Role != domain.RoleDoctor {
		return nil, domain.ErrForbidden
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	status := domain.BookingAvailable
	if in.Draft {
		status = domain.BookingDraft
	}
	v := &domain.VacationPost{
		ID:              uuid.New(),
		DoctorID:        actor.ID,
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		Speciality:      strings.TrimSpace(in.Speciality),
		Location:        strings.TrimSpace(in.Location),
		StartDate:       in.StartDate.UTC(),
		EndDate:         in.EndDate.UTC(),
		HourlyRateCents: in.HourlyRateCents,
		BillableHours:   in.BillableHours,
		Status:          status,
	}
	if v.BillableHours != nil && *v.BillableHours > v.WindowHours() {
		return nil, domain.NewValidationError("billable_hours", "must not exceed the vacation window")
	}
	if err := s.store.CreateVacation(ctx, v); err != nil {
		return nil, fmt.Errorf("create vacation: %w", translateStoreErr(err))
	}
	s.logger.Info("vacation created", "vacation_id", v.ID, "doctor_id", actor.ID, "status", v.Status)
	return v, nil
}

// PublishVacation moves a draft post to available.
func (s *BookingService) PublishVacation(ctx context.Context, actor Actor, vacationID uuid.UUID) (*domain.VacationPost, error) {
	var published *domain.VacationPost
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		v, err := repo.GetVacationForUpdate(ctx, vacationID)
		if err != nil {
			return err
		}
		if v.DoctorID != actor.ID {
			return domain.ErrForbidden
		}
		if !domain.CanTransitionBooking(v.Status, domain.BookingAvailable) {
			return fmt.Errorf("%w: vacation is %s", domain.ErrInvalidTransition, v.Status)
		}
		if err := repo.UpdateVacationStatus(ctx, v.ID, domain.BookingAvailable); err != nil {
			return err
		}
		v.Status = domain.BookingAvailable
		published = v
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return published, nil
}

func (s *BookingService) ListAvailableVacations(ctx context.Context, opts domain.VacationListOptions) ([]domain.VacationPost, error) {
	opts.Status = domain.BookingAvailable
	opts.DoctorID = nil
	return s.store.ListVacations(ctx, opts)
}

// ListDoctorVacations returns every post of the calling doctor, whatever its status.
func (s *BookingService) ListDoctorVacations(ctx context.Context, actor Actor, opts domain.VacationListOptions) ([]domain.VacationPost, error) {
	id := actor.ID
	opts.DoctorID = &id
	return s.store.ListVacations(ctx, opts)
}

func (s *BookingService) GetVacation(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error) {
	v, err := s.store.GetVacation(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return v, nil
}

// RequestBooking creates a pending booking for an establishment. A non-empty
// requestKey makes the call idempotent: a replay returns the original booking
// and created=false.
func (s *BookingService) RequestBooking(ctx context.Context, actor Actor, vacationID uuid.UUID, requestKey string) (booking *domain.Booking, created bool, err error) {
	if actor.Role != domain.RoleEstablishment {
		return nil, false, domain.ErrForbidden
	}
	requestKey = strings.TrimSpace(requestKey)
	if len(requestKey) > 128 {
		return nil, false, domain.NewValidationError("idempotency_key", "must be at most 128 characters")
	}

	err = s.store.WithinTx(ctx, func(repo store.Repository) error {
		if requestKey != "" {
			existing, err := repo.FindBookingByRequestKey(ctx, actor.ID, requestKey)
			switch {
			case err == nil:
				if existing.VacationPostID != vacationID {
					return fmt.Errorf("%w: idempotency key reused for another vacation", domain.ErrConflict)
				}
				booking = existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		v, err := repo.GetVacationForUpdate(ctx, vacationID)
		if err != nil {
			return err
		}
		if v.Status != domain.BookingAvailable {
			return domain.ErrVacationUnavailable
		}
		live, err := repo.HasLiveBooking(ctx, v.ID, actor.ID)
		if err != nil {
			return err
		}
		if live {
			return fmt.Errorf("%w: a booking for this vacation is already in progress", domain.ErrConflict)
		}

		b := &domain.Booking{
			ID:               uuid.New(),
			VacationPostID:   v.ID,
			DoctorID:         v.DoctorID,
			EstablishmentID:  actor.ID,
			Status:           domain.BookingPending,
			PaymentStatus:    domain.PaymentPending,
			TotalAmountCents: v.TotalAmountCents(),
		}
		if requestKey != "" {
			b.RequestKey = &requestKey
		}
		if err := repo.CreateBooking(ctx, b); err != nil {
			return err
		}
		if _, err := s.events.Notify(ctx, repo, domain.BookingRequestedNotice(*b, v.Title)); err != nil {
			return err
		}
		booking = b
		created = true
		return nil
	})
	if err != nil {
		return nil, false, translateStoreErr(err)
	}
	if created {
		recordBookingTransition("none", domain.BookingPending)
		s.logger.Info("booking requested", "booking_id", booking.ID, "vacation_id", vacationID, "establishment_id", actor.ID)
	}
	return booking, created, nil
}

// RespondToBooking applies the doctor's decision on a pending booking.
func (s *BookingService) RespondToBooking(ctx context.Context, actor Actor, bookingID uuid.UUID, decision domain.BookingDecision) (*domain.Booking, error) {
	if !decision.Valid() {
		return nil, domain.NewValidationError("decision", "must be one of: accepted rejected")
	}

	var (
		result     *domain.Booking
		superseded int
	)
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		b, err := repo.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.DoctorID != actor.ID {
			return domain.ErrForbidden
		}
		if b.Status != domain.BookingPending {
			return fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
		}

		if decision == domain.DecisionRejected {
			cancelled := domain.BookingCancelled
			updated, err := repo.UpdateBooking(ctx, b.ID, store.BookingUpdate{
				ExpectedStatus: domain.BookingPending,
				Status:         &cancelled,
				CancelledBy:    &actor.ID,
			})
			if err != nil {
				return err
			}
			if _, err := s.events.Notify(ctx, repo, domain.BookingRejectedNotice(*updated)); err != nil {
				return err
			}
			result = updated
			return nil
		}

		updated, n, err := acceptPendingBooking(ctx, repo, s.events, b, actor.ID)
		if err != nil {
			return err
		}
		superseded = n

		if _, err := s.events.Notify(ctx, repo, domain.BookingAcceptedNotice(*updated)); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	recordBookingTransition(domain.BookingPending, result.Status)
	for i := 0; i < superseded; i++ {
		recordBookingTransition(domain.BookingPending, domain.BookingCancelled)
	}
	s.logger.Info("booking answered", "booking_id", result.ID, "decision", decision, "superseded", superseded)
	return result, nil
}

// CancelBooking cancels a pending or booked booking on behalf of either party.
func (s *BookingService) CancelBooking(ctx context.Context, actor Actor, bookingID uuid.UUID, reason string) (*domain.Booking, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > 1000 {
		return nil, domain.NewValidationError("reason", "must be at most 1000 characters")
	}

	var (
		result *domain.Booking
		from   domain.BookingStatus
	)
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		b, err := repo.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsParty(actor.ID) && !actor.IsAdmin() {
			return domain.ErrForbidden
		}
		if !domain.CanTransitionBooking(b.Status, domain.BookingCancelled) {
			return fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
		}
		from = b.Status

		if b.Status == domain.BookingBooked {
			v, err := repo.GetVacationForUpdate(ctx, b.VacationPostID)
			if err != nil {
				return err
			}
			if v.Status == domain.BookingBooked {
				if err := repo.UpdateVacationStatus(ctx, v.ID, domain.BookingAvailable); err != nil {
					return err
				}
			}
		}

		cancelled := domain.BookingCancelled
		update := store.BookingUpdate{
			ExpectedStatus: b.Status,
			Status:         &cancelled,
			CancelledBy:    &actor.ID,
		}
		if reason != "" {
			update.CancellationReason = &reason
		}
		updated, err := repo.UpdateBooking(ctx, b.ID, update)
		if err != nil {
			return err
		}

		recipients := []uuid.UUID{}
		if other, ok := updated.Counterparty(actor.ID); ok {
			recipients = append(recipients, other)
		} else {
			recipients = append(recipients, updated.DoctorID, updated.EstablishmentID)
		}
		for _, recipient := range recipients {
			if _, err := s.events.Notify(ctx, repo, domain.BookingCancelledNotice(*updated, recipient, reason)); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	recordBookingTransition(from, domain.BookingCancelled)
	s.logger.Info("booking cancelled", "booking_id", result.ID, "from", from, "cancelled_by", actor.ID)
	return result, nil
}

// CompleteBooking closes a booked mission and unlocks reviews.
func (s *BookingService) CompleteBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*domain.Booking, error) {
	var result *domain.Booking
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		b, err := repo.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsParty(actor.ID) {
			return domain.ErrForbidden
		}
		if !domain.CanTransitionBooking(b.Status, domain.BookingCompleted) {
			return fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
		}

		completed := domain.BookingCompleted
		updated, err := repo.UpdateBooking(ctx, b.ID, store.BookingUpdate{
			ExpectedStatus: domain.BookingBooked,
			Status:         &completed,
		})
		if err != nil {
			return err
		}
		if err := repo.UpdateVacationStatus(ctx, b.VacationPostID, domain.BookingCompleted); err != nil {
			return err
		}
		other, _ := updated.Counterparty(actor.ID)
		if _, err := s.events.Notify(ctx, repo, domain.BookingCompletedNotice(*updated, other)); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	recordBookingTransition(domain.BookingBooked, domain.BookingCompleted)
	return result, nil
}

type ReviewInput struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// SubmitReview records one review per party on a completed booking.
func (s *BookingService) SubmitReview(ctx context.Context, actor Actor, bookingID uuid.UUID, in ReviewInput) (*domain.Review, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var review *domain.Review
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		b, err := repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		reviewee, ok := b.Counterparty(actor.ID)
		if !ok {
			return domain.ErrForbidden
		}
		if b.Status != domain.BookingCompleted {
			return domain.ErrReviewNotAllowed
		}
		r := &domain.Review{
			ID:         uuid.New(),
			BookingID:  b.ID,
			ReviewerID: actor.ID,
			RevieweeID: reviewee,
			Rating:     in.Rating,
			Comment:    strings.TrimSpace(in.Comment),
		}
		if err := repo.CreateReview(ctx, r); err != nil {
			return err
		}
		if _, err := s.events.Notify(ctx, repo, domain.ReviewReceivedNotice(*r)); err != nil {
			return err
		}
		review = r
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return review, nil
}

func (s *BookingService) ListBookings(ctx context.Context, actor Actor, opts domain.BookingListOptions) ([]domain.Booking, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, domain.NewValidationError("status", "unknown booking status")
	}
	return s.store.ListBookingsForUser(ctx, actor.ID, opts)
}

func (s *BookingService) GetBooking(ctx context.Context, actor Actor, id uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if !b.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

// acceptPendingBooking books b, locks its vacation and cancels the competing
// pending requests on the same vacation. The caller owns the transaction.
func acceptPendingBooking(ctx context.Context, repo store.Repository, events *EventWriter, b *domain.Booking, by uuid.UUID) (*domain.Booking, int, error) {
	v, err := repo.GetVacationForUpdate(ctx, b.VacationPostID)
	if err != nil {
		return nil, 0, err
	}
	if v.Status != domain.BookingAvailable {
		return nil, 0, domain.ErrVacationUnavailable
	}

	booked := domain.BookingBooked
	updated, err := repo.UpdateBooking(ctx, b.ID, store.BookingUpdate{
		ExpectedStatus: domain.BookingPending,
		Status:         &booked,
	})
	if err != nil {
		return nil, 0, err
	}
	if err := repo.UpdateVacationStatus(ctx, v.ID, domain.BookingBooked); err != nil {
		return nil, 0, err
	}

	competing, err := repo.ListPendingBookingsForVacation(ctx, v.ID, b.ID)
	if err != nil {
		return nil, 0, err
	}
	reason := supersededReason
	cancelled := domain.BookingCancelled
	for _, other := range competing {
		loser, err := repo.UpdateBooking(ctx, other.ID, store.BookingUpdate{
			ExpectedStatus:     domain.BookingPending,
			Status:             &cancelled,
			CancellationReason: &reason,
			CancelledBy:        &by,
		})
		if err != nil {
			return nil, 0, err
		}
		if _, err := events.Notify(ctx, repo, domain.BookingSupersededNotice(*loser)); err != nil {
			return nil, 0, err
		}
	}
	return updated, len(competing), nil
}

func recordBookingTransition(from, to domain.BookingStatus) {
	metrics.BookingTransitions.WithLabelValues(string(from), string(to)).Inc()
}
