/**
 * @description
 * Booking and payment status models plus the transition tables that gate every
 * change of a booking's lifecycle.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingDraft     BookingStatus = "draft"
	BookingAvailable BookingStatus = "available"
	BookingPending   BookingStatus = "pending"
	BookingBooked    BookingStatus = "booked"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingDraft:     {BookingAvailable},
	BookingAvailable: {BookingPending},
	BookingPending:   {BookingBooked, BookingCancelled},
	BookingBooked:    {BookingCompleted, BookingCancelled},
}

// CanTransitionBooking reports whether from -> to is an edge of the booking lifecycle.
func CanTransitionBooking(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingDraft, BookingAvailable, BookingPending, BookingBooked, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// IsLive is true for bookings that still hold a claim on their vacation post.
func (s BookingStatus) IsLive() bool {
	return s == BookingPending || s == BookingBooked
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentPaid, PaymentFailed},
	PaymentFailed:   {PaymentPaid, PaymentFailed},
	PaymentPaid:     {PaymentPaid, PaymentRefunded},
	PaymentRefunded: {PaymentRefunded},
}

// CanApplyPayment reports whether a provider-reported status may overwrite the
// current one. Self edges make webhook replays idempotent; a late failure after
// a successful payment is not an edge and gets ignored.
func CanApplyPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type BookingDecision string

const (
	DecisionAccepted BookingDecision = "accepted"
	DecisionRejected BookingDecision = "rejected"
)

func (d BookingDecision) Valid() bool {
	return d == DecisionAccepted || d == DecisionRejected
}

// Booking is an establishment's claim on a doctor's vacation post.
type Booking struct {
	ID                    uuid.UUID     `json:"id"`
	VacationPostID        uuid.UUID     `json:"vacation_post_id"`
	DoctorID              uuid.UUID     `json:"doctor_id"`
	EstablishmentID       uuid.UUID     `json:"establishment_id"`
	Status                BookingStatus `json:"status"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	TotalAmountCents      int64         `json:"total_amount_cents"`
	StripeSessionID       *string       `json:"stripe_session_id,omitempty"`
	StripePaymentIntentID *string       `json:"stripe_payment_intent_id,omitempty"`
	CancellationReason    *string       `json:"cancellation_reason,omitempty"`
	CancelledBy           *uuid.UUID    `json:"cancelled_by,omitempty"`
	RequestKey            *string       `json:"-"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

func (b Booking) IsParty(userID uuid.UUID) bool {
	return userID == b.DoctorID || userID == b.EstablishmentID
}

// Counterparty returns the other side of the booking for userID.
func (b Booking) Counterparty(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case b.DoctorID:
		return b.EstablishmentID, true
	case b.EstablishmentID:
		return b.DoctorID, true
	}
	return uuid.Nil, false
}

type BookingListOptions struct {
	Status BookingStatus
	Limit  int
	Offset int
}
