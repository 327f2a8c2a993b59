package domain

import (
	"time"

	"github.com/google/uuid"
)

type UrgencyLevel string

const (
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyCritical UrgencyLevel = "critical"
)

func (u UrgencyLevel) Valid() bool {
	return u == UrgencyMedium || u == UrgencyHigh || u == UrgencyCritical
}

type UrgentRequestStatus string

const (
	UrgentOpen       UrgentRequestStatus = "open"
	UrgentInProgress UrgentRequestStatus = "in_progress"
	UrgentFilled     UrgentRequestStatus = "filled"
	UrgentCancelled  UrgentRequestStatus = "cancelled"
	UrgentExpired    UrgentRequestStatus = "expired"
)

var urgentTransitions = map[UrgentRequestStatus][]UrgentRequestStatus{
	UrgentOpen:       {UrgentInProgress, UrgentCancelled, UrgentExpired},
	UrgentInProgress: {UrgentOpen, UrgentFilled, UrgentCancelled, UrgentExpired},
}

func CanTransitionUrgent(from, to UrgentRequestStatus) bool {
	for _, next := range urgentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsResponses is true while doctors may still answer the request.
func (s UrgentRequestStatus) AcceptsResponses() bool {
	return s == UrgentOpen || s == UrgentInProgress
}

type UrgentResponseStatus string

const (
	ResponsePending   UrgentResponseStatus = "pending"
	ResponseAccepted  UrgentResponseStatus = "accepted"
	ResponseRejected  UrgentResponseStatus = "rejected"
	ResponseWithdrawn UrgentResponseStatus = "withdrawn"
)

// CanTransitionResponse: only pending responses move, and only once.
func CanTransitionResponse(from, to UrgentResponseStatus) bool {
	if from != ResponsePending {
		return false
	}
	return to == ResponseAccepted || to == ResponseRejected || to == ResponseWithdrawn
}

// UrgentRequest is an establishment's short-notice staffing request.
type UrgentRequest struct {
	ID              uuid.UUID           `json:"id"`
	EstablishmentID uuid.UUID           `json:"establishment_id"`
	Title           string              `json:"title"`
	Description     string              `json:"description,omitempty"`
	Speciality      string              `json:"speciality"`
	StartDate       time.Time           `json:"start_date"`
	EndDate         time.Time           `json:"end_date"`
	HourlyRateCents int64               `json:"hourly_rate_cents"`
	UrgencyLevel    UrgencyLevel        `json:"urgency_level"`
	Status          UrgentRequestStatus `json:"status"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type UrgentResponse struct {
	ID        uuid.UUID            `json:"id"`
	RequestID uuid.UUID            `json:"request_id"`
	DoctorID  uuid.UUID            `json:"doctor_id"`
	Status    UrgentResponseStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type UrgentListOptions struct {
	Speciality   string
	UrgencyLevel UrgencyLevel
	Limit        int
	Offset       int
}
