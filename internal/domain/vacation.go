package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// VacationStatus shares the booking vocabulary; a post moves with its accepted booking.
type VacationStatus = BookingStatus

// VacationPost is a doctor-published availability window.
type VacationPost struct {
	ID              uuid.UUID      `json:"id"`
	DoctorID        uuid.UUID      `json:"doctor_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Speciality      string         `json:"speciality"`
	Location        string         `json:"location"`
	StartDate       time.Time      `json:"start_date"`
	EndDate         time.Time      `json:"end_date"`
	HourlyRateCents int64          `json:"hourly_rate_cents"`
	BillableHours   *float64       `json:"billable_hours,omitempty"`
	Status          VacationStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// WindowHours is the length of the start-to-end window.
func (v VacationPost) WindowHours() float64 {
	return v.EndDate.Sub(v.StartDate).Hours()
}

// Hours is what a booking of the post is billed for: the declared billable
// hours, or the whole window when none were declared.
func (v VacationPost) Hours() float64 {
	if v.BillableHours != nil && *v.BillableHours > 0 {
		return *v.BillableHours
	}
	return v.WindowHours()
}

// TotalAmountCents prices Hours at the hourly rate, rounded to the cent.
func (v VacationPost) TotalAmountCents() int64 {
	hours := v.Hours()
	if hours <= 0 {
		return 0
	}
	return int64(math.Round(hours * float64(v.HourlyRateCents)))
}

type VacationListOptions struct {
	Speciality string
	Location   string
	From       *time.Time
	To         *time.Time
	DoctorID   *uuid.UUID
	Status     VacationStatus
	Limit      int
	Offset     int
}
