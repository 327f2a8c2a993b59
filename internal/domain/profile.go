package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor        Role = "doctor"
	RoleEstablishment Role = "establishment"
	RoleAdmin         Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RoleEstablishment || r == RoleAdmin
}

// Profile mirrors the auth platform's user profile row.
type Profile struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     Role      `json:"role"`
}

// Review is left by one party of a completed booking about the other.
type Review struct {
	ID         uuid.UUID `json:"id"`
	BookingID  uuid.UUID `json:"booking_id"`
	ReviewerID uuid.UUID `json:"reviewer_id"`
	RevieweeID uuid.UUID `json:"reviewee_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
