package app

import (
	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID    uuid.UUID
	Role  domain.Role
	Email string
}

func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}
