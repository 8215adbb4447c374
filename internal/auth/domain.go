package auth

import (
	"time"

	"github.com/budgeo/budgeo/internal/shared"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	OrgID        int64
	Email        string
	PasswordHash string
	Role         shared.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity maps the account onto the request-scoped identity.
func (u User) Identity() shared.Identity {
	return shared.Identity{ActorID: u.ID, OrgID: u.OrgID, Role: u.Role}
}
