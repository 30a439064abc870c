// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role selects the credential partition and the roles claim of issued tokens.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Principal is an authenticatable entity (user or admin).
type Principal struct {
	ID       int64     // internal row id, never exposed
	PublicID uuid.UUID // stable opaque id exposed to clients
	Role     Role
	Name     string
	Email    string
	Phone    *string // users only

	PasswordHash     *string // nil: external identity provider only
	RefreshTokenHash *string // nil: logged out

	FailedLoginAttempts int // 0..3
	AccountLockedUntil  *time.Time
	IsEmailConfirmed    bool

	PasswordResetTokenExpires *time.Time // reset cooldown
	ConfirmationSentAt        *time.Time // confirmation resend cooldown

	DeletedAt *time.Time
	CreatedAt time.Time
}

// HasPassword reports whether the principal can use password login.
func (p *Principal) HasPassword() bool {
	return p.PasswordHash != nil && *p.PasswordHash != ""
}

// ExternalIdentity is a profile asserted by an external identity provider.
type ExternalIdentity struct {
	Provider string
	Email    string
	Name     string
}
