// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fin-keeper/internal/model"
)

// PrincipalRepository is the credential store. Every method is scoped to the
// partition of the given role; soft-deleted principals are invisible unless stated.
type PrincipalRepository interface {
	// Create inserts a new principal; ErrAlreadyExists on duplicate email/phone.
	Create(ctx context.Context, p *model.Principal) error
	// GetByEmail loads a live principal by email.
	GetByEmail(ctx context.Context, role model.Role, email string) (*model.Principal, error)
	// GetByPhone loads a live principal by phone.
	GetByPhone(ctx context.Context, role model.Role, phone string) (*model.Principal, error)
	// GetByPublicID loads a live principal by public id.
	GetByPublicID(ctx context.Context, role model.Role, pid uuid.UUID) (*model.Principal, error)
	// GetDeletedByPublicID loads a soft-deleted principal by public id.
	GetDeletedByPublicID(ctx context.Context, role model.Role, pid uuid.UUID) (*model.Principal, error)

	// SaveLoginFailure stores new lockout counters only if the stored attempt
	// count still equals prevAttempts; ErrVersionConflict otherwise.
	SaveLoginFailure(ctx context.Context, role model.Role, pid uuid.UUID, prevAttempts, attempts int, lockedUntil *time.Time) error
	// ResetLoginFailures clears the counter and the lock.
	ResetLoginFailures(ctx context.Context, role model.Role, pid uuid.UUID) error

	// SetRefreshTokenHash replaces the stored refresh hash; nil clears it.
	SetRefreshTokenHash(ctx context.Context, role model.Role, pid uuid.UUID, hash *string) error
	// UpdatePassword stores a new password hash and clears the reset cooldown.
	UpdatePassword(ctx context.Context, role model.Role, pid uuid.UUID, hash string) error

	// MarkEmailConfirmed sets the confirmation flag.
	MarkEmailConfirmed(ctx context.Context, role model.Role, pid uuid.UUID) error
	// ClaimConfirmationCooldown records a confirmation send at now unless one
	// was recorded within cooldown; reports whether the claim succeeded.
	ClaimConfirmationCooldown(ctx context.Context, role model.Role, pid uuid.UUID, now time.Time, cooldown time.Duration) (bool, error)

	// ClaimResetCooldown sets the reset expiry to until unless a previous one is
	// still in the future at now; reports whether the claim succeeded.
	ClaimResetCooldown(ctx context.Context, role model.Role, pid uuid.UUID, now, until time.Time) (bool, error)
	// ReleaseResetCooldown clears the reset expiry (used when the email could not be sent).
	ReleaseResetCooldown(ctx context.Context, role model.Role, pid uuid.UUID) error
	// ConsumeReset stores hash only while the reset window ending at windowEnd is
	// the current one and still open at now, then closes it and clears the refresh
	// hash; ErrNotFound otherwise.
	ConsumeReset(ctx context.Context, role model.Role, pid uuid.UUID, hash string, windowEnd, now time.Time) error

	// SoftDelete marks the principal deleted and clears its refresh hash.
	SoftDelete(ctx context.Context, role model.Role, pid uuid.UUID) error
	// Restore undeletes a soft-deleted principal.
	Restore(ctx context.Context, role model.Role, pid uuid.UUID) error
}
