package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
)

// PrincipalRepo implements PrincipalRepository using PostgreSQL.
// Users and admins live in two tables with identical columns.
type PrincipalRepo struct{ db *DB }

// NewPrincipalRepo constructs a principal repository.
func NewPrincipalRepo(db *DB) *PrincipalRepo { return &PrincipalRepo{db: db} }

const principalColumns = `id, public_id, name, email, phone, password_hash, refresh_token_hash,
failed_login_attempts, account_locked_until, is_email_confirmed,
password_reset_token_expires, confirmation_sent_at, deleted_at, created_at`

// table maps a role to its partition. Table names are never built from input.
func table(role model.Role) (string, error) {
	switch role {
	case model.RoleUser:
		return "users", nil
	case model.RoleAdmin:
		return "admins", nil
	}
	return "", fmt.Errorf("unknown role %q", role)
}

func scanPrincipal(row pgx.Row, role model.Role) (*model.Principal, error) {
	p := model.Principal{Role: role}
	err := row.Scan(&p.ID, &p.PublicID, &p.Name, &p.Email, &p.Phone, &p.PasswordHash, &p.RefreshTokenHash,
		&p.FailedLoginAttempts, &p.AccountLockedUntil, &p.IsEmailConfirmed,
		&p.PasswordResetTokenExpires, &p.ConfirmationSentAt, &p.DeletedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Create inserts a new principal row and fills ID and CreatedAt.
func (r *PrincipalRepo) Create(ctx context.Context, p *model.Principal) error {
	t, err := table(p.Role)
	if err != nil {
		return err
	}
	q := `
INSERT INTO ` + t + ` (public_id, name, email, phone, password_hash, is_email_confirmed)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`
	err = r.db.Pool.QueryRow(ctx, q, p.PublicID, p.Name, p.Email, p.Phone, p.PasswordHash, p.IsEmailConfirmed).
		Scan(&p.ID, &p.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

func (r *PrincipalRepo) getBy(ctx context.Context, role model.Role, where string, arg any) (*model.Principal, error) {
	t, err := table(role)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + principalColumns + ` FROM ` + t + ` WHERE ` + where
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, arg), role)
}

// GetByEmail selects a live principal by email.
func (r *PrincipalRepo) GetByEmail(ctx context.Context, role model.Role, email string) (*model.Principal, error) {
	return r.getBy(ctx, role, `email=$1 AND deleted_at IS NULL`, email)
}

// GetByPhone selects a live principal by phone.
func (r *PrincipalRepo) GetByPhone(ctx context.Context, role model.Role, phone string) (*model.Principal, error) {
	return r.getBy(ctx, role, `phone=$1 AND deleted_at IS NULL`, phone)
}

// GetByPublicID selects a live principal by public id.
func (r *PrincipalRepo) GetByPublicID(ctx context.Context, role model.Role, pid uuid.UUID) (*model.Principal, error) {
	return r.getBy(ctx, role, `public_id=$1 AND deleted_at IS NULL`, pid)
}

// GetDeletedByPublicID selects a soft-deleted principal by public id.
func (r *PrincipalRepo) GetDeletedByPublicID(ctx context.Context, role model.Role, pid uuid.UUID) (*model.Principal, error) {
	return r.getBy(ctx, role, `public_id=$1 AND deleted_at IS NOT NULL`, pid)
}

// update runs a single-row UPDATE and returns miss when no row matched.
func (r *PrincipalRepo) update(ctx context.Context, role model.Role, set, where string, miss error, args ...any) error {
	t, err := table(role)
	if err != nil {
		return err
	}
	q := `UPDATE ` + t + ` SET ` + set + ` WHERE ` + where
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return miss
	}
	return nil
}

// SaveLoginFailure writes the lockout counters if nobody changed them since they were read.
func (r *PrincipalRepo) SaveLoginFailure(
	ctx context.Context, role model.Role, pid uuid.UUID, prevAttempts, attempts int, lockedUntil *time.Time,
) error {
	return r.update(ctx, role,
		`failed_login_attempts=$3, account_locked_until=$4`,
		`public_id=$1 AND failed_login_attempts=$2 AND deleted_at IS NULL`,
		errs.ErrVersionConflict, pid, prevAttempts, attempts, lockedUntil)
}

// ResetLoginFailures clears the counter and the lock.
func (r *PrincipalRepo) ResetLoginFailures(ctx context.Context, role model.Role, pid uuid.UUID) error {
	return r.update(ctx, role,
		`failed_login_attempts=0, account_locked_until=NULL`,
		`public_id=$1 AND deleted_at IS NULL`,
		errs.ErrNotFound, pid)
}

// SetRefreshTokenHash replaces the stored refresh hash.
func (r *PrincipalRepo) SetRefreshTokenHash(ctx context.Context, role model.Role, pid uuid.UUID, hash *string) error {
	return r.update(ctx, role,
		`refresh_token_hash=$2`,
		`public_id=$1 AND deleted_at IS NULL`,
		errs.ErrNotFound, pid, hash)
}

// UpdatePassword stores a new password hash and drops any pending reset.
func (r *PrincipalRepo) UpdatePassword(ctx context.Context, role model.Role, pid uuid.UUID, hash string) error {
	return r.update(ctx, role,
		`password_hash=$2, password_reset_token_expires=NULL`,
		`public_id=$1 AND deleted_at IS NULL`,
		errs.ErrNotFound, pid, hash)
}

// MarkEmailConfirmed sets is_email_confirmed.
func (r *PrincipalRepo) MarkEmailConfirmed(ctx context.Context, role model.Role, pid uuid.UUID) error {
	return r.update(ctx, role,
		`is_email_confirmed=true`,
		`public_id=$1 AND deleted_at IS NULL`,
		errs.ErrNotFound, pid)
}

// ClaimConfirmationCooldown records a confirmation send unless one happened within cooldown.
func (r *PrincipalRepo) ClaimConfirmationCooldown(
	ctx context.Context, role model.Role, pid uuid.UUID, now time.Time, cooldown time.Duration,
) (bool, error) {
	err := r.update(ctx, role,
		`confirmation_sent_at=$2`,
		`public_id=$1 AND deleted_at IS NULL AND (confirmation_sent_at IS NULL OR confirmation_sent_at <= $3)`,
		errs.ErrVersionConflict, pid, now, now.Add(-cooldown))
	return claimed(err)
}

// ClaimResetCooldown starts a reset window ending at until unless one is still open at now.
func (r *PrincipalRepo) ClaimResetCooldown(
	ctx context.Context, role model.Role, pid uuid.UUID, now, until time.Time,
) (bool, error) {
	err := r.update(ctx, role,
		`password_reset_token_expires=$3`,
		`public_id=$1 AND deleted_at IS NULL AND (password_reset_token_expires IS NULL OR password_reset_token_expires <= $2)`,
		errs.ErrVersionConflict, pid, now, until)
	return claimed(err)
}

func claimed(err error) (bool, error) {
	if errors.Is(err, errs.ErrVersionConflict) {
		return false, nil
	}
	return err == nil, err
}

// ReleaseResetCooldown closes the reset window.
func (r *PrincipalRepo) ReleaseResetCooldown(ctx context.Context, role model.Role, pid uuid.UUID) error {
	return r.update(ctx, role,
		`password_reset_token_expires=NULL`,
		`public_id=$1`,
		errs.ErrNotFound, pid)
}

// ConsumeReset sets the new password while the given reset window is open and
// closes it, logging out every session and clearing the lockout.
func (r *PrincipalRepo) ConsumeReset(
	ctx context.Context, role model.Role, pid uuid.UUID, hash string, windowEnd, now time.Time,
) error {
	return r.update(ctx, role,
		`password_hash=$2, password_reset_token_expires=NULL, refresh_token_hash=NULL,
failed_login_attempts=0, account_locked_until=NULL`,
		`public_id=$1 AND deleted_at IS NULL AND password_reset_token_expires=$3 AND password_reset_token_expires > $4`,
		errs.ErrNotFound, pid, hash, windowEnd, now)
}

// SoftDelete marks the principal deleted and logs it out.
func (r *PrincipalRepo) SoftDelete(ctx context.Context, role model.Role, pid uuid.UUID) error {
	return r.update(ctx, role,
		`deleted_at=now(), refresh_token_hash=NULL`,
		`public_id=$1 AND deleted_at IS NULL`,
		errs.ErrNotFound, pid)
}

// Restore clears the deletion marker.
func (r *PrincipalRepo) Restore(ctx context.Context, role model.Role, pid uuid.UUID) error {
	return r.update(ctx, role,
		`deleted_at=NULL`,
		`public_id=$1 AND deleted_at IS NOT NULL`,
		errs.ErrNotFound, pid)
}
