package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
)

var principalCols = []string{
	"id", "public_id", "name", "email", "phone", "password_hash", "refresh_token_hash",
	"failed_login_attempts", "account_locked_until", "is_email_confirmed",
	"password_reset_token_expires", "confirmation_sent_at", "deleted_at", "created_at",
}

func principalRow(pid uuid.UUID, hash *string, attempts int, locked *time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(principalCols).AddRow(
		int64(1), pid, "Ann", "ann@example.com", (*string)(nil), hash, (*string)(nil),
		attempts, locked, true,
		(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	)
}

func TestPrincipalRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()

	hash := "h"
	phone := "+100"
	p := &model.Principal{
		PublicID:     uuid.Must(uuid.NewV4()),
		Role:         model.RoleUser,
		Name:         "Ann",
		Email:        "ann@example.com",
		Phone:        &phone,
		PasswordHash: &hash,
	}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO users \(public_id, name, email, phone, password_hash, is_email_confirmed\)`).
		WithArgs(p.PublicID, p.Name, p.Email, p.Phone, p.PasswordHash, false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), created))
	require.NoError(t, r.Create(ctx, p))
	require.Equal(t, int64(5), p.ID)
	require.Equal(t, created, p.CreatedAt)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(p.PublicID, p.Name, p.Email, p.Phone, p.PasswordHash, false).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, p), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_RoleSelectsTable(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	pid := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM admins WHERE email=\$1 AND deleted_at IS NULL`).
		WithArgs("ann@example.com").
		WillReturnRows(principalRow(pid, nil, 0, nil))
	p, err := r.GetByEmail(ctx, model.RoleAdmin, "ann@example.com")
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, p.Role)
	require.Equal(t, pid, p.PublicID)
	require.False(t, p.HasPassword())

	mock.ExpectQuery(`FROM users WHERE email=\$1 AND deleted_at IS NULL`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(ctx, model.RoleUser, "nobody@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = r.GetByEmail(ctx, model.Role("root"), "x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_GetByPublicID_ScansLockout(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	pid := uuid.Must(uuid.NewV4())
	hash := "bcrypt"
	until := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM users WHERE public_id=\$1 AND deleted_at IS NULL`).
		WithArgs(pid).
		WillReturnRows(principalRow(pid, &hash, 3, &until))
	p, err := r.GetByPublicID(context.Background(), model.RoleUser, pid)
	require.NoError(t, err)
	require.Equal(t, 3, p.FailedLoginAttempts)
	require.Equal(t, until, *p.AccountLockedUntil)
	require.True(t, p.HasPassword())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_SaveLoginFailure_CompareAndSet(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	pid := uuid.Must(uuid.NewV4())
	until := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE users SET failed_login_attempts=\$3, account_locked_until=\$4 WHERE public_id=\$1 AND failed_login_attempts=\$2`).
		WithArgs(pid, 2, 3, &until).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SaveLoginFailure(ctx, model.RoleUser, pid, 2, 3, &until))

	mock.ExpectExec(`UPDATE users SET failed_login_attempts`).
		WithArgs(pid, 1, 2, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := r.SaveLoginFailure(ctx, model.RoleUser, pid, 1, 2, nil)
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_ClaimResetCooldown(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	pid := uuid.Must(uuid.NewV4())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)

	mock.ExpectExec(`UPDATE users SET password_reset_token_expires=\$3`).
		WithArgs(pid, now, until).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := r.ClaimResetCooldown(ctx, model.RoleUser, pid, now, until)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(`UPDATE users SET password_reset_token_expires=\$3`).
		WithArgs(pid, now, until).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = r.ClaimResetCooldown(ctx, model.RoleUser, pid, now, until)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_ClaimConfirmationCooldown(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	pid := uuid.Must(uuid.NewV4())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE users SET confirmation_sent_at=\$2`).
		WithArgs(pid, now, now.Add(-5*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err := r.ClaimConfirmationCooldown(context.Background(), model.RoleUser, pid, now, 5*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_ConsumeReset_SingleUse(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	pid := uuid.Must(uuid.NewV4())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(30 * time.Minute)

	mock.ExpectExec(`UPDATE admins SET password_hash=\$2, password_reset_token_expires=NULL, refresh_token_hash=NULL`).
		WithArgs(pid, "new", end, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.ConsumeReset(ctx, model.RoleAdmin, pid, "new", end, now))

	mock.ExpectExec(`UPDATE admins SET password_hash=\$2`).
		WithArgs(pid, "new", end, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.ConsumeReset(ctx, model.RoleAdmin, pid, "new", end, now), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_SoftDeleteAndRestore(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	pid := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE users SET deleted_at=now\(\), refresh_token_hash=NULL WHERE public_id=\$1 AND deleted_at IS NULL`).
		WithArgs(pid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SoftDelete(ctx, model.RoleUser, pid))

	mock.ExpectExec(`UPDATE users SET deleted_at=NULL WHERE public_id=\$1 AND deleted_at IS NOT NULL`).
		WithArgs(pid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Restore(ctx, model.RoleUser, pid), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_SetRefreshTokenHash_Clear(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	pid := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE users SET refresh_token_hash=\$2`).
		WithArgs(pid, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetRefreshTokenHash(context.Background(), model.RoleUser, pid, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
