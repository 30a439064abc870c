// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Error kinds. Every error surfaced by services wraps exactly one of them.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a concurrent modification or a stale client expectation.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller lacking a role or permission.
	ErrForbidden = errors.New("forbidden")

	// ErrBadRequest indicates invalid input or a request made inside a cooldown window.
	ErrBadRequest = errors.New("bad request")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAborted indicates a ledger unit of work that was rolled back.
	ErrAborted = errors.New("aborted")
)

// User-facing errors with fixed messages.
var (
	ErrInvalidCredentials   = New(ErrUnauthorized, "invalid credentials")
	ErrMaxFailedAttempts    = New(ErrUnauthorized, "maximum failed attempts reached, account locked")
	ErrExternalProviderOnly = New(ErrUnauthorized, "this account uses an external provider, sign in with the external provider instead")
	ErrEmailNotConfirmed    = New(ErrUnauthorized, "email is not confirmed")
	ErrTokenNotFound        = New(ErrUnauthorized, "token not found")
	ErrInvalidToken         = New(ErrUnauthorized, "invalid token")
	ErrSessionRevoked       = New(ErrUnauthorized, "session is no longer active")
	ErrWrongPassword        = New(ErrUnauthorized, "current password is incorrect")
	ErrSentRecently         = New(ErrBadRequest, "email was sent recently, try again later")
	ErrMalformedToken       = New(ErrBadRequest, "reset link is invalid or expired")
	ErrPrincipalNotFound    = New(ErrNotFound, "user not found")
	ErrInsufficientRole     = New(ErrForbidden, "insufficient role")
	ErrMissingPermission    = New(ErrForbidden, "missing permission")
	ErrBalanceMismatch      = New(ErrVersionConflict, "account balance changed, reload and retry")
)
