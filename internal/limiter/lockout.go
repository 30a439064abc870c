package limiter

import (
	"time"

	"github.com/and161185/fin-keeper/internal/model"
)

// Lockout defaults.
const (
	DefaultMaxAttempts = 3
	DefaultLockFor     = 30 * time.Minute
)

// Policy decides from stored counters whether a password login may proceed
// and how a failure changes them. It performs no I/O.
type Policy struct {
	MaxAttempts int
	LockFor     time.Duration
}

// DefaultPolicy locks for 30 minutes after 3 failed attempts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, LockFor: DefaultLockFor}
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// Outcome is the counter state to persist after a failed attempt.
type Outcome struct {
	Attempts    int
	LockedUntil *time.Time
	Locked      bool
}

// Check reports whether a login attempt is permitted at now.
func (p Policy) Check(pr *model.Principal, now time.Time) Decision {
	if pr.AccountLockedUntil != nil && now.Before(*pr.AccountLockedUntil) {
		return Decision{Allowed: false, Remaining: pr.AccountLockedUntil.Sub(now)}
	}
	return Decision{Allowed: true}
}

// Failure returns the counters after one more failed attempt.
// An elapsed lock counts as a fresh start.
func (p Policy) Failure(pr *model.Principal, now time.Time) Outcome {
	attempts := pr.FailedLoginAttempts
	if pr.AccountLockedUntil != nil && !now.Before(*pr.AccountLockedUntil) {
		attempts = 0
	}
	attempts++
	if attempts >= p.MaxAttempts {
		until := now.Add(p.LockFor)
		return Outcome{Attempts: p.MaxAttempts, LockedUntil: &until, Locked: true}
	}
	return Outcome{Attempts: attempts}
}

// NeedsReset reports whether a successful login has counters to clear.
func (p Policy) NeedsReset(pr *model.Principal) bool {
	return pr.FailedLoginAttempts != 0 || pr.AccountLockedUntil != nil
}
