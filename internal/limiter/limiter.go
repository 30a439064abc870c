// Package limiter holds the per-principal lockout policy and the per-IP login throttle.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter throttles login attempts per client address.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Nop never throttles.
type Nop struct{}

func (Nop) Allow(context.Context, []byte) (bool, time.Duration, error)   { return true, 0, nil }
func (Nop) Success(context.Context, []byte) error                        { return nil }
func (Nop) Failure(context.Context, []byte) (bool, time.Duration, error) { return false, 0, nil }
