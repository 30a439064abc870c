// Package crypto implements server-side hashing of passwords and refresh tokens.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinProductionCost is the lowest bcrypt cost accepted by configuration.
const MinProductionCost = 12

// Hasher hashes secrets one-way and verifies them.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// Bcrypt hashes secrets with bcrypt. Input is pre-digested with SHA-256 so
// secrets longer than bcrypt's 72-byte limit (refresh JWTs) are covered in full.
type Bcrypt struct {
	cost int
}

// NewBcrypt constructs a bcrypt hasher with the given cost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Bcrypt{cost: cost}, nil
}

// Hash returns a salted bcrypt hash of secret.
func (b *Bcrypt) Hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(digest(secret), b.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify reports whether secret matches hash.
func (b *Bcrypt) Verify(secret, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), digest(secret)) == nil
}

func digest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}
