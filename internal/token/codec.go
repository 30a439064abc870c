// Package token signs and parses the HS256 JWTs used for sessions and email links.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"

	"github.com/and161185/fin-keeper/internal/model"
)

// Kind distinguishes tokens signed with the same key.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
	KindConfirm Kind = "confirm"
)

// ErrInvalid is returned for any token that fails signature, expiry or kind checks.
var ErrInvalid = errors.New("invalid token")

// Claims is the payload of every token kind. Name is set on access tokens only.
type Claims struct {
	PID   string   `json:"pid"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
	Kind  Kind     `json:"typ"`
	jwt.RegisteredClaims
}

// PublicID parses the pid claim.
func (c *Claims) PublicID() (uuid.UUID, error) {
	return uuid.FromString(c.PID)
}

// Role returns the partition role carried by the token.
func (c *Claims) Role() (model.Role, error) {
	if len(c.Roles) == 0 {
		return "", errors.New("no role claim")
	}
	r := model.Role(c.Roles[0])
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", c.Roles[0])
	}
	return r, nil
}

// HasRole reports whether the claims carry role r.
func (c *Claims) HasRole(r model.Role) bool {
	for _, v := range c.Roles {
		if model.Role(v) == r {
			return true
		}
	}
	return false
}

// Codec signs and verifies tokens with one process-wide secret.
type Codec struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// NewCodec constructs a codec. The key is read-only after construction.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) < 16 {
		return nil, errors.New("signing key must be at least 16 bytes")
	}
	return &Codec{key: append([]byte(nil), key...), leeway: 5 * time.Second, now: time.Now}, nil
}

// Sign issues a token of the claims' kind valid for ttl.
func (c *Codec) Sign(claims Claims, ttl time.Duration) (string, time.Time, error) {
	exp := c.now().Add(ttl)
	signed, err := c.SignUntil(claims, exp)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// SignUntil issues a token expiring at exp. Every token gets a unique jti.
func (c *Codec) SignUntil(claims Claims, exp time.Time) (string, error) {
	if claims.ID == "" {
		claims.ID = ksuid.New().String()
	}
	claims.IssuedAt = jwt.NewNumericDate(c.now())
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Parse verifies signature, expiry and kind, returning the claims.
func (c *Codec) Parse(raw string, kind Kind) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return c.key, nil
	},
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Kind != kind {
		return nil, ErrInvalid
	}
	if _, err := claims.PublicID(); err != nil {
		return nil, ErrInvalid
	}
	return &claims, nil
}
