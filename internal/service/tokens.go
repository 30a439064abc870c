package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/fin-keeper/internal/crypto"
	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/repository"
	"github.com/and161185/fin-keeper/internal/token"
)

// TokenTTLs configures token lifetimes.
type TokenTTLs struct {
	Access         time.Duration
	AccessRemember time.Duration
	Refresh        time.Duration
	Reset          time.Duration
	Confirm        time.Duration
}

// DefaultTokenTTLs returns the production lifetimes.
func DefaultTokenTTLs() TokenTTLs {
	return TokenTTLs{
		Access:         15 * time.Minute,
		AccessRemember: 7 * 24 * time.Hour,
		Refresh:        15 * 24 * time.Hour,
		Reset:          time.Hour,
		Confirm:        24 * time.Hour,
	}
}

// TokenIssuer mints access/refresh pairs and keeps the refresh hash in the store.
type TokenIssuer struct {
	codec  *token.Codec
	store  repository.PrincipalRepository
	hasher pkgcrypto.Hasher
	ttl    TokenTTLs
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(codec *token.Codec, store repository.PrincipalRepository, hasher pkgcrypto.Hasher, ttl TokenTTLs) *TokenIssuer {
	return &TokenIssuer{codec: codec, store: store, hasher: hasher, ttl: ttl}
}

func (t *TokenIssuer) signAccess(p *model.Principal, ttl time.Duration) (string, time.Time, error) {
	return t.codec.Sign(token.Claims{
		PID:   p.PublicID.String(),
		Name:  p.Name,
		Roles: []string{string(p.Role)},
		Kind:  token.KindAccess,
	}, ttl)
}

// IssuePair signs both tokens and stores the refresh hash, replacing any previous one.
func (t *TokenIssuer) IssuePair(ctx context.Context, p *model.Principal, rememberMe bool) (model.Tokens, error) {
	accessTTL := t.ttl.Access
	if rememberMe {
		accessTTL = t.ttl.AccessRemember
	}
	access, accessExp, err := t.signAccess(p, accessTTL)
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, refreshExp, err := t.codec.Sign(token.Claims{
		PID:   p.PublicID.String(),
		Roles: []string{string(p.Role)},
		Kind:  token.KindRefresh,
	}, t.ttl.Refresh)
	if err != nil {
		return model.Tokens{}, err
	}

	hash, err := t.hasher.Hash(refresh)
	if err != nil {
		return model.Tokens{}, err
	}
	if err := t.store.SetRefreshTokenHash(ctx, p.Role, p.PublicID, &hash); err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyRefresh checks the refresh token signature and that it is still the stored one.
func (t *TokenIssuer) VerifyRefresh(ctx context.Context, raw string) (*model.Principal, error) {
	if raw == "" {
		return nil, errs.ErrTokenNotFound
	}
	claims, err := t.codec.Parse(raw, token.KindRefresh)
	if err != nil {
		return nil, errs.ErrInvalidToken
	}
	role, err := claims.Role()
	if err != nil {
		return nil, errs.ErrInvalidToken
	}
	pid, _ := claims.PublicID()

	p, err := t.store.GetByPublicID(ctx, role, pid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrInvalidToken
		}
		return nil, err
	}
	if p.RefreshTokenHash == nil || !t.hasher.Verify(raw, *p.RefreshTokenHash) {
		return nil, errs.ErrSessionRevoked
	}
	return p, nil
}

// RefreshAccessToken mints a new access token for a valid, stored refresh token.
// The refresh token itself is not rotated.
func (t *TokenIssuer) RefreshAccessToken(ctx context.Context, raw string) (model.Tokens, error) {
	p, err := t.VerifyRefresh(ctx, raw)
	if err != nil {
		return model.Tokens{}, err
	}
	access, exp, err := t.signAccess(p, t.ttl.Access)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, AccessExpiresAt: exp}, nil
}

// Revoke clears the stored refresh hash so outstanding refresh tokens stop working.
func (t *TokenIssuer) Revoke(ctx context.Context, role model.Role, pid uuid.UUID) error {
	return t.store.SetRefreshTokenHash(ctx, role, pid, nil)
}

// ParseAccess verifies an access token statelessly.
func (t *TokenIssuer) ParseAccess(raw string) (*token.Claims, error) {
	if raw == "" {
		return nil, errs.ErrTokenNotFound
	}
	c, err := t.codec.Parse(raw, token.KindAccess)
	if err != nil {
		return nil, errs.ErrInvalidToken
	}
	return c, nil
}

func linkClaims(p *model.Principal, kind token.Kind) token.Claims {
	return token.Claims{
		PID:   p.PublicID.String(),
		Roles: []string{string(p.Role)},
		Kind:  kind,
	}
}

// signConfirm signs an email confirmation link token.
func (t *TokenIssuer) signConfirm(p *model.Principal) (string, error) {
	s, _, err := t.codec.Sign(linkClaims(p, token.KindConfirm), t.ttl.Confirm)
	return s, err
}

// signReset signs a reset link token that expires together with its reset window.
func (t *TokenIssuer) signReset(p *model.Principal, windowEnd time.Time) (string, error) {
	return t.codec.SignUntil(linkClaims(p, token.KindReset), windowEnd)
}

// linkTarget is what an email link token points at.
type linkTarget struct {
	role    model.Role
	pid     uuid.UUID
	expires time.Time
}

// parseLink verifies an email link token.
func (t *TokenIssuer) parseLink(raw string, kind token.Kind) (linkTarget, error) {
	c, err := t.codec.Parse(raw, kind)
	if err != nil {
		return linkTarget{}, errs.ErrMalformedToken
	}
	role, err := c.Role()
	if err != nil {
		return linkTarget{}, errs.ErrMalformedToken
	}
	pid, _ := c.PublicID()
	return linkTarget{role: role, pid: pid, expires: c.ExpiresAt.Time}, nil
}
