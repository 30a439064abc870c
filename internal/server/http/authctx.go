package httpserver

import (
	"context"

	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/token"
)

type ctxKey string

const (
	claimsKey    ctxKey = "fk.claims"
	principalKey ctxKey = "fk.principal"
	requestIDKey ctxKey = "fk.requestID"
)

// WithClaims stores verified access token claims in context.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches access token claims from context.
func ClaimsFromCtx(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok && c != nil
}

// WithPrincipal stores the principal resolved from a refresh token.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the refresh token principal from context.
func PrincipalFromCtx(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}

// WithRequestID stores the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx returns the request id or "".
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
