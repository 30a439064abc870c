package httpserver

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/fin-keeper/internal/access"
	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/token"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// Sessions verifies the two session tokens. *service.TokenIssuer implements it.
type Sessions interface {
	ParseAccess(raw string) (*token.Claims, error)
	VerifyRefresh(ctx context.Context, raw string) (*model.Principal, error)
}

// Guard builds the per-route authentication chain:
// Authenticate, then RequireRole, then RequirePermission.
type Guard struct {
	sessions Sessions
	log      *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(sessions Sessions, log *zap.Logger) *Guard {
	return &Guard{sessions: sessions, log: log}
}

// accessToken reads the access cookie, falling back to an Authorization bearer header.
func accessToken(c *gin.Context) string {
	if v, err := c.Cookie(accessCookie); err == nil && v != "" {
		return v
	}
	v := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// Authenticate verifies the access token and stores its claims in the request context.
func (g *Guard) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := g.sessions.ParseAccess(accessToken(c))
		if err != nil {
			writeError(c, g.log, err)
			return
		}
		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		g.log.Debug("authenticated", zap.String("pid", claims.PID), zap.String("route", c.FullPath()))
		c.Next()
	}
}

// RequireRole admits callers holding any of roles. Must run after Authenticate.
func (g *Guard) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromCtx(c.Request.Context())
		if !ok {
			writeError(c, g.log, errs.ErrTokenNotFound)
			return
		}
		for _, r := range roles {
			if claims.HasRole(r) {
				c.Next()
				return
			}
		}
		writeError(c, g.log, errs.ErrInsufficientRole)
	}
}

// RequirePermission admits callers whose roles grant perm. Must run after Authenticate.
func (g *Guard) RequirePermission(perm access.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromCtx(c.Request.Context())
		if !ok {
			writeError(c, g.log, errs.ErrTokenNotFound)
			return
		}
		if !access.Allowed(claims.Roles, perm) {
			writeError(c, g.log, errs.ErrMissingPermission)
			return
		}
		c.Next()
	}
}

// RequireRefresh admits requests carrying the currently stored refresh token.
func (g *Guard) RequireRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, _ := c.Cookie(refreshCookie)
		p, err := g.sessions.VerifyRefresh(c.Request.Context(), raw)
		if err != nil {
			writeError(c, g.log, err)
			return
		}
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}
