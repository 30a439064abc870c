// Package httpserver exposes the authentication and ledger services over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/fin-keeper/internal/access"
	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/service"
)

// Options configures the HTTP surface.
type Options struct {
	// CookieSecure marks session cookies Secure. Enable behind TLS.
	CookieSecure   bool
	RequestTimeout time.Duration
	// External mounts POST /auth/external.
	External bool
	// Health is probed by GET /health; nil reports healthy.
	Health func(ctx context.Context) error
}

// Server wires services into gin handlers.
type Server struct {
	auth     service.AuthService
	ledger   service.LedgerService
	sessions Sessions
	guard    *Guard
	opts     Options
	log      *zap.Logger
}

// New constructs a Server with injected services.
func New(auth service.AuthService, ledger service.LedgerService, sessions Sessions, opts Options, log *zap.Logger) *Server {
	return &Server{
		auth:     auth,
		ledger:   ledger,
		sessions: sessions,
		guard:    NewGuard(sessions, log),
		opts:     opts,
		log:      log,
	}
}

// Handler builds the router with the middleware chain and every route.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(
		Recover(s.log),
		RequestID(),
		Logging(s.log),
		SecurityHeaders(),
		Timeout(s.opts.RequestTimeout),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{StatusCode: http.StatusNotFound, Message: "route not found"})
	})

	r.GET("/health", s.health)

	a := r.Group("/auth")
	a.POST("/login", s.login)
	a.POST("/register", s.register)
	a.GET("/confirm", s.confirmEmail)
	a.POST("/resend-confirmation", s.resendConfirmation)
	a.GET("/refresh", s.refresh)
	a.POST("/logout", s.guard.RequireRefresh(), s.logout)
	a.POST("/forgot-password", s.forgotPassword)
	a.POST("/reset-password", s.resetPassword)
	if s.opts.External {
		a.POST("/external", s.loginExternal)
	}

	r.PATCH("/password/updateUser",
		s.guard.Authenticate(),
		s.guard.RequirePermission(access.PasswordChange),
		s.changePassword)

	user := r.Group("/", s.guard.Authenticate(), s.guard.RequireRole(model.RoleUser))
	user.POST("/account", s.guard.RequirePermission(access.AccountsWrite), s.createAccount)
	user.GET("/account/:id", s.guard.RequirePermission(access.AccountsRead), s.getAccount)
	user.POST("/transaction/add-transaction", s.guard.RequirePermission(access.TransactionsWrite), s.addTransaction)
	user.GET("/transaction/:id", s.guard.RequirePermission(access.TransactionsRead), s.getTransaction)
	user.PUT("/transaction/:id", s.guard.RequirePermission(access.TransactionsWrite), s.updateTransaction)
	user.DELETE("/transaction/:id", s.guard.RequirePermission(access.TransactionsWrite), s.deleteTransaction)

	admin := r.Group("/admin",
		s.guard.Authenticate(),
		s.guard.RequireRole(model.RoleAdmin),
		s.guard.RequirePermission(access.UsersManage))
	admin.DELETE("/users/:pid", s.softDeleteUser)
	admin.POST("/users/:pid/restore", s.restoreUser)

	return r
}

func (s *Server) health(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
