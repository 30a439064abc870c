// Command fin-keeper starts the authentication and ledger HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/fin-keeper/internal/config"
	pkgcrypto "github.com/and161185/fin-keeper/internal/crypto"
	"github.com/and161185/fin-keeper/internal/limiter"
	"github.com/and161185/fin-keeper/internal/logger"
	"github.com/and161185/fin-keeper/internal/mail"
	"github.com/and161185/fin-keeper/internal/migrate"
	"github.com/and161185/fin-keeper/internal/repository/postgres"
	httpserver "github.com/and161185/fin-keeper/internal/server/http"
	"github.com/and161185/fin-keeper/internal/service"
	"github.com/and161185/fin-keeper/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and serves HTTP until SIGINT/SIGTERM.
func main() {
	// best-effort: a missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, closeLog, err := logger.New(logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
		_ = closeLog()
	}()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		log.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	principals := postgres.NewPrincipalRepo(db)
	ledgerRepo := postgres.NewLedgerRepo(db)

	var lim limiter.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		lim = limiter.NewRedis(rdb, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)
		log.Info("login throttle: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		lim = limiter.NewPG(db.Pool, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)
	}

	hasher, err := pkgcrypto.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		log.Fatal("password hasher", zap.Error(err))
	}
	codec, err := token.NewCodec([]byte(cfg.JWTKey))
	if err != nil {
		log.Fatal("token codec", zap.Error(err))
	}

	var mailer mail.Sender = mail.LogSender{Log: log.Named("mail")}
	if cfg.SMTPAddr != "" {
		smtpSender, err := mail.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword)
		if err != nil {
			log.Fatal("smtp", zap.Error(err))
		}
		mailer = smtpSender
	}

	var external service.ExternalVerifier
	if cfg.ExternalEnabled() {
		v, err := token.NewBrokerVerifier([]byte(cfg.ExternalKey), cfg.ExternalProviders...)
		if err != nil {
			log.Fatal("external verifier", zap.Error(err))
		}
		external = v
	}

	// Services
	tokens := service.NewTokenIssuer(codec, principals, hasher, service.DefaultTokenTTLs())
	authSvc := service.NewAuthService(principals, tokens, hasher, lim, mailer, external,
		service.AuthOptions{PublicURL: cfg.PublicURL}, log.Named("auth"))
	ledgerSvc := service.NewLedgerService(ledgerRepo)

	if cfg.AdminEmail != "" {
		if err := authSvc.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Fatal("bootstrap admin", zap.Error(err))
		}
	}

	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	app := httpserver.New(authSvc, ledgerSvc, tokens, httpserver.Options{
		CookieSecure:   cfg.CookieSecure,
		RequestTimeout: cfg.RequestTimeout,
		External:       external != nil,
		Health:         db.Ping,
	}, log.Named("http"))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	log.Info("shutdown complete")
}
