// Package service contains application services for authentication and the ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/fin-keeper/internal/crypto"
	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/limiter"
	pkgmail "github.com/and161185/fin-keeper/internal/mail"
	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/repository"
	"github.com/and161185/fin-keeper/internal/token"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
	casRetries     = 3
)

// AuthService defines authentication, account recovery and principal administration.
type AuthService interface {
	// Register creates an unconfirmed user and emails a confirmation link.
	Register(ctx context.Context, in RegisterInput) (*model.Principal, error)
	// Login verifies a password under the lockout policy and issues tokens.
	Login(ctx context.Context, in LoginInput) (model.Tokens, *model.Principal, error)
	// LoginExternal signs in (or creates) a principal vouched for by an identity provider.
	LoginExternal(ctx context.Context, provider, credential string) (model.Tokens, *model.Principal, error)
	// Refresh mints a new access token from a stored refresh token.
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	// Logout clears the stored refresh hash.
	Logout(ctx context.Context, role model.Role, pid uuid.UUID) error
	// ForgotPassword emails a reset link, at most once per reset window.
	ForgotPassword(ctx context.Context, email string, role model.Role) error
	// ResetPassword sets a new password from a reset link; each link works once.
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	// ConfirmEmail marks the email of the link's principal as confirmed.
	ConfirmEmail(ctx context.Context, confirmToken string) error
	// ResendConfirmation emails a fresh confirmation link, throttled.
	ResendConfirmation(ctx context.Context, email string) error
	// ChangePassword replaces the caller's password after checking the current one.
	ChangePassword(ctx context.Context, caller *token.Claims, in ChangePasswordInput) error
	// EnsureAdmin creates the bootstrap admin if it does not exist.
	EnsureAdmin(ctx context.Context, name, email, password string) error
	// SoftDeleteUser hides a user and ends its session.
	SoftDeleteUser(ctx context.Context, pid uuid.UUID) error
	// RestoreUser undoes SoftDeleteUser.
	RestoreUser(ctx context.Context, pid uuid.UUID) error
}

// ExternalVerifier checks a credential issued by an external identity provider.
type ExternalVerifier interface {
	Verify(ctx context.Context, provider, credential string) (model.ExternalIdentity, error)
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// LoginInput is the login form plus the client address.
type LoginInput struct {
	Email      string
	Password   string
	IsAdmin    bool
	RememberMe bool
	IP         string
}

// ChangePasswordInput is the password update form.
type ChangePasswordInput struct {
	PID             uuid.UUID
	CurrentPassword string
	NewPassword     string
}

// AuthOptions holds tunables of AuthServiceImpl.
type AuthOptions struct {
	Policy          limiter.Policy
	ConfirmCooldown time.Duration
	// PublicURL is prepended to links in outgoing mail, e.g. https://app.example.com.
	PublicURL string
}

type AuthServiceImpl struct {
	store    repository.PrincipalRepository
	tokens   *TokenIssuer
	hasher   pkgcrypto.Hasher
	lim      limiter.Limiter
	mailer   pkgmail.Sender
	external ExternalVerifier
	opts     AuthOptions
	log      *zap.Logger
	now      func() time.Time

	// dummyHash is verified against when the email is unknown so both
	// failure paths cost one hash comparison.
	dummyHash string
}

// NewAuthService constructs AuthService with required dependencies. external may be nil.
func NewAuthService(
	store repository.PrincipalRepository,
	tokens *TokenIssuer,
	hasher pkgcrypto.Hasher,
	lim limiter.Limiter,
	mailer pkgmail.Sender,
	external ExternalVerifier,
	opts AuthOptions,
	log *zap.Logger,
) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = limiter.DefaultPolicy()
	}
	if opts.ConfirmCooldown <= 0 {
		opts.ConfirmCooldown = 5 * time.Minute
	}
	dummy, err := hasher.Hash(ksuid.New().String())
	if err != nil {
		log.Warn("dummy password hash unavailable", zap.Error(err))
	}
	return &AuthServiceImpl{
		store:     store,
		tokens:    tokens,
		hasher:    hasher,
		lim:       lim,
		mailer:    mailer,
		external:  external,
		opts:      opts,
		log:       log,
		now:       time.Now,
		dummyHash: dummy,
	}
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

func validatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < minPasswordLen || n > maxPasswordLen {
		return errs.New(errs.ErrBadRequest,
			fmt.Sprintf("password must be between %d and %d characters", minPasswordLen, maxPasswordLen))
	}
	return nil
}

// Register creates a user with a hashed password and sends the confirmation link.
func (s *AuthServiceImpl) Register(ctx context.Context, in RegisterInput) (*model.Principal, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Name == "" {
		return nil, errs.New(errs.ErrBadRequest, "name is required")
	}
	if !validEmail(in.Email) {
		return nil, errs.New(errs.ErrBadRequest, "invalid email")
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.store.GetByEmail(ctx, model.RoleUser, in.Email); err == nil {
		return nil, errs.New(errs.ErrBadRequest, "email is already registered")
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	var phone *string
	if in.Phone != "" {
		if _, err := s.store.GetByPhone(ctx, model.RoleUser, in.Phone); err == nil {
			return nil, errs.New(errs.ErrBadRequest, "phone is already registered")
		} else if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		phone = &in.Phone
	}

	pid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	p := &model.Principal{
		PublicID:     pid,
		Role:         model.RoleUser,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        phone,
		PasswordHash: &hash,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, errs.Wrap(errs.ErrBadRequest, "email or phone is already registered", err)
		}
		return nil, err
	}

	if err := s.sendConfirmation(ctx, p); err != nil {
		s.log.Warn("confirmation mail failed", zap.String("pid", pid.String()), zap.Error(err))
	}
	return p, nil
}

func (s *AuthServiceImpl) sendConfirmation(ctx context.Context, p *model.Principal) error {
	ok, err := s.store.ClaimConfirmationCooldown(ctx, p.Role, p.PublicID, s.now(), s.opts.ConfirmCooldown)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrSentRecently
	}
	link, err := s.tokens.signConfirm(p)
	if err != nil {
		return err
	}
	u := s.opts.PublicURL + "/auth/confirm?token=" + url.QueryEscape(link)
	return s.mailer.Send(ctx, pkgmail.Message{
		To:      p.Email,
		Subject: "Confirm your email",
		Text:    fmt.Sprintf("Hello %s,\n\nconfirm your email address: %s\n", p.Name, u),
		HTML:    fmt.Sprintf(`<p>Hello %s,</p><p><a href="%s">Confirm your email address</a></p>`, p.Name, u),
	})
}

// Login authenticates by email and password.
// Order: IP throttle, lookup, lock gate, provider and confirmation gates, password check.
func (s *AuthServiceImpl) Login(ctx context.Context, in LoginInput) (model.Tokens, *model.Principal, error) {
	role := model.RoleUser
	if in.IsAdmin {
		role = model.RoleAdmin
	}
	ipHash := limiter.HashIP(in.IP)

	allowed, _, err := s.lim.Allow(ctx, ipHash)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if !allowed {
		return model.Tokens{}, nil, errs.New(errs.ErrRateLimited, "too many login attempts, try again later")
	}

	p, err := s.store.GetByEmail(ctx, role, normalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			if s.dummyHash != "" {
				s.hasher.Verify(in.Password, s.dummyHash)
			}
			s.ipFailure(ctx, ipHash)
			return model.Tokens{}, nil, errs.ErrInvalidCredentials
		}
		return model.Tokens{}, nil, err
	}

	if d := s.opts.Policy.Check(p, s.now()); !d.Allowed {
		return model.Tokens{}, nil, errs.Locked(d.Remaining)
	}
	if !p.HasPassword() {
		return model.Tokens{}, nil, errs.ErrExternalProviderOnly
	}
	if !p.IsEmailConfirmed {
		return model.Tokens{}, nil, errs.ErrEmailNotConfirmed
	}

	if !s.hasher.Verify(in.Password, *p.PasswordHash) {
		s.ipFailure(ctx, ipHash)
		return model.Tokens{}, nil, s.recordFailure(ctx, p)
	}

	if s.opts.Policy.NeedsReset(p) {
		if err := s.store.ResetLoginFailures(ctx, p.Role, p.PublicID); err != nil {
			return model.Tokens{}, nil, err
		}
		p.FailedLoginAttempts, p.AccountLockedUntil = 0, nil
	}
	if err := s.lim.Success(ctx, ipHash); err != nil {
		s.log.Warn("ip throttle reset failed", zap.Error(err))
	}

	tokens, err := s.tokens.IssuePair(ctx, p, in.RememberMe)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tokens, p, nil
}

func (s *AuthServiceImpl) ipFailure(ctx context.Context, ipHash []byte) {
	if _, _, err := s.lim.Failure(ctx, ipHash); err != nil {
		s.log.Warn("ip throttle failure not recorded", zap.Error(err))
	}
}

// recordFailure persists one more failed attempt. Concurrent failures for the
// same principal are serialized by compare-and-set on the previous counter.
func (s *AuthServiceImpl) recordFailure(ctx context.Context, p *model.Principal) error {
	for i := 0; i < casRetries; i++ {
		now := s.now()
		if d := s.opts.Policy.Check(p, now); !d.Allowed {
			return errs.ErrMaxFailedAttempts
		}
		out := s.opts.Policy.Failure(p, now)
		err := s.store.SaveLoginFailure(ctx, p.Role, p.PublicID, p.FailedLoginAttempts, out.Attempts, out.LockedUntil)
		if err == nil {
			if out.Locked {
				return errs.ErrMaxFailedAttempts
			}
			return errs.ErrInvalidCredentials
		}
		if !errors.Is(err, errs.ErrVersionConflict) {
			return err
		}
		if p, err = s.store.GetByPublicID(ctx, p.Role, p.PublicID); err != nil {
			return err
		}
	}
	return errs.ErrInvalidCredentials
}

// LoginExternal signs in through an external identity provider. Unknown emails
// become new, pre-confirmed users without a password.
func (s *AuthServiceImpl) LoginExternal(ctx context.Context, provider, credential string) (model.Tokens, *model.Principal, error) {
	if s.external == nil {
		return model.Tokens{}, nil, errs.New(errs.ErrNotFound, "external sign in is not enabled")
	}
	id, err := s.external.Verify(ctx, provider, credential)
	if err != nil {
		return model.Tokens{}, nil, errs.Wrap(errs.ErrUnauthorized, "invalid external credential", err)
	}
	email := normalizeEmail(id.Email)

	p, err := s.store.GetByEmail(ctx, model.RoleUser, email)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		pid, err := uuid.NewV4()
		if err != nil {
			return model.Tokens{}, nil, err
		}
		name := strings.TrimSpace(id.Name)
		if name == "" {
			name = email
		}
		p = &model.Principal{
			PublicID:         pid,
			Role:             model.RoleUser,
			Name:             name,
			Email:            email,
			IsEmailConfirmed: true,
		}
		if err := s.store.Create(ctx, p); err != nil {
			return model.Tokens{}, nil, err
		}
		s.log.Info("user created from external identity",
			zap.String("pid", pid.String()), zap.String("provider", id.Provider))
	case err != nil:
		return model.Tokens{}, nil, err
	default:
		if d := s.opts.Policy.Check(p, s.now()); !d.Allowed {
			return model.Tokens{}, nil, errs.Locked(d.Remaining)
		}
		if !p.IsEmailConfirmed {
			if err := s.store.MarkEmailConfirmed(ctx, p.Role, p.PublicID); err != nil {
				return model.Tokens{}, nil, err
			}
			p.IsEmailConfirmed = true
		}
	}

	tokens, err := s.tokens.IssuePair(ctx, p, false)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tokens, p, nil
}

// Refresh reissues an access token.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	return s.tokens.RefreshAccessToken(ctx, refreshToken)
}

// Logout revokes the refresh token of the principal.
func (s *AuthServiceImpl) Logout(ctx context.Context, role model.Role, pid uuid.UUID) error {
	if err := s.tokens.Revoke(ctx, role, pid); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}
	return nil
}

// ForgotPassword claims the reset window and emails the link. If the mail
// cannot be sent the window is released so the user may retry at once.
func (s *AuthServiceImpl) ForgotPassword(ctx context.Context, email string, role model.Role) error {
	p, err := s.store.GetByEmail(ctx, role, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}

	now := s.now()
	windowEnd := now.Add(s.tokens.ttl.Reset).Truncate(time.Second)
	ok, err := s.store.ClaimResetCooldown(ctx, p.Role, p.PublicID, now, windowEnd)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrSentRecently
	}

	if err := s.sendReset(ctx, p, windowEnd); err != nil {
		if rerr := s.store.ReleaseResetCooldown(context.WithoutCancel(ctx), p.Role, p.PublicID); rerr != nil {
			s.log.Error("reset window not released", zap.String("pid", p.PublicID.String()), zap.Error(rerr))
		}
		return err
	}
	return nil
}

func (s *AuthServiceImpl) sendReset(ctx context.Context, p *model.Principal, windowEnd time.Time) error {
	link, err := s.tokens.signReset(p, windowEnd)
	if err != nil {
		return err
	}
	u := s.opts.PublicURL + "/auth/reset-password?token=" + url.QueryEscape(link)
	return s.mailer.Send(ctx, pkgmail.Message{
		To:      p.Email,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Hello %s,\n\nreset your password within the hour: %s\n", p.Name, u),
		HTML:    fmt.Sprintf(`<p>Hello %s,</p><p><a href="%s">Reset your password</a> within the hour.</p>`, p.Name, u),
	})
}

// ResetPassword consumes the reset window opened by ForgotPassword.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	link, err := s.tokens.parseLink(resetToken, token.KindReset)
	if err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.ConsumeReset(ctx, link.role, link.pid, hash, link.expires, s.now()); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrMalformedToken
		}
		return err
	}
	return nil
}

// ConfirmEmail applies a confirmation link.
func (s *AuthServiceImpl) ConfirmEmail(ctx context.Context, confirmToken string) error {
	link, err := s.tokens.parseLink(confirmToken, token.KindConfirm)
	if err != nil {
		return err
	}
	if err := s.store.MarkEmailConfirmed(ctx, link.role, link.pid); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}
	return nil
}

// ResendConfirmation emails a new confirmation link.
func (s *AuthServiceImpl) ResendConfirmation(ctx context.Context, email string) error {
	p, err := s.store.GetByEmail(ctx, model.RoleUser, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}
	if p.IsEmailConfirmed {
		return errs.New(errs.ErrBadRequest, "email is already confirmed")
	}
	return s.sendConfirmation(ctx, p)
}

// ChangePassword updates the caller's own password.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, caller *token.Claims, in ChangePasswordInput) error {
	callerPID, err := caller.PublicID()
	if err != nil {
		return errs.ErrInvalidToken
	}
	role, err := caller.Role()
	if err != nil {
		return errs.ErrInvalidToken
	}
	if in.PID != callerPID {
		return errs.New(errs.ErrForbidden, "cannot change another user's password")
	}

	p, err := s.store.GetByPublicID(ctx, role, callerPID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}
	if !p.HasPassword() {
		return errs.ErrExternalProviderOnly
	}
	if !s.hasher.Verify(in.CurrentPassword, *p.PasswordHash) {
		return errs.ErrWrongPassword
	}
	if err := validatePassword(in.NewPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, role, callerPID, hash)
}

// EnsureAdmin creates a confirmed admin with the given credentials unless the email exists.
func (s *AuthServiceImpl) EnsureAdmin(ctx context.Context, name, email, password string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return errs.New(errs.ErrBadRequest, "invalid admin email")
	}
	if _, err := s.store.GetByEmail(ctx, model.RoleAdmin, email); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	pid, err := uuid.NewV4()
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if name == "" {
		name = "admin"
	}
	err = s.store.Create(ctx, &model.Principal{
		PublicID:         pid,
		Role:             model.RoleAdmin,
		Name:             name,
		Email:            email,
		PasswordHash:     &hash,
		IsEmailConfirmed: true,
	})
	if errors.Is(err, errs.ErrAlreadyExists) {
		return nil
	}
	if err == nil {
		s.log.Info("bootstrap admin created", zap.String("pid", pid.String()))
	}
	return err
}

// SoftDeleteUser marks a user deleted.
func (s *AuthServiceImpl) SoftDeleteUser(ctx context.Context, pid uuid.UUID) error {
	if err := s.store.SoftDelete(ctx, model.RoleUser, pid); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}
	return nil
}

// RestoreUser restores a soft-deleted user.
func (s *AuthServiceImpl) RestoreUser(ctx context.Context, pid uuid.UUID) error {
	if _, err := s.store.GetDeletedByPublicID(ctx, model.RoleUser, pid); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}
	if err := s.store.Restore(ctx, model.RoleUser, pid); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrPrincipalNotFound
		}
		return err
	}
	return nil
}
