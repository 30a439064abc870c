package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/limiter"
	pkgmail "github.com/and161185/fin-keeper/internal/mail"
	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/repository"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Principal

	getErr error
	// conflictOnce simulates a concurrent failed login landing between read and write.
	conflictOnce bool
	saveCalls    int
}

var _ repository.PrincipalRepository = (*fakeStore)(nil)

func newFakeStore() *fakeStore { return &fakeStore{rows: map[uuid.UUID]*model.Principal{}} }

func (f *fakeStore) put(p *model.Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows[p.PublicID] = &cp
}

func (f *fakeStore) row(pid uuid.UUID) *model.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.rows[pid]
	return &cp
}

func (f *fakeStore) find(role model.Role, live bool, match func(*model.Principal) bool) (*model.Principal, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, p := range f.rows {
		if p.Role == role && (p.DeletedAt == nil) == live && match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeStore) live(role model.Role, pid uuid.UUID) (*model.Principal, error) {
	p, ok := f.rows[pid]
	if !ok || p.Role != role || p.DeletedAt != nil {
		return nil, errs.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) Create(_ context.Context, p *model.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.Role == p.Role && (r.Email == p.Email || (p.Phone != nil && r.Phone != nil && *r.Phone == *p.Phone)) {
			return errs.ErrAlreadyExists
		}
	}
	p.ID = int64(len(f.rows) + 1)
	p.CreatedAt = time.Now()
	cp := *p
	f.rows[p.PublicID] = &cp
	return nil
}

func (f *fakeStore) GetByEmail(_ context.Context, role model.Role, email string) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(role, true, func(p *model.Principal) bool { return p.Email == email })
}

func (f *fakeStore) GetByPhone(_ context.Context, role model.Role, phone string) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(role, true, func(p *model.Principal) bool { return p.Phone != nil && *p.Phone == phone })
}

func (f *fakeStore) GetByPublicID(_ context.Context, role model.Role, pid uuid.UUID) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(role, true, func(p *model.Principal) bool { return p.PublicID == pid })
}

func (f *fakeStore) GetDeletedByPublicID(_ context.Context, role model.Role, pid uuid.UUID) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(role, false, func(p *model.Principal) bool { return p.PublicID == pid })
}

func (f *fakeStore) SaveLoginFailure(
	_ context.Context, role model.Role, pid uuid.UUID, prev, attempts int, lockedUntil *time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	if f.conflictOnce {
		f.conflictOnce = false
		p.FailedLoginAttempts++
	}
	if p.FailedLoginAttempts != prev {
		return errs.ErrVersionConflict
	}
	p.FailedLoginAttempts, p.AccountLockedUntil = attempts, lockedUntil
	return nil
}

func (f *fakeStore) ResetLoginFailures(_ context.Context, role model.Role, pid uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	p.FailedLoginAttempts, p.AccountLockedUntil = 0, nil
	return nil
}

func (f *fakeStore) SetRefreshTokenHash(_ context.Context, role model.Role, pid uuid.UUID, hash *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	p.RefreshTokenHash = hash
	return nil
}

func (f *fakeStore) UpdatePassword(_ context.Context, role model.Role, pid uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	p.PasswordHash, p.PasswordResetTokenExpires = &hash, nil
	return nil
}

func (f *fakeStore) MarkEmailConfirmed(_ context.Context, role model.Role, pid uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	p.IsEmailConfirmed = true
	return nil
}

func (f *fakeStore) ClaimConfirmationCooldown(
	_ context.Context, role model.Role, pid uuid.UUID, now time.Time, cooldown time.Duration,
) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return false, nil
	}
	if p.ConfirmationSentAt != nil && p.ConfirmationSentAt.After(now.Add(-cooldown)) {
		return false, nil
	}
	p.ConfirmationSentAt = &now
	return true, nil
}

func (f *fakeStore) ClaimResetCooldown(_ context.Context, role model.Role, pid uuid.UUID, now, until time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return false, nil
	}
	if p.PasswordResetTokenExpires != nil && p.PasswordResetTokenExpires.After(now) {
		return false, nil
	}
	p.PasswordResetTokenExpires = &until
	return true, nil
}

func (f *fakeStore) ReleaseResetCooldown(_ context.Context, role model.Role, pid uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	p.PasswordResetTokenExpires = nil
	return nil
}

func (f *fakeStore) ConsumeReset(
	_ context.Context, role model.Role, pid uuid.UUID, hash string, windowEnd, now time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	exp := p.PasswordResetTokenExpires
	if exp == nil || !exp.Equal(windowEnd) || !exp.After(now) {
		return errs.ErrNotFound
	}
	p.PasswordHash = &hash
	p.PasswordResetTokenExpires, p.RefreshTokenHash = nil, nil
	p.FailedLoginAttempts, p.AccountLockedUntil = 0, nil
	return nil
}

func (f *fakeStore) SoftDelete(_ context.Context, role model.Role, pid uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.live(role, pid)
	if err != nil {
		return err
	}
	now := time.Now()
	p.DeletedAt, p.RefreshTokenHash = &now, nil
	return nil
}

func (f *fakeStore) Restore(_ context.Context, role model.Role, pid uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[pid]
	if !ok || p.Role != role || p.DeletedAt == nil {
		return errs.ErrNotFound
	}
	p.DeletedAt = nil
	return nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return false, 0, nil
}

type fakeMailer struct {
	sent []pkgmail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg pkgmail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// lastLinkToken extracts the token query parameter from the last mail's text.
func (m *fakeMailer) lastLinkToken() (string, error) {
	if len(m.sent) == 0 {
		return "", errors.New("no mail sent")
	}
	text := m.sent[len(m.sent)-1].Text
	i := strings.Index(text, "http")
	if i < 0 {
		return "", errors.New("no link")
	}
	raw := strings.Fields(text[i:])[0]
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Query().Get("token"), nil
}

// countingHasher records how often Verify was called.
type countingHasher struct {
	inner interface {
		Hash(string) (string, error)
		Verify(string, string) bool
	}
	verifyCalls int
}

func (h *countingHasher) Hash(s string) (string, error) { return h.inner.Hash(s) }
func (h *countingHasher) Verify(s, hash string) bool {
	h.verifyCalls++
	return h.inner.Verify(s, hash)
}
