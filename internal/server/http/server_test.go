package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
)

type testEnv struct {
	sessions *fakeSessions
	auth     *fakeAuth
	ledger   *fakeLedger
	handler  http.Handler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	sessions := newFakeSessions()
	env := &testEnv{
		sessions: sessions,
		auth: &fakeAuth{sessions: sessions, tokens: model.Tokens{
			AccessToken:      "acc",
			RefreshToken:     "ref",
			AccessExpiresAt:  testExpiry,
			RefreshExpiresAt: testExpiry,
		}},
		ledger: &fakeLedger{},
	}
	env.handler = New(env.auth, env.ledger, sessions, opts, zaptest.NewLogger(t)).Handler()
	return env
}

type reqOpt func(*http.Request)

func withCookie(name, value string) reqOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func (e *testEnv) do(method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var b errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	require.Equal(t, rec.Code, b.StatusCode)
	return b
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogin_SetsHTTPOnlyCookies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/auth/login",
		`{"email":"ann@example.com","password":"secret-pass","isAdmin":true,"rememberMe":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body tokensResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "acc", body.AccessToken)
	require.Equal(t, "ref", body.RefreshToken)

	for _, name := range []string{accessCookie, refreshCookie} {
		c := cookie(rec, name)
		require.NotNil(t, c, name)
		require.True(t, c.HttpOnly)
		require.Equal(t, "/", c.Path)
		require.Equal(t, http.SameSiteLaxMode, c.SameSite)
		require.Positive(t, c.MaxAge)
	}
	require.True(t, env.auth.loginIn.IsAdmin)
	require.True(t, env.auth.loginIn.RememberMe)
	require.NotEmpty(t, env.auth.loginIn.IP)
}

func TestLogin_ErrorsAreMapped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	env.auth.err = errs.ErrInvalidCredentials
	rec := env.do(http.MethodPost, "/auth/login", `{"email":"a@b.c","password":"x"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid credentials", decodeError(t, rec).Message)
	require.Nil(t, cookie(rec, accessCookie))

	env.auth.err = errs.Locked(29*time.Minute + time.Second)
	rec = env.do(http.MethodPost, "/auth/login", `{"email":"a@b.c","password":"x"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "30 minute")

	rec = env.do(http.MethodPost, "/auth/login", `{"email":"a@b.c"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid request body", decodeError(t, rec).Message)
}

func TestLogout_SecondCallIsUnauthorized(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	p := &model.Principal{PublicID: uuid.Must(uuid.NewV4()), Role: model.RoleUser}
	env.sessions.store("ref", p)

	rec := env.do(http.MethodPost, "/auth/logout", "", withCookie(refreshCookie, "ref"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, p.PublicID, env.auth.logoutPID)
	for _, name := range []string{accessCookie, refreshCookie} {
		c := cookie(rec, name)
		require.NotNil(t, c, name)
		require.Empty(t, c.Value)
		require.Negative(t, c.MaxAge)
	}

	rec = env.do(http.MethodPost, "/auth/logout", "", withCookie(refreshCookie, "ref"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session is no longer active", decodeError(t, rec).Message)
}

func TestLogout_WithoutCookie(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token not found", decodeError(t, rec).Message)
	require.Equal(t, uuid.Nil, env.auth.logoutPID)
}

func TestRefresh_NoOpWhileAccessValid(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.sessions.grant("live", model.RoleUser)
	env.sessions.store("ref", &model.Principal{PublicID: uuid.Must(uuid.NewV4()), Role: model.RoleUser})

	rec := env.do(http.MethodGet, "/auth/refresh", "",
		withCookie(accessCookie, "live"), withCookie(refreshCookie, "ref"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, env.auth.refreshCalls)
	require.Nil(t, cookie(rec, accessCookie))

	rec = env.do(http.MethodGet, "/auth/refresh", "",
		withCookie(accessCookie, "expired"), withCookie(refreshCookie, "ref"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.auth.refreshCalls)
	c := cookie(rec, accessCookie)
	require.NotNil(t, c)
	require.Equal(t, "acc", c.Value)
	require.Nil(t, cookie(rec, refreshCookie))
}

func TestRefresh_RevokedRefreshToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/auth/refresh", "", withCookie(refreshCookie, "gone"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session is no longer active", decodeError(t, rec).Message)
}

func TestGuard_AccessTokenChecks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.sessions.grant("user", model.RoleUser)
	env.sessions.grant("admin", model.RoleAdmin)
	env.sessions.grantPID("guest", uuid.Must(uuid.NewV4()), model.Role("guest"))
	pid := uuid.Must(uuid.NewV4()).String()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		code   int
		msg    string
	}{
		{"missing", http.MethodGet, "/account/1", "", "", http.StatusUnauthorized, "token not found"},
		{"invalid", http.MethodGet, "/account/1", "", "forged", http.StatusUnauthorized, "invalid token"},
		{"admin on ledger", http.MethodGet, "/account/1", "", "admin", http.StatusForbidden, "insufficient role"},
		{"user on admin", http.MethodDelete, "/admin/users/" + pid, "", "user", http.StatusForbidden, "insufficient role"},
		{"unknown role", http.MethodPatch, "/password/updateUser",
			`{"pid":"` + pid + `","currentPassword":"a","newPassword":"b"}`, "guest", http.StatusForbidden, "missing permission"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var opts []reqOpt
			if tc.token != "" {
				opts = append(opts, withCookie(accessCookie, tc.token))
			}
			rec := env.do(tc.method, tc.path, tc.body, opts...)
			require.Equal(t, tc.code, rec.Code)
			require.Equal(t, tc.msg, decodeError(t, rec).Message)
		})
	}
}

func TestGuard_BearerHeader(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	owner := env.sessions.grant("user", model.RoleUser)

	rec := env.do(http.MethodGet, "/account/7", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer user")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, owner, env.ledger.owner)
}

func TestChangePassword_PassesCallerClaims(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	pid := env.sessions.grant("admin", model.RoleAdmin)

	rec := env.do(http.MethodPatch, "/password/updateUser",
		`{"pid":"`+pid.String()+`","currentPassword":"old-pass1","newPassword":"new-pass1"}`,
		withCookie(accessCookie, "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pid, env.auth.changeIn.PID)
	require.Equal(t, pid.String(), env.auth.changeCaller.PID)

	rec = env.do(http.MethodPatch, "/password/updateUser",
		`{"pid":"nope","currentPassword":"a","newPassword":"b"}`, withCookie(accessCookie, "admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.auth.err = errs.ErrWrongPassword
	rec = env.do(http.MethodPatch, "/password/updateUser",
		`{"pid":"`+pid.String()+`","currentPassword":"bad","newPassword":"new-pass1"}`,
		withCookie(accessCookie, "admin"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "current password is incorrect", decodeError(t, rec).Message)
}

func TestForgotAndResetPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/auth/forgot-password", `{"email":"root@example.com","isAdmin":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.RoleAdmin, env.auth.forgotRole)

	rec = env.do(http.MethodPost, "/auth/reset-password?token=abc", `{"newPassword":"new-pass1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc", env.auth.resetToken)

	env.auth.err = errs.ErrSentRecently
	rec = env.do(http.MethodPost, "/auth/forgot-password", `{"email":"root@example.com"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, model.RoleUser, env.auth.forgotRole)
}

func TestResendConfirmation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/auth/resend-confirmation", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, env.auth.resendEmail)

	rec = env.do(http.MethodPost, "/auth/resend-confirmation", `{"email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ann@example.com", env.auth.resendEmail)

	env.auth.err = errs.ErrSentRecently
	rec = env.do(http.MethodPost, "/auth/resend-confirmation", `{"email":"ann@example.com"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "email was sent recently, try again later", decodeError(t, rec).Message)
}

func TestRegisterAndConfirm(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/auth/register",
		`{"name":"Ann","email":"ann@example.com","phone":"+100","password":"secret-pass"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ann@example.com", body.Email)
	require.Nil(t, cookie(rec, accessCookie))

	rec = env.do(http.MethodGet, "/auth/confirm?token=t", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env.auth.err = errs.New(errs.ErrBadRequest, "email is already registered")
	rec = env.do(http.MethodPost, "/auth/register",
		`{"name":"Ann","email":"ann@example.com","password":"secret-pass"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "email is already registered", decodeError(t, rec).Message)
}

func TestExternalRoute_MountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	body := `{"provider":"idp","credential":"jwt"}`

	off := newTestEnv(t, Options{})
	require.Equal(t, http.StatusNotFound, off.do(http.MethodPost, "/auth/external", body).Code)

	on := newTestEnv(t, Options{External: true})
	rec := on.do(http.MethodPost, "/auth/external", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, cookie(rec, refreshCookie))
}

func TestAdmin_SoftDeleteAndRestore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	env.sessions.grant("admin", model.RoleAdmin)
	target := uuid.Must(uuid.NewV4())

	rec := env.do(http.MethodDelete, "/admin/users/"+target.String(), "", withCookie(accessCookie, "admin"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, target, env.auth.deletedPID)

	rec = env.do(http.MethodDelete, "/admin/users/xyz", "", withCookie(accessCookie, "admin"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.auth.err = errs.ErrPrincipalNotFound
	rec = env.do(http.MethodPost, "/admin/users/"+target.String()+"/restore", "", withCookie(accessCookie, "admin"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "user not found", decodeError(t, rec).Message)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ok := newTestEnv(t, Options{})
	require.Equal(t, http.StatusOK, ok.do(http.MethodGet, "/health", "").Code)

	down := newTestEnv(t, Options{Health: func(context.Context) error { return errors.New("db down") }})
	require.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health", "").Code)
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "route not found", decodeError(t, rec).Message)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
