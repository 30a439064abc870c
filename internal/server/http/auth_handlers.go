package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/fin-keeper/internal/errs"
	"github.com/and161185/fin-keeper/internal/model"
	"github.com/and161185/fin-keeper/internal/service"
)

type loginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	IsAdmin    bool   `json:"isAdmin"`
	RememberMe bool   `json:"rememberMe"`
}

type tokensResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) issueCookies(c *gin.Context, t model.Tokens) {
	s.setCookie(c, accessCookie, t.AccessToken, t.AccessExpiresAt)
	s.setCookie(c, refreshCookie, t.RefreshToken, t.RefreshExpiresAt)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	t, _, err := s.auth.Login(c.Request.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		IsAdmin:    req.IsAdmin,
		RememberMe: req.RememberMe,
		IP:         c.ClientIP(),
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	s.issueCookies(c, t)
	c.JSON(http.StatusOK, tokensResponse{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken})
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required"`
}

type registerResponse struct {
	PID     string `json:"pid"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	p, err := s.auth.Register(c.Request.Context(), service.RegisterInput(req))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, registerResponse{
		PID:     p.PublicID.String(),
		Email:   p.Email,
		Message: "check your email to confirm the account",
	})
}

func (s *Server) confirmEmail(c *gin.Context) {
	if err := s.auth.ConfirmEmail(c.Request.Context(), c.Query("token")); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "email confirmed"})
}

type resendRequest struct {
	Email string `json:"email" binding:"required"`
}

func (s *Server) resendConfirmation(c *gin.Context) {
	var req resendRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	if err := s.auth.ResendConfirmation(c.Request.Context(), req.Email); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "confirmation email sent"})
}

// refresh reissues the access cookie only when the current one is absent or no longer valid.
func (s *Server) refresh(c *gin.Context) {
	if raw, err := c.Cookie(accessCookie); err == nil && raw != "" {
		if _, err := s.sessions.ParseAccess(raw); err == nil {
			c.JSON(http.StatusOK, messageResponse{Message: "access token is still valid"})
			return
		}
	}
	raw, _ := c.Cookie(refreshCookie)
	t, err := s.auth.Refresh(c.Request.Context(), raw)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	s.setCookie(c, accessCookie, t.AccessToken, t.AccessExpiresAt)
	c.JSON(http.StatusOK, tokensResponse{AccessToken: t.AccessToken})
}

func (s *Server) logout(c *gin.Context) {
	p, ok := PrincipalFromCtx(c.Request.Context())
	if !ok {
		writeError(c, s.log, errs.ErrTokenNotFound)
		return
	}
	if err := s.auth.Logout(c.Request.Context(), p.Role, p.PublicID); err != nil {
		writeError(c, s.log, err)
		return
	}
	s.clearCookie(c, accessCookie)
	s.clearCookie(c, refreshCookie)
	c.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

func roleOf(isAdmin bool) model.Role {
	if isAdmin {
		return model.RoleAdmin
	}
	return model.RoleUser
}

type forgotPasswordRequest struct {
	Email   string `json:"email" binding:"required"`
	IsAdmin bool   `json:"isAdmin"`
}

func (s *Server) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	if err := s.auth.ForgotPassword(c.Request.Context(), req.Email, roleOf(req.IsAdmin)); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "reset link sent"})
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword" binding:"required"`
}

func (s *Server) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	if err := s.auth.ResetPassword(c.Request.Context(), c.Query("token"), req.NewPassword); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "password updated"})
}

type externalRequest struct {
	Provider   string `json:"provider" binding:"required"`
	Credential string `json:"credential" binding:"required"`
}

func (s *Server) loginExternal(c *gin.Context) {
	var req externalRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	t, _, err := s.auth.LoginExternal(c.Request.Context(), req.Provider, req.Credential)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	s.issueCookies(c, t)
	c.JSON(http.StatusOK, tokensResponse{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken})
}

type changePasswordRequest struct {
	PID             string `json:"pid" binding:"required"`
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

var errBadPID = errs.New(errs.ErrBadRequest, "invalid pid")

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, s.log, &req) {
		return
	}
	pid, err := uuid.FromString(req.PID)
	if err != nil {
		writeError(c, s.log, errBadPID)
		return
	}
	claims, _ := ClaimsFromCtx(c.Request.Context())
	err = s.auth.ChangePassword(c.Request.Context(), claims, service.ChangePasswordInput{
		PID:             pid,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "password updated"})
}

func (s *Server) principalParam(c *gin.Context) (uuid.UUID, bool) {
	pid, err := uuid.FromString(c.Param("pid"))
	if err != nil {
		writeError(c, s.log, errBadPID)
		return uuid.Nil, false
	}
	return pid, true
}

func (s *Server) softDeleteUser(c *gin.Context) {
	pid, ok := s.principalParam(c)
	if !ok {
		return
	}
	if err := s.auth.SoftDeleteUser(c.Request.Context(), pid); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) restoreUser(c *gin.Context) {
	pid, ok := s.principalParam(c)
	if !ok {
		return
	}
	if err := s.auth.RestoreUser(c.Request.Context(), pid); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "user restored"})
}
