package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/fin-keeper/internal/errs"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

var kindStatus = []struct {
	kind   error
	status int
}{
	{errs.ErrUnauthorized, http.StatusUnauthorized},
	{errs.ErrForbidden, http.StatusForbidden},
	{errs.ErrNotFound, http.StatusNotFound},
	{errs.ErrBadRequest, http.StatusBadRequest},
	{errs.ErrAlreadyExists, http.StatusBadRequest},
	{errs.ErrVersionConflict, http.StatusConflict},
	{errs.ErrRateLimited, http.StatusTooManyRequests},
	{errs.ErrAborted, http.StatusInternalServerError},
}

// statusOf maps an error to its HTTP status. The kind of an *errs.Error wins over its cause.
func statusOf(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var e *errs.Error
	if errors.As(err, &e) {
		for _, ks := range kindStatus {
			if e.Kind == ks.kind {
				return ks.status
			}
		}
	}
	for _, ks := range kindStatus {
		if errors.Is(err, ks.kind) {
			return ks.status
		}
	}
	return http.StatusInternalServerError
}

// writeError aborts the request with the mapped status. Internal causes are logged, not returned.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	code := statusOf(err)
	msg := errs.Message(err)

	switch {
	case code == http.StatusGatewayTimeout:
		msg = "request timed out"
	case code >= http.StatusInternalServerError && !errors.Is(err, errs.ErrAborted):
		msg = "internal error"
	}

	if code >= http.StatusInternalServerError {
		fields := []zap.Field{
			zap.String("route", c.FullPath()),
			zap.String("request_id", RequestIDFromCtx(c.Request.Context())),
			zap.Error(err),
		}
		var e *errs.Error
		if errors.As(err, &e) && e.Cause != nil {
			fields = append(fields, zap.NamedError("cause", e.Cause))
		}
		log.Error("request failed", fields...)
	}
	c.AbortWithStatusJSON(code, errorBody{StatusCode: code, Message: msg})
}

// bindJSON decodes and validates the body, answering 400 on failure.
func bindJSON(c *gin.Context, log *zap.Logger, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, log, errs.Wrap(errs.ErrBadRequest, "invalid request body", err))
		return false
	}
	return true
}
