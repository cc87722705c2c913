package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/department-iam/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// defaultCases is the usecase error table shared by every handler.
// Credential failures share one message so callers cannot tell which check failed.
var defaultCases = []ErrorCase{
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Err: usecase.ErrInvalidOrExpiredToken, Status: http.StatusUnauthorized, Message: "invalid or expired token"},
	{Err: usecase.ErrInvalidSession, Status: http.StatusUnauthorized, Message: "invalid or expired session"},
	{Err: usecase.ErrInvalidCode, Status: http.StatusBadRequest, Message: "invalid or expired code"},
	{Err: usecase.ErrInvalidUserID, Status: http.StatusBadRequest, Message: "invalid user id"},
	{Err: usecase.ErrTwoFactorChannelUnsupported, Status: http.StatusBadRequest, Message: "two-factor channel not supported for this operation"},
	{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
	{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
	{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "not found"},
	{Err: usecase.ErrRateLimited, Status: http.StatusTooManyRequests, Message: "too many requests"},
}

// RespondWithMappedError resolves err against cases, then the default table,
// falling back to fallbackStatus. Rate limits and validation errors carry their own detail.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var limited *usecase.RateLimitError
	if errors.As(err, &limited) {
		seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "too many requests"))
		return
	}
	if errors.Is(err, usecase.ErrValidation) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	for _, set := range [][]ErrorCase{cases, defaultCases} {
		for _, cs := range set {
			if cs.Err != nil && errors.Is(err, cs.Err) {
				c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
				return
			}
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "internal server error")
}

func respondBadPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
}
