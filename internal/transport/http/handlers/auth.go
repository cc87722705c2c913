package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/usecase"
)

// SessionService is the sign-in surface used by AuthHandler.
type SessionService interface {
	Authenticate(ctx context.Context, email, password string) (domain.SessionOutcome, error)
	VerifyTwoFactor(ctx context.Context, input usecase.VerifyTwoFactorInput) (domain.SessionOutcome, error)
	ResendTwoFactorCode(ctx context.Context, email, stepUpToken string) error
	Refresh(ctx context.Context, token string) (domain.TokenPair, error)
	Revoke(ctx context.Context, token string) (bool, error)
}

// AuthHandler exposes sign-in, second factor and refresh token endpoints.
type AuthHandler struct {
	sessions SessionService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(sessions SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// AuthRouteGuards holds middlewares that run ahead of credential-checking handlers.
type AuthRouteGuards struct {
	Login     []gin.HandlerFunc
	TwoFactor []gin.HandlerFunc
}

// RegisterRoutes binds authentication routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, guards AuthRouteGuards) {
	r.POST("/login", withGuards(guards.Login, h.login)...)
	r.POST("/2fa/verify", withGuards(guards.TwoFactor, h.verifyTwoFactor)...)
	r.POST("/2fa/resend", h.resendTwoFactor)
	r.POST("/refresh", h.refresh)
	r.POST("/revoke", h.revoke)
}

func withGuards(guards []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(guards)+1)
	return append(append(chain, guards...), handler)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	outcome, err := h.sessions.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.RequiresTwoFactor {
		status = http.StatusAccepted
	}
	c.JSON(status, newSessionResponse(outcome))
}

func (h *AuthHandler) verifyTwoFactor(c *gin.Context) {
	var req TwoFactorVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	outcome, err := h.sessions.VerifyTwoFactor(c.Request.Context(), usecase.VerifyTwoFactorInput{
		Email:       req.Email,
		StepUpToken: req.StepUpToken,
		Code:        req.Code,
		Channel:     req.Channel,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(outcome))
}

func (h *AuthHandler) resendTwoFactor(c *gin.Context) {
	var req TwoFactorResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	if err := h.sessions.ResendTwoFactorCode(c.Request.Context(), req.Email, req.StepUpToken); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "a new code has been sent"})
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	pair, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// revoke is idempotent: an unknown or already revoked token still answers 200 with revoked=false.
func (h *AuthHandler) revoke(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	revoked, err := h.sessions.Revoke(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RevokeResponse{Revoked: revoked})
}
