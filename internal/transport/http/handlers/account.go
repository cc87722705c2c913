package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/transport/http/middleware"
	"github.com/arklim/department-iam/internal/usecase"
)

// RegistrationService creates and confirms accounts.
type RegistrationService interface {
	Register(ctx context.Context, input usecase.RegisterInput) (domain.User, error)
	ResendConfirmation(ctx context.Context, email string) error
	ConfirmEmail(ctx context.Context, email, token string) error
}

// AuthenticatorService manages TOTP enrollment for the signed-in user.
type AuthenticatorService interface {
	Setup(ctx context.Context, userID string) (domain.AuthenticatorSetup, error)
	Enable(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID string) error
}

// AccountHandler exposes registration, email confirmation and authenticator enrollment.
type AccountHandler struct {
	registration   RegistrationService
	authenticators AuthenticatorService
}

// NewAccountHandler constructs AccountHandler.
func NewAccountHandler(registration RegistrationService, authenticators AuthenticatorService) *AccountHandler {
	return &AccountHandler{registration: registration, authenticators: authenticators}
}

// RegisterRoutes binds public account routes on r and authenticator routes behind requireAuth.
func (h *AccountHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	r.POST("/register", h.register)
	r.POST("/confirm-email", h.confirmEmail)
	r.POST("/confirmation/resend", h.resendConfirmation)

	authenticator := r.Group("/authenticator", requireAuth)
	authenticator.POST("/setup", h.setupAuthenticator)
	authenticator.POST("/enable", h.enableAuthenticator)
	authenticator.POST("/disable", h.disableAuthenticator)
}

func (h *AccountHandler) register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	user, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserSummary(user))
}

func (h *AccountHandler) confirmEmail(c *gin.Context) {
	var req ConfirmEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	if err := h.registration.ConfirmEmail(c.Request.Context(), req.Email, req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "email confirmed"})
}

// resendConfirmation answers the same way whether or not the address is known.
func (h *AccountHandler) resendConfirmation(c *gin.Context) {
	var req ResendConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	if err := h.registration.ResendConfirmation(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the address is registered, a confirmation email has been sent"})
}

func (h *AccountHandler) setupAuthenticator(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	setup, err := h.authenticators.Setup(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuthenticatorSetupResponse{
		ProvisioningURI: setup.ProvisioningURI,
		ManualEntryKey:  setup.ManualEntryKey,
	})
}

func (h *AccountHandler) enableAuthenticator(c *gin.Context) {
	var req AuthenticatorCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c)
		return
	}

	userID, _ := middleware.GetAuthenticatedUserID(c)
	if err := h.authenticators.Enable(c.Request.Context(), userID, req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "authenticator enabled"})
}

func (h *AccountHandler) disableAuthenticator(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	if err := h.authenticators.Disable(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "authenticator disabled"})
}
