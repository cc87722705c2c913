package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/transport/http/middleware"
)

// ErrorResponse is the body of every non-2xx response written by handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse attaches the request's trace id to msg.
func NewErrorResponse(c *gin.Context, msg string) ErrorResponse {
	return ErrorResponse{Error: msg, TraceID: middleware.GetTraceID(c)}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary is the public view of an account.
type UserSummary struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	FirstName            string `json:"first_name,omitempty"`
	LastName             string `json:"last_name,omitempty"`
	EmailConfirmed       bool   `json:"email_confirmed"`
	TwoFactorEnabled     bool   `json:"two_factor_enabled"`
	AuthenticatorEnabled bool   `json:"authenticator_enabled"`
}

func newUserSummary(u domain.User) *UserSummary {
	if u.ID == "" {
		return nil
	}
	return &UserSummary{
		ID:                   u.ID,
		Email:                u.Email,
		FirstName:            u.FirstName,
		LastName:             u.LastName,
		EmailConfirmed:       u.EmailConfirmed,
		TwoFactorEnabled:     u.TwoFactorEnabled,
		AuthenticatorEnabled: u.AuthenticatorEnabled,
	}
}

// LoginRequest carries primary credentials.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is an issued access/refresh pair.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenResponse(p domain.TokenPair) *TokenResponse {
	return &TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        p.ExpiresInSeconds,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// SessionResponse is returned by sign-in steps. Either Tokens is set or a
// second factor is pending and StepUpToken must be presented to /2fa/verify.
type SessionResponse struct {
	RequiresTwoFactor bool           `json:"requires_two_factor"`
	Channel           string         `json:"channel,omitempty"`
	StepUpToken       string         `json:"step_up_token,omitempty"`
	Tokens            *TokenResponse `json:"tokens,omitempty"`
	User              *UserSummary   `json:"user,omitempty"`
}

func newSessionResponse(o domain.SessionOutcome) SessionResponse {
	resp := SessionResponse{
		RequiresTwoFactor: o.RequiresTwoFactor,
		StepUpToken:       o.StepUpToken,
		User:              newUserSummary(o.User),
	}
	if o.Channel != "" {
		resp.Channel = o.Channel.String()
	}
	if o.Tokens != nil {
		resp.Tokens = newTokenResponse(*o.Tokens)
	}
	return resp
}

// TwoFactorVerifyRequest completes a pending step-up challenge.
type TwoFactorVerifyRequest struct {
	Email       string `json:"email" binding:"required"`
	StepUpToken string `json:"step_up_token" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Channel     string `json:"channel" binding:"required"`
}

// TwoFactorResendRequest asks for a new emailed code.
type TwoFactorResendRequest struct {
	Email       string `json:"email" binding:"required"`
	StepUpToken string `json:"step_up_token" binding:"required"`
}

// RefreshTokenRequest carries an opaque refresh token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RevokeResponse reports whether an active token was revoked by this call.
type RevokeResponse struct {
	Revoked bool `json:"revoked"`
}

// RegistrationRequest creates an account.
type RegistrationRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ConfirmEmailRequest redeems a confirmation token.
type ConfirmEmailRequest struct {
	Email string `json:"email" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// ResendConfirmationRequest asks for a new confirmation mail.
type ResendConfirmationRequest struct {
	Email string `json:"email" binding:"required"`
}

// AuthenticatorSetupResponse carries the enrollment material for an authenticator app.
type AuthenticatorSetupResponse struct {
	ProvisioningURI string `json:"provisioning_uri"`
	ManualEntryKey  string `json:"manual_entry_key"`
}

// AuthenticatorCodeRequest carries a TOTP code.
type AuthenticatorCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// RolesResponse lists role names.
type RolesResponse struct {
	Roles []string `json:"roles"`
}

// DepartmentResponse is the caller's effective department.
type DepartmentResponse struct {
	DepartmentID   *string `json:"department_id"`
	DepartmentName string  `json:"department_name"`
	IsSuperAdmin   bool    `json:"is_super_admin"`
}

// PermissionsResponse lists distinct permission names.
type PermissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// PageResponse is a page with the caller's permissions on it.
type PageResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	DisplayOrder int      `json:"display_order"`
	Permissions  []string `json:"permissions"`
}

func newPageResponses(pages []domain.PageAccess) []PageResponse {
	out := make([]PageResponse, 0, len(pages))
	for _, p := range pages {
		out = append(out, PageResponse{
			ID:           p.PageID,
			Name:         p.Name,
			URL:          p.URL,
			DisplayOrder: p.DisplayOrder,
			Permissions:  p.Permissions,
		})
	}
	return out
}

// PagesResponse lists accessible pages.
type PagesResponse struct {
	Pages []PageResponse `json:"pages"`
}

// PageCheckResponse answers a page permission check.
type PageCheckResponse struct {
	URL        string `json:"url"`
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// MenuNodeResponse is one feature of the navigation tree.
type MenuNodeResponse struct {
	FeatureID    string             `json:"feature_id"`
	Name         string             `json:"name"`
	Icon         string             `json:"icon,omitempty"`
	DisplayOrder int                `json:"display_order"`
	Children     []MenuNodeResponse `json:"children"`
	Pages        []PageResponse     `json:"pages"`
}

func newMenuResponse(nodes []domain.MenuNode) []MenuNodeResponse {
	out := make([]MenuNodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, MenuNodeResponse{
			FeatureID:    n.FeatureID,
			Name:         n.Name,
			Icon:         n.Icon,
			DisplayOrder: n.DisplayOrder,
			Children:     newMenuResponse(n.Children),
			Pages:        newPageResponses(n.Pages),
		})
	}
	return out
}

// MenuResponse is the caller's navigation tree.
type MenuResponse struct {
	Menu []MenuNodeResponse `json:"menu"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
