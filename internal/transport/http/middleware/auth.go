package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arklim/department-iam/internal/infra/security"
)

const claimsKey = "claims"

// ErrorResponse mirrors handlers.ErrorResponse for responses written by middleware.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, TraceID: GetTraceID(c)})
}

// TokenParser validates bearer access tokens.
type TokenParser interface {
	ParseAccessToken(raw string) (*security.AccessTokenClaims, error)
}

// RequireAuth rejects requests without a valid bearer access token and stores
// the token subject as the authenticated user id.
func RequireAuth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			abortWithError(c, http.StatusUnauthorized, "expected 'Bearer <token>'")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "missing access token")
			return
		}

		claims, err := parser.ParseAccessToken(token)
		if err != nil {
			if errors.Is(err, security.ErrInvalidAccessToken) {
				abortWithError(c, http.StatusUnauthorized, "invalid or expired access token")
				return
			}
			abortWithError(c, http.StatusInternalServerError, "authentication failed")
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(claimsKey, claims)
		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("enduser.id", claims.Subject))

		c.Next()
	}
}

// GetAuthenticatedUserID returns the subject stored by RequireAuth.
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// GetClaims returns the access token claims stored by RequireAuth.
func GetClaims(c *gin.Context) (*security.AccessTokenClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.AccessTokenClaims)
	return claims, ok
}
