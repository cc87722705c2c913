package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/department-iam/internal/infra/security"
)

type stubParser struct {
	claims *security.AccessTokenClaims
	err    error
	seen   string
}

func (s *stubParser) ParseAccessToken(raw string) (*security.AccessTokenClaims, error) {
	s.seen = raw
	return s.claims, s.err
}

func newAuthRouter(parser TokenParser) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Tracing(), RequireAuth(parser))
	router.GET("/me", func(c *gin.Context) {
		id, _ := GetAuthenticatedUserID(c)
		c.String(http.StatusOK, id)
	})
	return router
}

func TestRequireAuthStoresSubject(t *testing.T) {
	parser := &stubParser{claims: &security.AccessTokenClaims{
		Email:            "a@x.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}}
	router := newAuthRouter(parser)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer  tok-123 ")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "user-1" {
		t.Fatalf("expected subject in context, got %q", rr.Body.String())
	}
	if parser.seen != "tok-123" {
		t.Fatalf("expected trimmed token, got %q", parser.seen)
	}
}

func TestRequireAuthRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		status int
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer abc", err: security.ErrInvalidAccessToken, status: http.StatusUnauthorized},
		{name: "parser failure", header: "Bearer abc", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newAuthRouter(&stubParser{err: tc.err})
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if rr.Header().Get(TraceIDHeader) == "" {
				t.Fatalf("expected trace id header on rejection")
			}
		})
	}
}
