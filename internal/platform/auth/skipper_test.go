package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/health/extra", false},
		{"/api/v1/alerts", false},
		{"/ws", false},
		{"/", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.path, nil), httptest.NewRecorder())
			c.SetPath(tt.path)
			if got := AuthSkipper(c); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/metrics") {
		t.Error("expected /metrics to be public")
	}
	if IsPublicPath("/api/v1/users/me") {
		t.Error("expected /api/v1/users/me to be protected")
	}
}

// newAuthServer mirrors the server wiring: auth installed globally with the
// health and metrics routes registered on the root router.
func newAuthServer(mw echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mw)
	e.GET("/health", okHandler)
	e.GET("/health/db", okHandler)
	e.GET("/metrics", okHandler)
	e.GET("/api/v1/users/me", func(c echo.Context) error {
		if UserIDFromContext(c.Request().Context()) == "" {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.String(http.StatusOK, "me")
	})
	return e
}

func TestJWTMiddleware_PublicPathsWithoutToken(t *testing.T) {
	e := newAuthServer(JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}))

	for _, path := range []string{"/health", "/health/db", "/metrics"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for protected route, got %d", rec.Code)
	}
}

func TestJWTMiddleware_NilSkipperDoesNotSkip(t *testing.T) {
	e := newAuthServer(JWTMiddleware(JWTConfig{SigningKey: testSigningKey}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a skipper, got %d", rec.Code)
	}
}

func TestDevAuthMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	e.Use(DevAuthMiddleware(AuthSkipper))
	e.GET("/metrics", func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "" {
			t.Errorf("expected no identity on a public path, got %s", uid)
		}
		return c.NoContent(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
