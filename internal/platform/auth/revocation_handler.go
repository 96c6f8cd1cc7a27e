package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type revokeUserRequest struct {
	UserID string `json:"user_id"`
}

type revocationListResponse struct {
	Count   int              `json:"count"`
	Entries []RevocationInfo `json:"entries"`
}

// RegisterRevocationRoutes mounts logout for any signed-in caller and token
// revocation management for admins.
func RegisterRevocationRoutes(g *echo.Group, store *TokenRevocationStore) {
	a := g.Group("/auth")
	a.POST("/logout", handleLogout(store), RequireAuthenticated())

	admin := a.Group("", RequireRole(RoleAdmin))
	admin.POST("/revoke", handleRevokeToken(store))
	admin.POST("/revoke-user", handleRevokeUser(store))
	admin.GET("/revocations", handleListRevocations(store))
}

// handleLogout revokes the token the request was made with. With ?all=true,
// or when the token carries no jti, every token issued to the caller so far
// is revoked.
func handleLogout(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID := UserIDFromContext(ctx)
		tok, ok := TokenFromContext(ctx)
		if c.QueryParam("all") == "true" || !ok {
			store.RevokeUser(userID, time.Now())
			return c.NoContent(http.StatusNoContent)
		}
		store.Revoke(tok.ID, userID, tok.ExpiresAt)
		return c.NoContent(http.StatusNoContent)
	}
}

func handleRevokeToken(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeTokenRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.JTI == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "jti is required")
		}
		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = time.Now().Add(time.Hour)
		}
		store.Revoke(req.JTI, req.UserID, req.ExpiresAt)
		return c.NoContent(http.StatusNoContent)
	}
}

func handleRevokeUser(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeUserRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.UserID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
		}
		store.RevokeUser(req.UserID, time.Now())
		return c.NoContent(http.StatusNoContent)
	}
}

func handleListRevocations(store *TokenRevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := store.Entries()
		return c.JSON(http.StatusOK, revocationListResponse{Count: len(entries), Entries: entries})
	}
}
