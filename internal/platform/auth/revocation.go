package auth

import (
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// userCutoffRetention bounds how long a per-user cutoff is kept. Identity
// provider ID tokens live for an hour, so anything issued before the cutoff
// has expired well within this window.
const userCutoffRetention = 24 * time.Hour

// TokenRevocationStore tracks revoked bearer tokens in memory. Single tokens
// are revoked by jti until their natural expiry; RevokeUser rejects every
// token a user was issued up to the given instant (sign out everywhere).
type TokenRevocationStore struct {
	tokens *gocache.Cache // jti -> RevocationInfo
	users  *gocache.Cache // user id -> time.Time cutoff
}

// RevocationInfo describes one revoked token.
type RevocationInfo struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenRevocationStore creates a store whose expired entries are purged
// every five minutes.
func NewTokenRevocationStore() *TokenRevocationStore {
	return &TokenRevocationStore{
		tokens: gocache.New(time.Hour, 5*time.Minute),
		users:  gocache.New(userCutoffRetention, 5*time.Minute),
	}
}

// Revoke rejects jti until expiresAt. Tokens already past expiry are ignored.
func (s *TokenRevocationStore) Revoke(jti, userID string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if jti == "" || ttl <= 0 {
		return
	}
	s.tokens.Set(jti, RevocationInfo{JTI: jti, UserID: userID, ExpiresAt: expiresAt}, ttl)
}

// RevokeUser rejects every token issued to userID at or before at.
func (s *TokenRevocationStore) RevokeUser(userID string, at time.Time) {
	s.users.SetDefault(userID, at)
}

// IsRevoked reports whether the token identified by jti, issued to userID at
// issuedAt, has been revoked. A zero issuedAt counts as issued before any
// user cutoff.
func (s *TokenRevocationStore) IsRevoked(jti, userID string, issuedAt time.Time) bool {
	if jti != "" {
		if _, ok := s.tokens.Get(jti); ok {
			return true
		}
	}
	if v, ok := s.users.Get(userID); ok {
		return !issuedAt.After(v.(time.Time))
	}
	return false
}

// Entries returns the revoked tokens ordered by expiry.
func (s *TokenRevocationStore) Entries() []RevocationInfo {
	items := s.tokens.Items()
	out := make([]RevocationInfo, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(RevocationInfo))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}
