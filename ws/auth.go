package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// CookieName is the cookie carrying the access token. Browsers cannot
// set custom headers on websocket upgrades, so the cookie is the
// primary transport; a bearer header works for non-browser clients.
const CookieName = "access_token"

// Claims are the token claims the hub cares about.
type Claims struct {
	UserID         int64  `json:"user_id"`
	OrganizationID int64  `json:"organization_id"`
	Email          string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier validates an access token and returns its claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// TokenVerifier verifies HS256-signed access tokens.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty signing secret", ErrInvalidToken)
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

// Verify parses the token, rejecting any signing method other than the
// configured HMAC family.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 || claims.OrganizationID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Blacklist answers whether a token has been revoked before its natural
// expiry (logout, forced session kill).
type Blacklist interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisBlacklist checks revocations against redis. Entries are written
// by the auth service with a TTL matching the token expiry.
type RedisBlacklist struct {
	client redis.UniversalClient
}

func NewRedisBlacklist(client redis.UniversalClient) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := b.client.Exists(ctx, "token:blacklist:"+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return n > 0, nil
}

// tokenFromRequest extracts the access token from the cookie or, for
// non-browser clients, the Authorization header.
func tokenFromRequest(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			return token, nil
		}
	}
	return "", ErrMissingToken
}

// displayName derives the name shown to other users: the email local
// part when available, otherwise a numbered fallback.
func displayName(email string, userID int64) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return fmt.Sprintf("Bruker %d", userID)
}
