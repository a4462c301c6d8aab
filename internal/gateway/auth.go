package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/afrintel/lms-realtime/internal/models"
)

// UserStore is the lookup the authenticator needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// Authentication failures. All of them are fatal to the connection attempt;
// the server never retries a handshake.
var (
	ErrMissingToken = errors.New("missing auth token")
	ErrInvalidToken = errors.New("invalid auth token")
)

// Authenticator verifies the bearer token presented on the WebSocket
// handshake and resolves it to a user record.
type Authenticator struct {
	secret []byte
	users  UserStore
}

// NewAuthenticator creates an authenticator for HS256-signed platform tokens.
func NewAuthenticator(secret string, users UserStore) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// Authenticate reads the token from the handshake request (the `token` query
// parameter, or an `Authorization: Bearer` header), verifies signature and
// expiry, and loads the user. Any failure rejects the connection before any
// handler is registered.
func (a *Authenticator) Authenticate(r *http.Request) (*models.User, error) {
	token := extractToken(r)
	if token == "" {
		return nil, ErrMissingToken
	}

	userID, err := a.verify(token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, "unknown user")
	}
	return user, nil
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// verify checks signature and registered claims and returns the subject.
func (a *Authenticator) verify(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	// The platform issues tokens with the user id in `userId`; older tokens
	// used the standard subject claim.
	if id, ok := claims["userId"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", ErrInvalidToken
}
