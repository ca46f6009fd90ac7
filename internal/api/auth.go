package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt"

	"github.com/chatrealm/chatrealm/internal/types"
)

// Tokens are issued by the companion identity service; this server only
// verifies them. The HMAC signing key is shared configuration.

const tokenCookieKey = "token"

const (
	userIdClaim      = "user_id"
	usernameClaim    = "username"
	avatarStyleClaim = "avatar_style"
	avatarColorClaim = "avatar_color"
)

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, u types.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFrom(ctx context.Context) (types.User, bool) {
	u, ok := ctx.Value(userKey).(types.User)
	return u, ok
}

// extractToken reads the bearer token from the session cookie, falling
// back to the "token" query parameter for websocket clients that cannot
// set cookies cross-origin.
func extractToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if tok := r.URL.Query().Get(tokenCookieKey); tok != "" {
		return tok, nil
	}

	return "", fmt.Errorf("no token in request")
}

func (s *Server) userFromToken(r *http.Request) (types.User, error) {
	tokenString, err := extractToken(r)
	if err != nil {
		return types.User{}, err
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	username, ok := claims[usernameClaim].(string)
	if !ok || username == "" {
		return types.User{}, fmt.Errorf("invalid username claim")
	}

	u := types.User{
		Id:       userId,
		Username: username,
	}
	if style, ok := claims[avatarStyleClaim].(string); ok {
		u.AvatarStyle = style
	}
	if color, ok := claims[avatarColorClaim].(string); ok {
		u.AvatarColor = color
	}

	return u, nil
}
