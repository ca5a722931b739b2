package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"project-chat-service/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier resolves a bearer credential to an identity. It is
// consumed once per connection at the start of its lifecycle.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

type identityClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens issued by the auth service.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a JWTVerifier.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token and maps its claims to an
// Identity. The subject claim is the stable user id.
func (v *JWTVerifier) Verify(_ context.Context, token string) (models.Identity, error) {
	var claims identityClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return models.Identity{}, ErrInvalidToken
	}

	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return models.Identity{
		UserID:      claims.Subject,
		DisplayName: name,
		Email:       claims.Email,
	}, nil
}
