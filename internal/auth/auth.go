package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers missing, malformed, expired and unknown tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// JWTValidator verifies HS256 tokens whose "sub" claim is the numeric user id.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator constructs a validator for the shared secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken parses and verifies token.
func (v *JWTValidator) ValidateToken(_ context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return userID, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
