package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator accepts HS256 tokens and takes the user id from the subject
// claim. Tokens are issued elsewhere.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(_ context.Context, credential string) (Identity, bool) {
	if len(v.secret) == 0 || strings.Count(credential, ".") != 2 {
		return Identity{}, false
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, false
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, false
	}
	return Identity{UserID: subject, Method: MethodJWT}, true
}
