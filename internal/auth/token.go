// ABOUTME: Observer API tokens: HS256 JWTs bound to this server's issuer and audience.
// ABOUTME: Minted offline by the admin CLI from the shared secret, verified on every /api request.

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer and Audience pin tokens to this server. A token minted for another
// service with the same secret still fails verification here.
const (
	Issuer   = "daisy-mcp"
	Audience = "daisy-observer"
)

// Token errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrWrongAudience = errors.New("token not minted for the observer api")
)

// ObserverClaims is the payload carried by observer tokens. The subject is
// the observer id shown in audit logs.
type ObserverClaims struct {
	jwt.RegisteredClaims
}

// TokenVerifier authenticates observer API requests.
type TokenVerifier interface {
	Verify(tokenString string) (observerID string, err error)
}

// JWTVerifier implements TokenVerifier with HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the given shared secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates signature, expiry, issuer, and audience, and returns the
// observer id from the subject claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims ObserverClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
			return "", ErrWrongAudience
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Generate mints a token for the given observer id, expiring after expiresIn.
func (v *JWTVerifier) Generate(observerID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := ObserverClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			Subject:   observerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
