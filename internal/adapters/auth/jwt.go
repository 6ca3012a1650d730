package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNoSubject       = errors.New("token carries no user id")
)

// Claims accepts the user id either as the standard subject or as a user_id claim.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens and resolves them to a user id.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewJWTAuthenticator(secret, issuer string, ttl time.Duration) *JWTAuthenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

func (a *JWTAuthenticator) Authenticate(tokenString string) (domain.UserID, error) {
	if tokenString == "" {
		return "", ErrUnauthenticated
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	raw := claims.Subject
	if raw == "" {
		raw = claims.UserID
	}
	if raw == "" {
		return "", ErrNoSubject
	}
	user, err := domain.ParseUserID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return user, nil
}

// Issue signs a token for user. Used by the softphone and by tests.
func (a *JWTAuthenticator) Issue(user domain.UserID) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}
