// Package auth validates the bearer tokens that identify feed callers.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only token type the API accepts.
const TokenTypeAccess = "access"

// AccessTokenExpiry is the lifetime of tokens issued by GenerateAccessToken.
const AccessTokenExpiry = 15 * time.Minute

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUserID is returned when userID is empty.
var ErrEmptyUserID = errors.New("userID cannot be empty")

// Claims are the JWT claims of an access token. The subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// JWTService issues and validates HS256 access tokens.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// NewJWTService creates a JWTService with a single signing secret.
func NewJWTService(secret string) *JWTService {
	return NewJWTServiceWithRotation(secret, "")
}

// NewJWTServiceWithRotation creates a JWTService with dual-key support for zero-downtime rotation.
// Set previousSecret to empty string if no rotation is in progress.
func NewJWTServiceWithRotation(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// GenerateAccessToken signs an access token for userID.
func (s *JWTService) GenerateAccessToken(userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
		},
		Type: TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates an access token, returning its claims.
// The current secret is tried first, then the previous one if configured.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parse(tokenString, s.previousSecret)
	}

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	default:
		return nil, ErrInvalidToken
	}

	if claims.Type != TokenTypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
