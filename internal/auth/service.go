package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"todochat/internal/redis"
)

var (
	// ErrInvalidToken is returned when the token fails to decode or its
	// signature does not verify against the shared secret.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token's expiry has passed.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingIdentity is returned when a verified token carries no
	// user identity claim.
	ErrMissingIdentity = errors.New("token missing user identity")
)

const redisTokenPrefix = "auth:token:"

// Claims is the verified claims set of a bearer token. Identity lives
// in user_id, falling back to the registered subject claim.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Service verifies shared-secret-signed bearer tokens. It is stateless;
// the optional redis cache only memoizes already-verified tokens until
// they expire.
type Service struct {
	secret []byte
	cache  *redis.Client
}

// NewService constructs an auth service around the shared secret.
func NewService(secret string, cache *redis.Client) *Service {
	return &Service{secret: []byte(secret), cache: cache}
}

// VerifyToken decodes and verifies the token, returning the user id it
// names. Failures are distinguished so the caller can report them:
// ErrInvalidToken, ErrExpiredToken, ErrMissingIdentity.
func (s *Service) VerifyToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", ErrInvalidToken
	}
	if userID, err := s.cache.Get(ctx, redisTokenPrefix+authToken); err == nil && userID != "" {
		return userID, nil
	}

	token, err := jwt.ParseWithClaims(authToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", ErrMissingIdentity
	}

	if claims.ExpiresAt != nil {
		if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
			_ = s.cache.Set(ctx, redisTokenPrefix+authToken, userID, ttl)
		}
	}
	return userID, nil
}
