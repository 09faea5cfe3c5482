package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskmanager/internal/model"
)

var (
	// ErrTokenExpired is returned by Verify for well-signed tokens past their expiry.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenInvalid is returned by Verify for any other verification failure.
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims represents JWT claims.
type Claims struct {
	IdentityID string     `json:"id"`
	Role       model.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and verifies HS256 identity tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service with the given secret and default token lifetime.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock returns a copy of the service that reads time from now.
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	clone := *s
	clone.now = now
	return &clone
}

// TTL returns the lifetime applied by IssueDefault.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the identity that expires ttl after issuance.
func (s *JWTService) Issue(identityID string, role model.Role, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		IdentityID: identityID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueDefault signs a token with the configured lifetime.
func (s *JWTService) IssueDefault(identityID string, role model.Role) (string, error) {
	return s.Issue(identityID, role, s.ttl)
}

// Verify validates a JWT token and returns the claims.
// Expired tokens yield ErrTokenExpired; everything else yields ErrTokenInvalid.
func (s *JWTService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		// The signature is checked before expiry, so an expired error implies an authentic token.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.IdentityID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
