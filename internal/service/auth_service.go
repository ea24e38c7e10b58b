package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes token audiences. Only proctors hold tokens; students use access codes.
type TokenType string

const TokenTypeAdmin TokenType = "admin"

const (
	tokenIssuer = "exstem-proctor"
	clockSkew   = 30 * time.Second
)

// ErrInvalidToken wraps every token rejection other than expiry.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of a proctor bearer token.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	Name      string    `json:"name"`
}

// AuthService signs and verifies HS256 proctor tokens.
type AuthService struct {
	secret []byte
	expiry time.Duration
	parser *jwt.Parser
}

func NewAuthService(secret string, expiry time.Duration) *AuthService {
	return &AuthService{
		secret: []byte(secret),
		expiry: expiry,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// GenerateAdminToken signs a token for the named proctor and returns it with its expiry.
func (s *AuthService) GenerateAdminToken(name string) (string, time.Time, error) {
	issuedAt := time.Now()
	expiresAt := issuedAt.Add(s.expiry)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: TokenTypeAdmin,
		Name:      name,
	}).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies tokenStr. Expired tokens yield an error matching
// jwt.ErrTokenExpired; everything else matches ErrInvalidToken.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
