package auth

import (
	"fmt"
	"time"

	"github.com/fabrixhq/fieldops/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims carries the session identity inside access and refresh tokens.
// Subject is the user id.
type TokenClaims struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies session JWTs. Access and refresh tokens use
// separate secrets so a leaked refresh secret cannot mint access tokens.
type TokenManager struct {
	accessSecret  string
	refreshSecret string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// GenerateAccessToken creates a short-lived access token carrying the user's
// username and role.
func (tm *TokenManager) GenerateAccessToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		Type:     "access",
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.accessSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// GenerateRefreshToken creates a long-lived refresh token carrying only the
// user id.
func (tm *TokenManager) GenerateRefreshToken(userID string) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		Type: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.refreshSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return tokenString, nil
}

// ValidateAccessToken verifies an access token and returns its claims.
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*TokenClaims, error) {
	return tm.validate(tokenString, "access", tm.accessSecret)
}

// ValidateRefreshToken verifies a refresh token and returns its claims.
func (tm *TokenManager) ValidateRefreshToken(tokenString string) (*TokenClaims, error) {
	return tm.validate(tokenString, "refresh", tm.refreshSecret)
}

func (tm *TokenManager) validate(tokenString, wantType, secret string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != wantType {
		return nil, fmt.Errorf("invalid token: expected %s type", wantType)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("invalid token: missing subject")
	}

	return claims, nil
}
