// Package security signs and verifies the gateway's bearer tokens.
package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every token and required on parse.
const Issuer = "ai-gateway"

// JWT validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// UserClaims identify the user whose credentials and instances a caller may touch.
type UserClaims struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// AdminClaims identify an operator allowed to run maintenance and catalog calls.
type AdminClaims struct {
	AdminID  uint64 `json:"admin_id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

func registered(expiry time.Duration) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
}

// GenerateToken signs a user JWT with the configured expiry.
func GenerateToken(secret string, userID uint64, username string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" || userID == 0 {
		return "", ErrInvalidToken
	}
	claims := UserClaims{
		UserID:           userID,
		Username:         username,
		RegisteredClaims: registered(expiry),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a user JWT and returns its claims.
func ParseToken(secret string, tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	if errParse := parse(secret, tokenString, claims); errParse != nil {
		return nil, errParse
	}
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateAdminToken signs an admin JWT with the configured expiry.
func GenerateAdminToken(secret string, adminID uint64, username string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrInvalidToken
	}
	claims := AdminClaims{
		AdminID:          adminID,
		Username:         username,
		Admin:            true,
		RegisteredClaims: registered(expiry),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAdminToken validates an admin JWT and returns its claims. User tokens
// signed with the same secret are rejected.
func ParseAdminToken(secret string, tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if errParse := parse(secret, tokenString, claims); errParse != nil {
		return nil, errParse
	}
	if !claims.Admin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func parse(secret, tokenString string, claims jwt.Claims) error {
	if strings.TrimSpace(secret) == "" {
		return ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
