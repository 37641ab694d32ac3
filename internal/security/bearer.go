package security

import (
	"errors"
	"strings"
)

// Authorization header errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrAuthorizationFormat  = errors.New("invalid authorization format")
	ErrEmptyToken           = errors.New("empty token")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthorization
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return "", ErrAuthorizationFormat
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}
