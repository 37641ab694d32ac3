// Package util holds small helpers shared by the HTTP and service layers.
package util

import (
	"net/url"
	"strings"
)

// MaskSecret hides the middle of a secret or secret reference, keeping a
// short prefix and suffix so operators can tell values apart.
func MaskSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	n := len(secret)
	switch {
	case n > 8:
		return secret[:4] + "..." + secret[n-4:]
	case n > 4:
		return secret[:2] + "..." + secret[n-2:]
	case n > 2:
		return secret[:1] + "..." + secret[n-1:]
	default:
		return secret
	}
}

// MaskSensitiveQuery masks token, secret and key parameters of a raw query string.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		key, value, _ := strings.Cut(part, "=")
		decodedKey, errKey := url.QueryUnescape(key)
		if errKey != nil {
			decodedKey = key
		}
		if !isSensitiveParam(decodedKey) {
			continue
		}
		decodedValue, errValue := url.QueryUnescape(value)
		if errValue != nil {
			decodedValue = value
		}
		parts[i] = key + "=" + url.QueryEscape(MaskSecret(decodedValue))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

func isSensitiveParam(key string) bool {
	key = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), "[]")
	if key == "" {
		return false
	}
	if key == "key" || strings.Contains(key, "api-key") || strings.Contains(key, "apikey") || strings.Contains(key, "api_key") {
		return true
	}
	return strings.Contains(key, "token") || strings.Contains(key, "secret")
}
