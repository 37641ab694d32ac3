package learning

import (
	"errors"
	"strings"
)

// ErrorKind classifies a failed provider call.
type ErrorKind string

// Error kinds reported by callers or derived from provider messages.
const (
	ErrorQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	ErrorRateLimited   ErrorKind = "RATE_LIMITED"
	ErrorInvalidKey    ErrorKind = "INVALID_KEY"
	ErrorModelNotFound ErrorKind = "MODEL_NOT_FOUND"
	ErrorTimeout       ErrorKind = "TIMEOUT"
	ErrorServerError   ErrorKind = "SERVER_ERROR"
)

// ErrInstanceNotFound indicates the instance row does not exist.
var ErrInstanceNotFound = errors.New("learning: model instance not found")

// ErrCredentialNotFound indicates the credential row does not exist.
var ErrCredentialNotFound = errors.New("learning: provider credential not found")

// ParseErrorKind maps a kind name onto ErrorKind. Unknown names become SERVER_ERROR.
func ParseErrorKind(raw string) ErrorKind {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch kind := ErrorKind(normalized); kind {
	case ErrorQuotaExceeded, ErrorRateLimited, ErrorInvalidKey, ErrorModelNotFound, ErrorTimeout, ErrorServerError:
		return kind
	default:
		return ErrorServerError
	}
}

// HealthPenalty returns the health points deducted for one failure of this kind.
func (k ErrorKind) HealthPenalty() int {
	switch k {
	case ErrorTimeout, ErrorServerError:
		return 10
	case ErrorRateLimited:
		return 15
	case ErrorQuotaExceeded:
		return 20
	case ErrorModelNotFound:
		return 25
	case ErrorInvalidKey:
		return 30
	default:
		return 10
	}
}

// Transient reports whether the kind only feeds the circuit breaker.
func (k ErrorKind) Transient() bool {
	return k == ErrorTimeout || k == ErrorServerError
}

// Rule maps a predicate over lower-cased error text onto a kind.
type Rule struct {
	Name  string
	Kind  ErrorKind
	Match func(text string) bool
}

func containsAny(phrases ...string) func(string) bool {
	return func(text string) bool {
		for _, phrase := range phrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
		return false
	}
}

// ClassificationRules are evaluated in order; the first match wins.
//
// The "rate limit" phrase is checked before the bare 429 status so that
// "Rate limit exceeded (429)" yields a short block rather than a daily one.
var ClassificationRules = []Rule{
	{Name: "rate-limit-phrase", Kind: ErrorRateLimited, Match: containsAny("rate limit", "rate-limit", "ratelimit")},
	{Name: "too-many-requests", Kind: ErrorQuotaExceeded, Match: containsAny("429", "too many requests", "quota exceeded", "insufficient_quota")},
	{Name: "invalid-key", Kind: ErrorInvalidKey, Match: containsAny("invalid api key", "invalid_api_key", "unauthorized")},
	{Name: "model-not-found", Kind: ErrorModelNotFound, Match: containsAny("model not found", "not found")},
	{Name: "timeout", Kind: ErrorTimeout, Match: containsAny("timed out", "timeout", "deadline exceeded")},
}

// ClassifyError derives an ErrorKind from a provider message and optional extra context.
func ClassifyError(message, extra string) ErrorKind {
	text := strings.ToLower(strings.TrimSpace(message + " " + extra))
	if text == "" {
		return ErrorServerError
	}
	for _, rule := range ClassificationRules {
		if rule.Match != nil && rule.Match(text) {
			return rule.Kind
		}
	}
	return ErrorServerError
}
