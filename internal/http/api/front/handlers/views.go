package handlers

import (
	"time"

	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/router-for-me/AIGateway/internal/selector"
	"github.com/router-for-me/AIGateway/internal/util"
	"github.com/samber/lo"
)

// candidateView is the JSON shape of a scored instance.
type candidateView struct {
	InstanceID   uint64  `json:"instance_id"`
	CredentialID uint64  `json:"credential_id"`
	Nickname     string  `json:"nickname,omitempty"`
	Provider     string  `json:"provider"`
	ModelID      string  `json:"model_id"`
	QualityTier  string  `json:"quality_tier"`
	Score        float64 `json:"score"`
	Eligible     bool    `json:"eligible"`

	RemainingDaily  int `json:"remaining_daily"`
	DailyQuota      int `json:"daily_quota"`
	RemainingMinute int `json:"remaining_minute"`
	MinuteQuota     int `json:"minute_quota"`

	HealthScore         int        `json:"health_score"`
	ConfidenceScore     float64    `json:"confidence_score"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	IsBlocked           bool       `json:"is_blocked"`
	BlockUntil          *time.Time `json:"block_until,omitempty"`
	BlockReason         string     `json:"block_reason,omitempty"`
	AvgLatencyMs        float64    `json:"avg_latency_ms"`
}

func newCandidateView(c selector.Candidate) candidateView {
	return candidateView{
		InstanceID:          c.Instance.ID,
		CredentialID:        c.Credential.ID,
		Nickname:            c.Credential.Nickname,
		Provider:            c.Definition.Provider,
		ModelID:             c.Definition.ModelID,
		QualityTier:         c.Definition.QualityTier,
		Score:               c.Score,
		Eligible:            c.Eligible,
		RemainingDaily:      c.Instance.RemainingDaily,
		DailyQuota:          c.Instance.DailyQuota,
		RemainingMinute:     c.Instance.RemainingMinute,
		MinuteQuota:         c.Instance.MinuteQuota,
		HealthScore:         c.Instance.HealthScore,
		ConfidenceScore:     c.Instance.ConfidenceScore,
		ConsecutiveFailures: c.Instance.ConsecutiveFailures,
		IsBlocked:           c.Instance.IsBlocked,
		BlockUntil:          c.Instance.BlockUntil,
		BlockReason:         c.Instance.BlockReason,
		AvgLatencyMs:        c.Instance.AvgLatencyMs,
	}
}

func newCandidateViews(list []selector.Candidate) []candidateView {
	return lo.Map(list, func(c selector.Candidate, _ int) candidateView { return newCandidateView(c) })
}

// credentialView is the JSON shape of a credential. Only a masked hint of the
// secret reference is returned.
type credentialView struct {
	ID                  uint64     `json:"id"`
	Provider            string     `json:"provider"`
	Nickname            string     `json:"nickname,omitempty"`
	SecretHint          string     `json:"secret_hint"`
	IsActive            bool       `json:"is_active"`
	IsBlocked           bool       `json:"is_blocked"`
	HealthScore         int        `json:"health_score"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	RequestsToday       int64      `json:"requests_today"`
	RequestsThisMonth   int64      `json:"requests_this_month"`
	TokensUsedToday     int64      `json:"tokens_used_today"`
	TokensUsedMonth     int64      `json:"tokens_used_month"`
	LastUsedAt          *time.Time `json:"last_used_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func newCredentialView(cred models.ProviderCredential) credentialView {
	return credentialView{
		ID:                  cred.ID,
		Provider:            cred.Provider,
		Nickname:            cred.Nickname,
		SecretHint:          util.MaskSecret(cred.SecretRef),
		IsActive:            cred.IsActive,
		IsBlocked:           cred.IsBlocked,
		HealthScore:         cred.HealthScore,
		ConsecutiveFailures: cred.ConsecutiveFailures,
		RequestsToday:       cred.RequestsToday,
		RequestsThisMonth:   cred.RequestsThisMonth,
		TokensUsedToday:     cred.TokensUsedToday,
		TokensUsedMonth:     cred.TokensUsedMonth,
		LastUsedAt:          cred.LastUsedAt,
		CreatedAt:           cred.CreatedAt,
	}
}
