// Package selector picks the best eligible model instance for a request.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/router-for-me/AIGateway/internal/settings"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxAlternatives = 4

// Request describes what the caller needs from a model.
type Request struct {
	UserID               uint64    `json:"-"`
	RequestType          string    `json:"request_type"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	QualityTier          string    `json:"quality_tier"`
	ExcludeProviders     []string  `json:"exclude_providers"`
	MinContextWindow     int       `json:"min_context_window"`
	Now                  time.Time `json:"-"`
}

// Candidate is one instance with its parent credential, catalog entry and score.
type Candidate struct {
	Instance   models.ModelInstance
	Credential models.ProviderCredential
	Definition models.ModelDefinition
	Score      float64
	Eligible   bool
}

// Result is the outcome of a selection. Success is false when nothing is eligible.
type Result struct {
	Success      bool
	Model        *Candidate
	Confidence   float64
	Warning      string
	Alternatives []Candidate
}

// Selector ranks a user's model instances. It holds no mutable state.
type Selector struct {
	db        *gorm.DB
	now       func() time.Time
	threshold func() float64
}

// Option configures a Selector.
type Option func(*Selector)

// WithClock overrides the time used when Request.Now is zero.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLowConfidenceThreshold fixes the warning threshold instead of reading settings.
func WithLowConfidenceThreshold(threshold float64) Option {
	return func(s *Selector) {
		s.threshold = func() float64 { return threshold }
	}
}

// New constructs a Selector backed by GORM.
func New(db *gorm.DB, opts ...Option) *Selector {
	s := &Selector{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
		threshold: func() float64 {
			return settings.FloatValue(settings.LowConfidenceThresholdKey, settings.DefaultLowConfidenceThreshold)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindBestModel returns the highest scoring eligible instance for the request.
// An empty candidate set is reported through Result.Success, not an error.
func (s *Selector) FindBestModel(ctx context.Context, req Request) (Result, error) {
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	candidates, errLoad := s.loadCandidates(ctx, req.UserID, now)
	if errLoad != nil {
		return Result{}, errLoad
	}

	match := newMatcher(req)
	candidates = lo.Filter(candidates, func(c Candidate, _ int) bool {
		return c.Eligible && match(&c.Definition)
	})
	if len(candidates) == 0 {
		log.WithFields(log.Fields{
			"user_id":      req.UserID,
			"request_type": req.RequestType,
			"quality_tier": req.QualityTier,
		}).Info("selector: no eligible model")
		return Result{
			Success: false,
			Warning: "no eligible model matches the request",
		}, nil
	}

	rank(candidates)

	best := candidates[0]
	result := Result{
		Success:      true,
		Model:        &best,
		Confidence:   best.Score,
		Alternatives: append([]Candidate(nil), candidates[1:min(len(candidates), maxAlternatives+1)]...),
	}
	if threshold := s.threshold(); best.Score < threshold {
		result.Warning = fmt.Sprintf("low confidence %.2f (threshold %.2f): service may be degraded", best.Score, threshold)
		log.WithFields(log.Fields{
			"user_id":     req.UserID,
			"instance_id": best.Instance.ID,
			"score":       best.Score,
		}).Warn("selector: low confidence selection")
	}
	return result, nil
}

// ScoreInstances returns every instance owned by the user with its score and
// eligibility, best first.
func (s *Selector) ScoreInstances(ctx context.Context, userID uint64, now time.Time) ([]Candidate, error) {
	if now.IsZero() {
		now = s.now()
	}
	candidates, errLoad := s.loadCandidates(ctx, userID, now)
	if errLoad != nil {
		return nil, errLoad
	}
	rank(candidates)
	return candidates, nil
}

// Eligible reports whether the instance may receive traffic at now.
func Eligible(inst *models.ModelInstance, cred *models.ProviderCredential, def *models.ModelDefinition, now time.Time) bool {
	if inst == nil || cred == nil || def == nil {
		return false
	}
	if !cred.IsActive || !def.IsActive {
		return false
	}
	if inst.Blocked(now) {
		return false
	}
	return inst.RemainingDaily > 0 && inst.RemainingMinute > 0
}

func (s *Selector) loadCandidates(ctx context.Context, userID uint64, now time.Time) ([]Candidate, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("selector: nil db")
	}
	var rows []models.ModelInstance
	errFind := s.db.WithContext(ctx).
		Joins("JOIN provider_credentials ON provider_credentials.id = model_instances.credential_id").
		Where("provider_credentials.user_id = ?", userID).
		Preload("Credential").
		Preload("Model").
		Order("model_instances.id ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("selector: load instances: %w", errFind)
	}

	candidates := make([]Candidate, 0, len(rows))
	for i := range rows {
		row := rows[i]
		if row.Credential == nil || row.Model == nil {
			continue
		}
		c := Candidate{
			Instance:   row,
			Credential: *row.Credential,
			Definition: *row.Model,
			Score:      CalculateAvailabilityScore(&row, now),
		}
		c.Instance.Credential = nil
		c.Instance.Model = nil
		c.Eligible = Eligible(&c.Instance, &c.Credential, &c.Definition, now)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// newMatcher builds the catalog-side filter for a request.
func newMatcher(req Request) func(*models.ModelDefinition) bool {
	requestType := strings.ToLower(strings.TrimSpace(req.RequestType))
	if requestType == "" {
		requestType = models.RequestTypeText
	}
	tier := strings.ToLower(strings.TrimSpace(req.QualityTier))
	excluded := lo.Map(req.ExcludeProviders, func(p string, _ int) string {
		return strings.ToLower(strings.TrimSpace(p))
	})

	return func(def *models.ModelDefinition) bool {
		if !def.ServesRequestType(requestType) {
			return false
		}
		if tier != "" && strings.ToLower(def.QualityTier) != tier {
			return false
		}
		if def.ContextWindow < req.MinContextWindow {
			return false
		}
		if lo.Contains(excluded, strings.ToLower(def.Provider)) {
			return false
		}
		return lo.EveryBy(req.RequiredCapabilities, def.HasCapability)
	}
}

// rank orders candidates by score, then quality tier, failure streak and id.
func rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := models.QualityRank(a.Definition.QualityTier), models.QualityRank(b.Definition.QualityTier); ra != rb {
			return ra > rb
		}
		if a.Instance.ConsecutiveFailures != b.Instance.ConsecutiveFailures {
			return a.Instance.ConsecutiveFailures < b.Instance.ConsecutiveFailures
		}
		return a.Instance.ID < b.Instance.ID
	})
}
