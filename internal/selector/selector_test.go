package selector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/router-for-me/AIGateway/internal/db"
	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupSelectorDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

type fixture struct {
	t    *testing.T
	conn *gorm.DB
}

func (f fixture) definition(provider, modelID, tier string, mutate func(*models.ModelDefinition)) models.ModelDefinition {
	f.t.Helper()
	def := models.ModelDefinition{
		Provider:           provider,
		ModelID:            modelID,
		IsText:             true,
		QualityTier:        tier,
		IsActive:           true,
		ContextWindow:      8192,
		DefaultDailyQuota:  1500,
		DefaultMinuteQuota: 30,
	}
	if mutate != nil {
		mutate(&def)
	}
	if errCreate := f.conn.Create(&def).Error; errCreate != nil {
		f.t.Fatalf("create definition: %v", errCreate)
	}
	return def
}

func (f fixture) credential(userID uint64, provider string) models.ProviderCredential {
	f.t.Helper()
	cred := models.ProviderCredential{
		UserID:      userID,
		Provider:    provider,
		SecretRef:   fmt.Sprintf("vault:%s/%d", provider, userID),
		IsActive:    true,
		HealthScore: models.MaxHealthScore,
	}
	if errCreate := f.conn.Create(&cred).Error; errCreate != nil {
		f.t.Fatalf("create credential: %v", errCreate)
	}
	return cred
}

func (f fixture) instance(cred models.ProviderCredential, def models.ModelDefinition, mutate func(*models.ModelInstance)) models.ModelInstance {
	f.t.Helper()
	inst := models.ModelInstance{
		CredentialID:    cred.ID,
		DefinitionID:    def.ID,
		DailyQuota:      1500,
		RemainingDaily:  1500,
		MinuteQuota:     30,
		RemainingMinute: 30,
		HealthScore:     models.MaxHealthScore,
		ConfidenceScore: 1.0,
	}
	if mutate != nil {
		mutate(&inst)
	}
	if errCreate := f.conn.Create(&inst).Error; errCreate != nil {
		f.t.Fatalf("create instance: %v", errCreate)
	}
	return inst
}

func TestFindBestModelPrefersHigherScore(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	cred := f.credential(1, "groq")
	strong := f.instance(cred, f.definition("groq", "llama-70b", models.QualityTierMedium, nil), nil)
	weak := f.instance(cred, f.definition("groq", "llama-8b", models.QualityTierMedium, nil), func(m *models.ModelInstance) {
		m.HealthScore = 40
	})

	s := New(conn, WithLowConfidenceThreshold(0.3))
	result, errFind := s.FindBestModel(context.Background(), Request{UserID: 1, RequestType: models.RequestTypeText, Now: scoreNow})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	if !result.Success || result.Model == nil {
		t.Fatalf("expected a selection, got %+v", result)
	}
	if result.Model.Instance.ID != strong.ID {
		t.Fatalf("expected instance %d, got %d", strong.ID, result.Model.Instance.ID)
	}
	if result.Confidence != result.Model.Score {
		t.Fatalf("confidence %v should equal top score %v", result.Confidence, result.Model.Score)
	}
	if len(result.Alternatives) != 1 || result.Alternatives[0].Instance.ID != weak.ID {
		t.Fatalf("expected weaker instance as the only alternative, got %+v", result.Alternatives)
	}
	if result.Warning != "" {
		t.Fatalf("unexpected warning %q", result.Warning)
	}
	if result.Model.Credential.ID != cred.ID || result.Model.Definition.ModelID != "llama-70b" {
		t.Fatalf("expected credential and definition attached, got %+v", result.Model)
	}
}

func TestFindBestModelNoCandidates(t *testing.T) {
	conn := setupSelectorDB(t)
	s := New(conn)

	result, errFind := s.FindBestModel(context.Background(), Request{UserID: 42, RequestType: models.RequestTypeText, Now: scoreNow})
	if errFind != nil {
		t.Fatalf("expected no error, got %v", errFind)
	}
	if result.Success || result.Model != nil {
		t.Fatalf("expected unsuccessful result, got %+v", result)
	}
	if result.Warning == "" {
		t.Fatal("expected a warning when nothing is eligible")
	}
}

func TestFindBestModelSkipsIneligibleInstances(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	future := scoreNow.Add(time.Minute)

	active := f.credential(1, "groq")
	disabled := f.credential(1, "openai")
	if errUpdate := conn.Model(&disabled).Update("is_active", false).Error; errUpdate != nil {
		t.Fatalf("disable credential: %v", errUpdate)
	}

	f.instance(active, f.definition("groq", "no-daily", models.QualityTierHigh, nil), func(m *models.ModelInstance) { m.RemainingDaily = 0 })
	f.instance(active, f.definition("groq", "no-minute", models.QualityTierHigh, nil), func(m *models.ModelInstance) { m.RemainingMinute = 0 })
	f.instance(active, f.definition("groq", "timed-block", models.QualityTierHigh, nil), func(m *models.ModelInstance) {
		m.IsBlocked = true
		m.BlockUntil = &future
	})
	f.instance(active, f.definition("groq", "reset-block", models.QualityTierHigh, nil), func(m *models.ModelInstance) {
		m.IsBlocked = true
		m.BlockReason = models.BlockReasonQuotaExceeded
	})
	retired := f.definition("groq", "retired", models.QualityTierHigh, nil)
	if errUpdate := conn.Model(&retired).Update("is_active", false).Error; errUpdate != nil {
		t.Fatalf("retire definition: %v", errUpdate)
	}
	f.instance(active, retired, nil)
	f.instance(disabled, f.definition("openai", "gpt-4o", models.QualityTierHigh, nil), nil)
	want := f.instance(active, f.definition("groq", "usable", models.QualityTierLow, nil), func(m *models.ModelInstance) {
		m.HealthScore = 20
		m.ConfidenceScore = 0.1
	})

	s := New(conn, WithLowConfidenceThreshold(0.9))
	result, errFind := s.FindBestModel(context.Background(), Request{UserID: 1, RequestType: models.RequestTypeText, Now: scoreNow})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	if !result.Success || result.Model.Instance.ID != want.ID {
		t.Fatalf("expected only eligible instance %d, got %+v", want.ID, result.Model)
	}
	if len(result.Alternatives) != 0 {
		t.Fatalf("expected no alternatives, got %d", len(result.Alternatives))
	}
	if result.Warning == "" {
		t.Fatal("expected low confidence warning")
	}
}

func TestFindBestModelRequestFilters(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	groq := f.credential(1, "groq")
	openai := f.credential(1, "openai")

	textOnly := f.instance(groq, f.definition("groq", "llama", models.QualityTierMedium, nil), nil)
	vision := f.instance(openai, f.definition("openai", "gpt-4o", models.QualityTierHigh, func(d *models.ModelDefinition) {
		d.SupportsVision = true
		d.SupportsJSONMode = true
		d.ContextWindow = 128000
		d.Capabilities = datatypes.JSON(`["function_calling"]`)
	}), nil)
	image := f.instance(openai, f.definition("openai", "dall-e-3", models.QualityTierHigh, func(d *models.ModelDefinition) {
		d.IsText = false
		d.IsImage = true
	}), nil)

	s := New(conn)
	cases := []struct {
		name string
		req  Request
		want uint64
	}{
		{name: "image", req: Request{RequestType: models.RequestTypeImage}, want: image.ID},
		{name: "vision", req: Request{RequiredCapabilities: []string{"vision"}}, want: vision.ID},
		{name: "tag", req: Request{RequiredCapabilities: []string{"json_mode", "function_calling"}}, want: vision.ID},
		{name: "tier", req: Request{QualityTier: "medium"}, want: textOnly.ID},
		{name: "context", req: Request{MinContextWindow: 100000}, want: vision.ID},
		{name: "exclude", req: Request{ExcludeProviders: []string{"OpenAI"}}, want: textOnly.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.UserID = 1
			tc.req.Now = scoreNow
			result, errFind := s.FindBestModel(context.Background(), tc.req)
			if errFind != nil {
				t.Fatalf("find best model: %v", errFind)
			}
			if !result.Success || result.Model.Instance.ID != tc.want {
				t.Fatalf("expected instance %d, got %+v", tc.want, result.Model)
			}
		})
	}

	result, errFind := s.FindBestModel(context.Background(), Request{UserID: 1, RequiredCapabilities: []string{"audio"}, Now: scoreNow})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	if result.Success {
		t.Fatalf("expected no model for unknown capability, got %+v", result.Model)
	}
}

func TestFindBestModelTieBreaks(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	cred := f.credential(1, "groq")

	low := f.instance(cred, f.definition("groq", "low", models.QualityTierLow, nil), nil)
	high := f.instance(cred, f.definition("groq", "high", models.QualityTierHigh, nil), nil)
	failedLongAgo := scoreNow.Add(-time.Hour)
	highStreak := f.instance(cred, f.definition("groq", "high-streak", models.QualityTierHigh, nil), func(m *models.ModelInstance) {
		m.ConsecutiveFailures = 2
		m.LastFailureAt = &failedLongAgo
	})
	highLater := f.instance(cred, f.definition("groq", "high-later", models.QualityTierHigh, nil), nil)

	result, errFind := New(conn).FindBestModel(context.Background(), Request{UserID: 1, Now: scoreNow})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	got := []uint64{result.Model.Instance.ID}
	for _, alt := range result.Alternatives {
		got = append(got, alt.Instance.ID)
	}
	want := []uint64{high.ID, highLater.ID, highStreak.ID, low.ID}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
}

func TestFindBestModelCapsAlternatives(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	cred := f.credential(1, "groq")
	for i := 0; i < 7; i++ {
		f.instance(cred, f.definition("groq", fmt.Sprintf("model-%d", i), models.QualityTierMedium, nil), nil)
	}

	result, errFind := New(conn).FindBestModel(context.Background(), Request{UserID: 1, Now: scoreNow})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	if len(result.Alternatives) != 4 {
		t.Fatalf("expected 4 alternatives, got %d", len(result.Alternatives))
	}
}

func TestFindBestModelIsScopedToUser(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	def := f.definition("groq", "llama", models.QualityTierMedium, nil)
	f.instance(f.credential(1, "groq"), def, nil)
	other := f.instance(f.credential(2, "groq"), def, nil)

	result, errFind := New(conn).FindBestModel(context.Background(), Request{UserID: 2, Now: scoreNow})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	if !result.Success || result.Model.Instance.ID != other.ID || len(result.Alternatives) != 0 {
		t.Fatalf("expected only user 2's instance, got %+v", result)
	}
}

func TestBlockedInstanceReturnsAfterRefresh(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	inst := f.instance(f.credential(1, "groq"), f.definition("groq", "llama", models.QualityTierMedium, nil), nil)

	engine := learning.NewEngine(conn, learning.WithClock(func() time.Time { return scoreNow }))
	if errRecord := engine.RecordFailure(context.Background(), inst.ID, learning.ErrorRateLimited, "rate limit", nil); errRecord != nil {
		t.Fatalf("record failure: %v", errRecord)
	}

	s := New(conn)
	blocked, errFind := s.FindBestModel(context.Background(), Request{UserID: 1, Now: scoreNow.Add(30 * time.Second)})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	if blocked.Success {
		t.Fatal("rate limited instance must not be selected during its block")
	}

	later := scoreNow.Add(2 * time.Minute)
	if _, errRefresh := engine.RefreshBlockedInstances(context.Background(), later); errRefresh != nil {
		t.Fatalf("refresh blocked: %v", errRefresh)
	}
	result, errFind := s.FindBestModel(context.Background(), Request{UserID: 1, Now: later})
	if errFind != nil {
		t.Fatalf("find best model: %v", errFind)
	}
	if !result.Success || result.Model.Instance.ID != inst.ID {
		t.Fatalf("expected instance back after refresh, got %+v", result)
	}
}

func TestScoreInstancesListsIneligible(t *testing.T) {
	conn := setupSelectorDB(t)
	f := fixture{t: t, conn: conn}
	cred := f.credential(1, "groq")
	ok := f.instance(cred, f.definition("groq", "ok", models.QualityTierMedium, nil), nil)
	empty := f.instance(cred, f.definition("groq", "empty", models.QualityTierHigh, nil), func(m *models.ModelInstance) { m.RemainingDaily = 0 })

	scored, errScore := New(conn).ScoreInstances(context.Background(), 1, scoreNow)
	if errScore != nil {
		t.Fatalf("score instances: %v", errScore)
	}
	if len(scored) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(scored))
	}
	if scored[0].Instance.ID != ok.ID || !scored[0].Eligible {
		t.Fatalf("expected eligible instance first, got %+v", scored[0])
	}
	if scored[1].Instance.ID != empty.ID || scored[1].Eligible {
		t.Fatalf("expected exhausted instance last and ineligible, got %+v", scored[1])
	}
}
