package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/catalog"
	"github.com/router-for-me/AIGateway/internal/config"
	"github.com/router-for-me/AIGateway/internal/credential"
	"github.com/router-for-me/AIGateway/internal/db"
	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/maintenance"
	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/router-for-me/AIGateway/internal/security"
	"github.com/router-for-me/AIGateway/internal/selector"
	"gorm.io/gorm"
)

const testSecret = "router-test-secret"

const testCatalog = `
models:
  - provider: groq
    model-id: llama-3.3-70b-versatile
    text: true
    json-mode: true
    context-window: 131072
    quality-tier: high
    daily-quota: 1000
    minute-quota: 30
  - provider: groq
    model-id: llama-3.1-8b-instant
    text: true
    context-window: 131072
    quality-tier: low
    daily-quota: 14400
    minute-quota: 30
`

type testServer struct {
	router *gin.Engine
	conn   *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	defs, errParse := catalog.Parse([]byte(testCatalog))
	if errParse != nil {
		t.Fatalf("parse catalog: %v", errParse)
	}
	ctx := context.Background()
	if _, errSync := catalog.Sync(ctx, conn, defs); errSync != nil {
		t.Fatalf("sync catalog: %v", errSync)
	}
	store := catalog.NewStore()
	if errRefresh := store.Refresh(ctx, conn); errRefresh != nil {
		t.Fatalf("refresh catalog: %v", errRefresh)
	}

	engine := learning.NewEngine(conn)
	router := NewRouter(Deps{
		DB:          conn,
		JWT:         config.JWTConfig{Secret: testSecret, Expiry: time.Hour},
		Catalog:     store,
		Credentials: credential.NewService(conn, store),
		Engine:      engine,
		Selector:    selector.New(conn),
		Scheduler:   maintenance.NewScheduler(engine),
	})
	return &testServer{router: router, conn: conn}
}

func userToken(t *testing.T, userID uint64) string {
	t.Helper()
	token, errToken := security.GenerateToken(testSecret, userID, fmt.Sprintf("user-%d", userID), time.Hour)
	if errToken != nil {
		t.Fatalf("generate token: %v", errToken)
	}
	return token
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, errToken := security.GenerateAdminToken(testSecret, 1, "root", time.Hour)
	if errToken != nil {
		t.Fatalf("generate admin token: %v", errToken)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if errDecode := json.Unmarshal(rec.Body.Bytes(), &payload); errDecode != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), errDecode)
		}
	}
	return rec, payload
}

func (s *testServer) registerCredential(t *testing.T, userID uint64) uint64 {
	t.Helper()
	rec, payload := s.do(t, http.MethodPost, "/v1/credentials", userToken(t, userID), map[string]any{
		"provider":   "groq",
		"secret_ref": "env:GROQ_API_KEY",
		"nickname":   "main",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body.String())
	}
	id, _ := payload["id"].(float64)
	if id == 0 {
		t.Fatalf("register returned no id: %v", payload)
	}
	return uint64(id)
}

func (s *testServer) firstInstance(t *testing.T, credentialID uint64) models.ModelInstance {
	t.Helper()
	var inst models.ModelInstance
	if errFind := s.conn.Where("credential_id = ?", credentialID).Order("id ASC").First(&inst).Error; errFind != nil {
		t.Fatalf("load instance: %v", errFind)
	}
	return inst
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec, payload := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || payload["ok"] != true || payload["database"] != "sqlite" {
		t.Fatalf("healthz = %d %v", rec.Code, payload)
	}
}

func TestUserRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/v1/selection", "", map[string]any{"request_type": "text"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/selection", "garbage", map[string]any{"request_type": "text"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
}

func TestRegisterSelectAndReport(t *testing.T) {
	s := newTestServer(t)
	credentialID := s.registerCredential(t, 7)
	token := userToken(t, 7)

	rec, payload := s.do(t, http.MethodGet, "/v1/instances", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list instances status = %d", rec.Code)
	}
	if instances, _ := payload["instances"].([]any); len(instances) != 2 {
		t.Fatalf("instances = %v, want 2 entries", payload["instances"])
	}

	rec, payload = s.do(t, http.MethodPost, "/v1/selection", token, map[string]any{"request_type": "text"})
	if rec.Code != http.StatusOK {
		t.Fatalf("selection status = %d body=%s", rec.Code, rec.Body.String())
	}
	if payload["success"] != true {
		t.Fatalf("selection success = %v", payload["success"])
	}
	model, _ := payload["model"].(map[string]any)
	if model == nil || model["provider"] != "groq" {
		t.Fatalf("selected model = %v", payload["model"])
	}
	if alternatives, _ := payload["alternatives"].([]any); len(alternatives) != 1 {
		t.Fatalf("alternatives = %v, want 1", payload["alternatives"])
	}

	inst := s.firstInstance(t, credentialID)
	path := fmt.Sprintf("/v1/instances/%d/success", inst.ID)
	rec, _ = s.do(t, http.MethodPost, path, token, map[string]any{"latency_ms": 120, "tokens_used": 300})
	if rec.Code != http.StatusOK {
		t.Fatalf("success status = %d body=%s", rec.Code, rec.Body.String())
	}
	var reloaded models.ModelInstance
	if errFind := s.conn.First(&reloaded, inst.ID).Error; errFind != nil {
		t.Fatalf("reload instance: %v", errFind)
	}
	if reloaded.TotalRequests != 1 || reloaded.RemainingDaily != inst.RemainingDaily-1 {
		t.Fatalf("after success total=%d remaining=%d", reloaded.TotalRequests, reloaded.RemainingDaily)
	}

	rec, _ = s.do(t, http.MethodPost, path, token, map[string]any{"latency_ms": -1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative latency status = %d, want 400", rec.Code)
	}
}

func TestFailureIsClassifiedFromMessage(t *testing.T) {
	s := newTestServer(t)
	credentialID := s.registerCredential(t, 7)
	inst := s.firstInstance(t, credentialID)

	path := fmt.Sprintf("/v1/instances/%d/failure", inst.ID)
	rec, payload := s.do(t, http.MethodPost, path, userToken(t, 7), map[string]any{
		"error_message": "Rate limit exceeded (429)",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("failure status = %d body=%s", rec.Code, rec.Body.String())
	}
	if payload["error_type"] != string(learning.ErrorRateLimited) {
		t.Fatalf("error_type = %v, want RATE_LIMITED", payload["error_type"])
	}

	var reloaded models.ModelInstance
	if errFind := s.conn.First(&reloaded, inst.ID).Error; errFind != nil {
		t.Fatalf("reload instance: %v", errFind)
	}
	if !reloaded.IsBlocked || reloaded.BlockUntil == nil {
		t.Fatalf("instance should carry a timed block, got blocked=%v until=%v", reloaded.IsBlocked, reloaded.BlockUntil)
	}

	var logs int64
	if errCount := s.conn.Model(&models.FailureLog{}).Where("model_instance_id = ?", inst.ID).Count(&logs).Error; errCount != nil {
		t.Fatalf("count failure logs: %v", errCount)
	}
	if logs != 1 {
		t.Fatalf("failure logs = %d, want 1", logs)
	}
}

func TestOutcomeOnForeignInstanceIsNotFound(t *testing.T) {
	s := newTestServer(t)
	credentialID := s.registerCredential(t, 7)
	inst := s.firstInstance(t, credentialID)

	path := fmt.Sprintf("/v1/instances/%d/failure", inst.ID)
	rec, _ := s.do(t, http.MethodPost, path, userToken(t, 8), map[string]any{"error_type": "TIMEOUT"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign instance status = %d, want 404", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/instances/abc/success", userToken(t, 7), map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := userToken(t, 7)

	rec, _ := s.do(t, http.MethodPost, "/v1/credentials", token, map[string]any{"provider": "nowhere", "secret_ref": "x"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown provider status = %d, want 422", rec.Code)
	}
	rec, _ = s.do(t, http.MethodPost, "/v1/credentials", token, map[string]any{"provider": "groq"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing secret status = %d, want 400", rec.Code)
	}

	credentialID := s.registerCredential(t, 7)
	rec, payload := s.do(t, http.MethodGet, "/v1/credentials", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list credentials status = %d", rec.Code)
	}
	list, _ := payload["credentials"].([]any)
	if len(list) != 1 {
		t.Fatalf("credentials = %v, want 1", payload["credentials"])
	}
	entry, _ := list[0].(map[string]any)
	if entry["secret_ref"] != nil {
		t.Fatalf("secret_ref must not be exposed: %v", entry)
	}
	if entry["secret_hint"] != "env:..._KEY" {
		t.Fatalf("secret_hint = %v", entry["secret_hint"])
	}

	path := fmt.Sprintf("/v1/credentials/%d", credentialID)
	rec, _ = s.do(t, http.MethodDelete, path, userToken(t, 8), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, want 404", rec.Code)
	}
	rec, _ = s.do(t, http.MethodDelete, path, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d body=%s", rec.Code, rec.Body.String())
	}
	var remaining int64
	s.conn.Model(&models.ModelInstance{}).Where("credential_id = ?", credentialID).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("instances after delete = %d, want 0", remaining)
	}
}

func TestAdminRoutesRejectUserTokens(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, http.MethodPost, "/v0/admin/maintenance/reset-daily", userToken(t, 7), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("user token on admin route = %d, want 401", rec.Code)
	}
}

func TestAdminMaintenance(t *testing.T) {
	s := newTestServer(t)
	token := adminToken(t)

	rec, _ := s.do(t, http.MethodPost, "/v0/admin/maintenance/defrag", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}

	rec, payload := s.do(t, http.MethodPost, "/v0/admin/maintenance/reset-daily", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset-daily status = %d body=%s", rec.Code, rec.Body.String())
	}
	if payload["job"] != string(maintenance.JobResetDaily) {
		t.Fatalf("report job = %v", payload["job"])
	}

	rec, payload = s.do(t, http.MethodGet, "/v0/admin/maintenance", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list jobs status = %d", rec.Code)
	}
	if jobs, _ := payload["jobs"].([]any); len(jobs) != len(maintenance.Jobs) {
		t.Fatalf("jobs = %v", payload["jobs"])
	}
}

func TestAdminHealthCheck(t *testing.T) {
	s := newTestServer(t)
	credentialID := s.registerCredential(t, 7)
	token := adminToken(t)

	rec, _ := s.do(t, http.MethodPost, "/v0/admin/credentials/999/health-check", token, map[string]any{"ok": true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown credential status = %d, want 404", rec.Code)
	}

	path := fmt.Sprintf("/v0/admin/credentials/%d/health-check", credentialID)
	rec, _ = s.do(t, http.MethodPost, path, token, map[string]any{"ok": false, "error": "connection refused"})
	if rec.Code != http.StatusOK {
		t.Fatalf("health-check status = %d body=%s", rec.Code, rec.Body.String())
	}
	var cred models.ProviderCredential
	if errFind := s.conn.First(&cred, credentialID).Error; errFind != nil {
		t.Fatalf("load credential: %v", errFind)
	}
	if cred.ConsecutiveFailures != 1 || cred.HealthScore != models.MaxHealthScore-20 {
		t.Fatalf("after failed health check failures=%d health=%d", cred.ConsecutiveFailures, cred.HealthScore)
	}
}

func TestAdminCatalogAndSettings(t *testing.T) {
	s := newTestServer(t)
	token := adminToken(t)

	rec, payload := s.do(t, http.MethodGet, "/v0/admin/models?provider=groq", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list models status = %d", rec.Code)
	}
	if list, _ := payload["models"].([]any); len(list) != 2 {
		t.Fatalf("models = %v, want 2", payload["models"])
	}

	rec, _ = s.do(t, http.MethodPost, "/v0/admin/models/reload", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("reload without path status = %d, want 409", rec.Code)
	}

	rec, _ = s.do(t, http.MethodPut, "/v0/admin/settings/LOW_CONFIDENCE_THRESHOLD", token, map[string]any{"value": 0.4})
	if rec.Code != http.StatusOK {
		t.Fatalf("put setting status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec, payload = s.do(t, http.MethodGet, "/v0/admin/settings", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list settings status = %d", rec.Code)
	}
	values, _ := payload["settings"].(map[string]any)
	if values["LOW_CONFIDENCE_THRESHOLD"] != 0.4 {
		t.Fatalf("settings = %v", payload["settings"])
	}
}
