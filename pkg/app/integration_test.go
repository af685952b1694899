package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/citylens/citylens/internal/dispatch"
	"github.com/citylens/citylens/pkg/auth/apikey"
	"github.com/citylens/citylens/pkg/config"
	"github.com/citylens/citylens/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

type stubDispatcher struct {
	executionID string
	err         error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, runID string) (string, error) {
	return d.executionID, d.err
}

func setupApp(t *testing.T, disp dispatch.Dispatcher) *Application {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.RedisAddr = mr.Addr()
	cfg.APIKeys = []string{"key-a", "key-b"}
	cfg.ObjectStore.Bucket = "bucket"
	cfg.SignURLs = false
	cfg.WorkRoot = t.TempDir()
	cfg.DemoAllowlistPath = filepath.Join(t.TempDir(), "demo_runs.json")
	cfg.RateLimit.Demo = config.RateLimitBucketConfig{RequestsPerMinute: 600, BurstSize: 100}

	application, err := NewApplication(cfg, WithDispatcher(disp))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	SetupMappings(application)
	t.Cleanup(func() { _ = application.Redis.Close() })
	return application
}

func doJSON(t *testing.T, app *Application, method, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	app.Engine.ServeHTTP(w, req)
	return w
}

func createRun(t *testing.T, app *Application, apiKey string) domain.Run {
	t.Helper()
	w := doJSON(t, app, http.MethodPost, "/v1/runs", apiKey, `{"address":"Av. Paulista 1000","imagery_year":2024,"baseline_year":2018}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("create run: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var run domain.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	return run
}

func TestCreateAndGetRun(t *testing.T) {
	app := setupApp(t, &stubDispatcher{executionID: "exec-1"})

	run := createRun(t, app, "key-a")
	if run.Status != domain.StatusQueued {
		t.Fatalf("expected queued, got %s", run.Status)
	}
	if run.ExecutionID == nil || *run.ExecutionID != "exec-1" {
		t.Fatalf("execution id missing: %v", run.ExecutionID)
	}

	w := doJSON(t, app, http.MethodGet, "/v1/runs/"+run.RunID, "key-a", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get run: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view domain.RunView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.RunID != run.RunID || view.Artifacts == nil {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestAuthRequired(t *testing.T) {
	app := setupApp(t, &stubDispatcher{})

	w := doJSON(t, app, http.MethodPost, "/v1/runs", "", `{"address":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	w = doJSON(t, app, http.MethodPost, "/v1/runs", "bogus", `{"address":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with unknown key, got %d", w.Code)
	}
}

func TestAuthProviderFromConfig(t *testing.T) {
	// The validator resolves through the provider registry when a provider
	// name is configured, without touching APIKeys.
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.RedisAddr = mr.Addr()
	cfg.AuthProvider = "apikey"
	cfg.AuthConfig = `{"keys":["registry-key"]}`
	cfg.WorkRoot = t.TempDir()
	cfg.DemoAllowlistPath = filepath.Join(t.TempDir(), "demo_runs.json")

	application, err := NewApplication(cfg, WithDispatcher(&stubDispatcher{executionID: "exec-1"}))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	SetupMappings(application)
	t.Cleanup(func() { _ = application.Redis.Close() })

	createRun(t, application, "registry-key")
	w := doJSON(t, application, http.MethodPost, "/v1/runs", "other", `{"address":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for key outside provider config, got %d", w.Code)
	}

	if _, err := NewApplication(cfg, WithDispatcher(&stubDispatcher{})); err != nil {
		t.Fatalf("second construction: %v", err)
	}
	cfg.AuthProvider = "nope"
	if _, err := NewApplication(cfg, WithDispatcher(&stubDispatcher{})); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestInvalidBodyIs400(t *testing.T) {
	app := setupApp(t, &stubDispatcher{})

	w := doJSON(t, app, http.MethodPost, "/v1/runs", "key-a", `{"imagery_year":2024}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without address, got %d", w.Code)
	}
}

func TestRunIsolationBetweenKeys(t *testing.T) {
	app := setupApp(t, &stubDispatcher{})

	run := createRun(t, app, "key-a")
	w := doJSON(t, app, http.MethodGet, "/v1/runs/"+run.RunID, "key-b", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign run must 404, got %d", w.Code)
	}
}

func TestConcurrencyLimitRejects(t *testing.T) {
	app := setupApp(t, &stubDispatcher{})

	createRun(t, app, "key-a")
	w := doJSON(t, app, http.MethodPost, "/v1/runs", "key-a", `{"address":"second"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while a run is active, got %d: %s", w.Code, w.Body.String())
	}
	// The other key is unaffected.
	createRun(t, app, "key-b")
}

func TestDispatchFailureMarksRunFailed(t *testing.T) {
	app := setupApp(t, &stubDispatcher{err: errors.New("boom")})

	w := doJSON(t, app, http.MethodPost, "/v1/runs", "key-a", `{"address":"x"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	// The run is already terminal, so the concurrency slot is free and the
	// next attempt is admitted again.
	userID := apikey.HashKey("key-a")
	active, err := app.Repo.CountActiveRuns(context.Background(), userID)
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 0 {
		t.Fatalf("failed run must not hold the slot, got %d", active)
	}
}

func TestDemoEndpoints(t *testing.T) {
	app := setupApp(t, &stubDispatcher{})

	run := createRun(t, app, "key-a")
	if err := app.Repo.UpdateRun(context.Background(), run.RunID, domain.RunPatch{
		Status:    domain.StatusPtr(domain.StatusSucceeded),
		Stage:     domain.StringPtr("done"),
		Progress:  domain.IntPtr(100),
		Artifacts: map[string]string{"preview.png": "s3://bucket/runs/" + run.RunID + "/preview.png"},
	}); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	allowlist := `{"runs": [{"run_id": "` + run.RunID + `", "category": "Downtown", "label": "Sample", "address": "a"}]}`
	if err := os.WriteFile(app.Config.DemoAllowlistPath, []byte(allowlist), 0o644); err != nil {
		t.Fatalf("write allowlist: %v", err)
	}

	w := doJSON(t, app, http.MethodGet, "/v1/demo/featured", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("featured: expected 200, got %d", w.Code)
	}
	// The body is the bare category to entries map, not a wrapped object.
	var featured map[string][]struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &featured); err != nil {
		t.Fatalf("decode featured: %v", err)
	}
	if len(featured["Downtown"]) != 1 || featured["Downtown"][0].RunID != run.RunID {
		t.Fatalf("featured missing run: %s", w.Body.String())
	}

	w = doJSON(t, app, http.MethodGet, "/v1/demo/runs/"+run.RunID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("demo run: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view domain.RunView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.UserID != "" {
		t.Fatal("demo view must not expose the owner")
	}
	if len(view.Artifacts) != 1 || view.Artifacts[0].Name != "preview.png" {
		t.Fatalf("unexpected artifacts: %+v", view.Artifacts)
	}

	// A real run that is not allowlisted stays hidden.
	hidden := createRun(t, app, "key-b")
	w = doJSON(t, app, http.MethodGet, "/v1/demo/runs/"+hidden.RunID, "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("non-allowlisted run must 404, got %d", w.Code)
	}
}

func TestDemoRateLimit(t *testing.T) {
	app := setupApp(t, &stubDispatcher{})
	app.Config.RateLimit.Demo = config.RateLimitBucketConfig{RequestsPerMinute: 60, BurstSize: 2}

	// Remap with the tight bucket.
	gin.SetMode(gin.TestMode)
	app.Engine = gin.New()
	SetupMappings(app)

	for i := 0; i < 2; i++ {
		if w := doJSON(t, app, http.MethodGet, "/v1/demo/featured", "", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := doJSON(t, app, http.MethodGet, "/v1/demo/featured", "", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := setupApp(t, &stubDispatcher{})

	if w := doJSON(t, app, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}
	w := doJSON(t, app, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "citylens_") {
		t.Fatal("expected citylens metrics in exposition")
	}
}

func BenchmarkDemoFeatured(b *testing.B) {
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		b.Fatalf("load config: %v", err)
	}
	cfg.RedisAddr = mr.Addr()
	cfg.APIKeys = []string{"key-a"}
	cfg.DemoAllowlistPath = filepath.Join(b.TempDir(), "demo_runs.json")
	cfg.RateLimit.Demo = config.RateLimitBucketConfig{}

	application, err := NewApplication(cfg, WithDispatcher(&stubDispatcher{}))
	if err != nil {
		b.Fatalf("new application: %v", err)
	}
	SetupMappings(application)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/demo/featured", nil)
		w := httptest.NewRecorder()
		application.Engine.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("expected 200, got %d", w.Code)
		}
	}
}
