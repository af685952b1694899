package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/citylens/citylens/pkg/config"
)

func testConfig(baseURL string) config.DispatchConfig {
	return config.DispatchConfig{
		BaseURL: baseURL,
		Project: "proj",
		Region:  "southamerica-east1",
		JobName: "citylens-worker",
		Token:   "tok",
	}
}

func TestDispatchInjectsRunIDEnv(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "projects/proj/jobs/citylens-worker/executions/e1"})
	}))
	defer srv.Close()

	d := NewCloudRunJobsDispatcher(testConfig(srv.URL))
	execID, err := d.Dispatch(context.Background(), "run-123")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if execID != "projects/proj/jobs/citylens-worker/executions/e1" {
		t.Fatalf("unexpected execution id: %s", execID)
	}
	if gotPath != "/v2/projects/proj/locations/southamerica-east1/jobs/citylens-worker:run" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}

	overrides := gotBody["overrides"].(map[string]any)
	containers := overrides["containerOverrides"].([]any)
	env := containers[0].(map[string]any)["env"].([]any)
	kv := env[0].(map[string]any)
	if kv["name"] != "CITYLENS_RUN_ID" || kv["value"] != "run-123" {
		t.Fatalf("run id env not injected: %v", kv)
	}
}

func TestDispatchAcceptsExecutionField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"execution": "exec-42"})
	}))
	defer srv.Close()

	d := NewCloudRunJobsDispatcher(testConfig(srv.URL))
	execID, err := d.Dispatch(context.Background(), "run-123")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if execID != "exec-42" {
		t.Fatalf("unexpected execution id: %s", execID)
	}
}

func TestDispatchErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewCloudRunJobsDispatcher(testConfig(srv.URL))
	if _, err := d.Dispatch(context.Background(), "run-123"); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestDispatchEmptyResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewCloudRunJobsDispatcher(testConfig(srv.URL))
	execID, err := d.Dispatch(context.Background(), "run-123")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if execID != "" {
		t.Fatalf("expected empty execution id, got %q", execID)
	}
}
