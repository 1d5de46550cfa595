package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echosofme/echos-server/internal/config"
	"github.com/go-chi/chi/v5"
)

type fakeEngineStatus struct {
	running bool
	err     error
}

func (f *fakeEngineStatus) IsRunning(_ context.Context) (bool, error) {
	return f.running, f.err
}

func newHealthServer(repo *fakeRepo, mode string, engine EngineStatus) http.Handler {
	r := chi.NewRouter()
	NewHealthHandler(NewHandler(repo, ""), mode, engine).RegisterRoutes(r)
	return r
}

func decodeHealth(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealthOK(t *testing.T) {
	srv := newHealthServer(newFakeRepo(), config.InferenceModeProcess, nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeHealth(t, rr)
	if resp["status"] != "ok" || resp["database"] != "ok" {
		t.Errorf("unexpected health payload: %v", resp)
	}
	if resp["inference_mode"] != "process" {
		t.Errorf("expected inference_mode process, got %v", resp["inference_mode"])
	}
	if _, ok := resp["engine"]; ok {
		t.Error("expected no engine field without an engine manager")
	}
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	repo := newFakeRepo()
	repo.pingErr = errors.New("no such file")
	srv := newHealthServer(repo, config.InferenceModeDisabled, nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	resp := decodeHealth(t, rr)
	if resp["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", resp["status"])
	}
	if resp["inference_mode"] != "disabled" {
		t.Errorf("expected inference_mode disabled, got %v", resp["inference_mode"])
	}
}

func TestHealthReportsEngineState(t *testing.T) {
	tests := []struct {
		name   string
		engine *fakeEngineStatus
		want   string
	}{
		{"running", &fakeEngineStatus{running: true}, "running"},
		{"stopped", &fakeEngineStatus{running: false}, "stopped"},
		{"unknown", &fakeEngineStatus{err: errors.New("daemon unreachable")}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newHealthServer(newFakeRepo(), config.InferenceModeDocker, tt.engine)

			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			// Engine state never fails the probe.
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			resp := decodeHealth(t, rr)
			if resp["engine"] != tt.want {
				t.Errorf("expected engine %q, got %v", tt.want, resp["engine"])
			}
		})
	}
}
