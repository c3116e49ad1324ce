package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vividoc/backend/config"
	"github.com/vividoc/backend/internal/handler"
	"github.com/vividoc/backend/internal/service"
	"github.com/vividoc/backend/internal/service/jobtracker"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	runner, err := jobtracker.NewRunner(1, 1)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(runner.Stop)
	tracker := jobtracker.New(runner, nil)

	cfg := config.Default()
	return Setup(cfg,
		handler.NewSpecHandler(nil),
		handler.NewDocumentHandler(nil),
		handler.NewJobHandler(service.NewJobService(tracker, nil)),
		handler.NewConfigHandler(cfg, ""),
	)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics output missing runtime collectors")
	}
}

func TestNoRoute(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not found") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestRoutesRegistered(t *testing.T) {
	r := newTestRouter(t)
	want := map[string]bool{
		"GET /api/spec":               false,
		"DELETE /api/spec/:id":        false,
		"GET /api/document":           false,
		"DELETE /api/document/:id":    false,
		"POST /api/spec/generate":     false,
		"GET /api/spec/:id":           false,
		"PUT /api/spec/:id":           false,
		"POST /api/document/generate": false,
		"GET /api/document/:id":       false,
		"GET /api/jobs/stats":         false,
		"GET /api/jobs/:id/status":    false,
		"GET /api/config":             false,
		"PUT /api/config":             false,
	}
	for _, route := range r.Routes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		if !found {
			t.Fatalf("route %s not registered", key)
		}
	}
}

func TestJobStatusThroughRouter(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/missing/status", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
