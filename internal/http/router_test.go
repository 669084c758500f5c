package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yungbote/persona-council/internal/http/handlers"
	httpMW "github.com/yungbote/persona-council/internal/http/middleware"
	"github.com/yungbote/persona-council/internal/observability"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store/memstore"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	return NewRouter(RouterConfig{
		Log:             logger.Nop(),
		MaxBodyBytes:    1 << 10,
		AuthMiddleware:  httpMW.NewAuthMiddleware(logger.Nop(), "secret", ""),
		Metrics:         observability.MustNewMetrics(reg),
		Gatherer:        reg,
		HealthHandler:   handlers.NewHealthHandler(memstore.New()),
		DialogueHandler: handlers.NewDialogueHandler(nil),
		ProfileHandler:  handlers.NewProfileHandler(nil),
		UsageHandler:    handlers.NewUsageHandler(nil),
	})
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: want=200 got=%d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id on every response")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: want=200 got=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "persona_council_http_requests_total") {
		t.Fatalf("metrics body missing http counter:\n%s", rec.Body.String())
	}
}

func TestRouterProtectsV1(t *testing.T) {
	r := newTestRouter(t)
	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/v1/dialogues", http.StatusUnauthorized},
		{http.MethodGet, "/v1/usage", http.StatusUnauthorized},
		{http.MethodPut, "/v1/profile", http.StatusUnauthorized},
		{http.MethodPost, "/v1/internal/subscription", http.StatusForbidden},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s %s: want=%d got=%d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}
