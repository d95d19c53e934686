package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicwatch/internal/integrity/handler"
	jwttoken "civicwatch/internal/jwt_token"
	"civicwatch/internal/platform/metrics"
	"civicwatch/pkg/platform/secrets"
	"civicwatch/pkg/testutil"
)

// adminHash is the bcrypt hash of "admin".
var adminHash = sync.OnceValue(func() string {
	h, err := secrets.Hash("admin")
	if err != nil {
		panic(err)
	}
	return h
})

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	return NewRouter(Deps{
		Handler:        handler.New(nil, nil, logger),
		Voters:         jwttoken.NewJWTService("k", "civicwatch", "civicwatch-voters"),
		AdminTokenHash: adminHash(),
		Metrics:        metrics.NewHTTP(reg),
		Gatherer:       reg,
		Checks:         checks,
		Logger:         logger,
	})
}

func TestHealth(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		r := newTestRouter(map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
	})

	t.Run("a failing check is 503", func(t *testing.T) {
		r := newTestRouter(map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("down") },
		})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"redis":"unavailable"`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "civicwatch_http_requests_total")
}

func TestRouteGuards(t *testing.T) {
	r := newTestRouter(nil)

	testutil.Given(t, "no credentials", func(t *testing.T) {
		testutil.When(t, "a vote is posted", func(t *testing.T) {
			rec := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/votes", nil))
			testutil.Then(t, "it is unauthorized", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rec, http.StatusUnauthorized, "unauthorized")
			})
		})
		testutil.When(t, "an audit run is requested", func(t *testing.T) {
			rec := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, "/admin/audit/run", nil))
			testutil.Then(t, "it is unauthorized", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rec, http.StatusUnauthorized, "unauthorized")
			})
		})
	})

	testutil.Given(t, "a wrong admin token", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/audit/run", map[string]any{})
		req.Header.Set("X-Admin-Token", "nope")
		rec := testutil.DoRequest(r, req)
		testutil.Then(t, "the run is refused", func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	})
}

func TestRequestIDEchoed(t *testing.T) {
	r := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
