package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, *prometheus.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMiddleware("test", reg)

	r := gin.New()
	r.Use(NewRequestLogger(nil).Handler())
	r.Use(pm.Handler())
	pm.RegisterMetricsEndpoint(r, reg)
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r, reg
}

func TestRequestLoggerSetsTraceHeader(t *testing.T) {
	r, _ := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Header().Get(TraceHeader), 36, "uuid без активного спана")
}

func TestPrometheusMiddlewareCountsErrors(t *testing.T) {
	r, reg := newRouter(t)

	for _, path := range []string{"/ok", "/fail", "/fail", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	n, err := testutil.GatherAndCount(reg, "test_http_request_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "серии /fail и unmatched")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_request_duration_seconds"))
}
