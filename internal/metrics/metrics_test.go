package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.PaymentsTotal.WithLabelValues("manual", "succeeded", "").Inc()
	m.RetriesScheduledTotal.WithLabelValues("automatic").Add(2)
	m.CollectedAmountCents.Add(3132)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsTotal.WithLabelValues("manual", "succeeded", "")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RetriesScheduledTotal.WithLabelValues("automatic")))
	assert.Equal(t, float64(3132), testutil.ToFloat64(m.CollectedAmountCents))
}

func TestHandlerExposesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `voxbill_http_requests_total{method="GET",path="/ping",status="204"} 1`)
	assert.Contains(t, string(body), "voxbill_billing_cycle_running")
}
