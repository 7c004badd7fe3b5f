package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewHTTPMetrics("toko", []float64{1, 10}, registry)
	r := chi.NewRouter()
	r.Use(HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/carts/abc", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/carts/{id}", "204")))
	require.Positive(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))

	again := NewHTTPMetrics("toko", nil, registry)
	require.Same(t, metrics.ReqTotal, again.ReqTotal)
}

func TestRequestLoggerWritesRouteAndResource(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: newLogger(&buf, "json", "info")}.Middleware)
	r.Get("/carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/carts/42", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "/carts/{id}", line["route"])
	require.Equal(t, "42", line["resource_id"])
	require.EqualValues(t, 500, line["status"])
}

func TestDomainMetricsObserve(t *testing.T) {
	MustRegisterDomainMetrics("toko_test", prometheus.NewRegistry())
	before := testutil.ToFloat64(CheckoutTotal.WithLabelValues("ok"))
	ObserveCheckout("ok", 12*time.Millisecond)
	ObserveCoupon(true)
	ObserveQuote("error")
	require.Equal(t, before+1, testutil.ToFloat64(CheckoutTotal.WithLabelValues("ok")))
	require.GreaterOrEqual(t, testutil.ToFloat64(CouponRedemptions), 1.0)
	require.GreaterOrEqual(t, testutil.ToFloat64(QuoteTotal.WithLabelValues("error")), 1.0)
}
