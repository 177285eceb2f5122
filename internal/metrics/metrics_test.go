package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	c := New()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/history/{account}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, account := range []string{"alice", "bob"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/"+account, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	got := testutil.ToFloat64(c.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/history/{account}", "418"))
	assert.Equal(t, 2.0, got)
}

func TestRecordOperationAndHandler(t *testing.T) {
	c := New()
	c.RecordOperation("catalog", "add", "alreadyExists")
	c.RecordOperation("catalog", "add", "alreadyExists")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Operations.WithLabelValues("catalog", "add", "alreadyExists")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `reader_operations_total{component="catalog",operation="add",result="alreadyExists"} 2`))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordOperation("cart", "list", "ok")
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
