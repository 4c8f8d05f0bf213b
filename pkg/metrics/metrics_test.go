package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsStatus(t *testing.T) {
	h := Middleware("probe", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	scrape := httptest.NewRecorder()
	Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `webtest_http_requests_total{code="418",handler="probe",method="GET"} 1`)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	StepsTotal.WithLabelValues("passed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "webtest_steps_total"))
}

func TestInitTracer(t *testing.T) {
	shutdown, err := InitTracer(ExporterNone, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = InitTracer("zipkin", "test")
	assert.Error(t, err)
}
