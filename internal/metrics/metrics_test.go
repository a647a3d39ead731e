package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/api/v1/app/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/app/tasks/{id}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/app/tasks/7", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/app/tasks/{id}", "418"))
	assert.Equal(t, before+1, after)
}

func TestBridgeAndReplyCounters(t *testing.T) {
	before := testutil.ToFloat64(bridgeCalls.WithLabelValues("systemService-health", "timeout"))
	ObserveBridgeCall("systemService-health", "timeout", 10*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(bridgeCalls.WithLabelValues("systemService-health", "timeout")))

	SetWorkerConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(workerConnected))
	SetWorkerConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(workerConnected))

	r := testutil.ToFloat64(replies.WithLabelValues("default", "TEXT"))
	IncReply("default", "TEXT")
	assert.Equal(t, r+1, testutil.ToFloat64(replies.WithLabelValues("default", "TEXT")))
}
