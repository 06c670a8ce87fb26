package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAsk(t *testing.T) {
	m := New("askbot")
	m.ObserveAsk(OutcomeSuccess, 2*time.Second)
	m.ObserveAsk(OutcomeSuccess, time.Second)
	m.ObserveAsk(OutcomeAgentError, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AskTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AskTotal.WithLabelValues(OutcomeAgentError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AskDuration))
}

func TestErrorCounters(t *testing.T) {
	m := New("askbot")
	m.StoreError("read_history")
	m.AgentError("")
	m.AgentError("openai")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("read_history")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentErrors.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentErrors.WithLabelValues("openai")))
}

func TestWSClientsGauge(t *testing.T) {
	m := New("askbot")
	m.ClientConnected(1)
	m.ClientConnected(1)
	m.ClientConnected(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSClients))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAsk(OutcomeSuccess, time.Second)
		m.StoreError("x")
		m.AgentError("x")
		m.ClientConnected(1)
	})
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New("askbot"), New("askbot")
	a.StoreError("x")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StoreErrors.WithLabelValues("x")))
}

func TestHandler(t *testing.T) {
	m := New("askbot")
	m.ObserveAsk(OutcomeSuccess, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `askbot_ask_total{outcome="success"} 1`)
	assert.Contains(t, string(body), "askbot_ask_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
