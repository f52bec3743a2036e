package observability_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"SatLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_ReadyWhenAllChecksPass(t *testing.T) {
	h := observability.NewHealthChecker("postgres", "nats")

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Pending []string `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"nats", "postgres"}, body.Pending)

	h.Set("postgres", true)
	h.Set("nats", true)
	assert.True(t, h.IsReady())
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.Set("replay", false)
	assert.False(t, h.IsReady())
}

func TestHealthChecker_Liveness(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.NewHealthChecker("x").LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.CoreEventsApplied.WithLabelValues("PositionUpdate", "applied").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "sat_core_events_applied_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)

	// A second set on its own registry does not collide.
	assert.NotPanics(t, func() { observability.NewMetrics(prometheus.NewRegistry()) })
}

func TestNewLoggerTo_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "core", zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "core", line["component"])
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, zerolog.WarnLevel, observability.ParseLogLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLogLevel("bogus"))
}
