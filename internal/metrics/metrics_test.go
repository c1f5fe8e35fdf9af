package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSource(t *testing.T) {
	m := New()
	m.ObserveSource("Git", 20*time.Millisecond, 3, nil)
	m.ObserveSource("Git", 10*time.Millisecond, 2, nil)
	m.ObserveSource("Ical", time.Second, 0, errors.New("boom"))
	m.ObserveFetch(time.Second)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.events.WithLabelValues("Git")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("Ical")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.sourceDur))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSource("Git", time.Second, 1, nil)
	m.ObserveFetch(time.Second)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveFetch(50 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "daylog_fetch_duration_seconds_count 1")
}
