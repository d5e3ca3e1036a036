package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

func TestObserveRefreshOutcomes(t *testing.T) {
	m := New()
	m.ObserveRefresh(airquality.KindStationList, nil)
	m.ObserveRefresh(airquality.KindStationList, fmt.Errorf("%w: timeout", airquality.ErrConnectivity))
	m.ObserveRefresh(airquality.KindSensorSeries, &airquality.RemoteError{Code: airquality.DefaultRateLimitCode})
	m.ObserveRefresh(airquality.KindAQIndex, airquality.ErrMalformedResponse)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("station_list", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("station_list", "connectivity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("sensor_series", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("aq_index", "error")))
}

func TestTrackHealthFollowsTransitions(t *testing.T) {
	m := New()
	h := airquality.NewHealthState()
	stop := m.TrackHealth(h)

	h.MarkUnhealthy()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.healthy))
	h.MarkHealthy()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthy))

	stop()
	h.MarkUnhealthy()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthy))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObservePage("station/findAll", "ok", 120*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `air_quality_mirror_remote_page_fetches_total{endpoint="station/findAll",outcome="ok"} 1`)
	assert.Contains(t, string(body), "air_quality_mirror_remote_page_duration_seconds_bucket")
}
