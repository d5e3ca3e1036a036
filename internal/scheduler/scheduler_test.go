package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
	"github.com/i474232898/air-quality-mirror/internal/store"
)

type stubSource struct {
	stationCalls atomic.Int32
	indexCalls   atomic.Int32
}

func (s *stubSource) FetchStations(context.Context) ([]airquality.Station, error) {
	s.stationCalls.Add(1)
	return []airquality.Station{{ID: 114, Codename: "DsWrocWybCon"}, {ID: 117, Codename: "DsWrocAlWisn"}}, nil
}

func (s *stubSource) FetchStationMeta(context.Context, string) ([]airquality.StationMeta, error) {
	return nil, nil
}

func (s *stubSource) FetchSensors(context.Context, int64) ([]airquality.Sensor, error) {
	return nil, nil
}

func (s *stubSource) FetchAQIndexes(_ context.Context, stationID int64) ([]airquality.AQIndex, error) {
	s.indexCalls.Add(1)
	return []airquality.AQIndex{{StationID: stationID, Quantity: airquality.OverallQuantity, Value: 2}}, nil
}

func (s *stubSource) FetchLiveData(context.Context, int64) ([]airquality.SensorDataPoint, error) {
	return nil, nil
}

func (s *stubSource) FetchArchivalData(context.Context, int64, time.Time, time.Time) ([]airquality.SensorDataPoint, error) {
	return nil, nil
}

func newScheduler(t *testing.T, stations []int64, interval time.Duration) (*Scheduler, *stubSource) {
	t.Helper()
	src := &stubSource{}
	repo, err := airquality.NewRepository(src, store.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	pool := airquality.NewIndexPool(repo, 2, nil)
	return New(repo, pool, stations, airquality.OverallQuantity, interval, nil), src
}

func TestWarmRefreshesStationsAndIndexes(t *testing.T) {
	s, src := newScheduler(t, []int64{114, 117, 999}, time.Minute)

	refreshed := s.Warm(context.Background())
	assert.Equal(t, 2, refreshed)
	assert.EqualValues(t, 1, src.stationCalls.Load())
	assert.EqualValues(t, 2, src.indexCalls.Load())

	// A second pass inside every TTL touches nothing remote.
	s.Warm(context.Background())
	assert.EqualValues(t, 1, src.stationCalls.Load())
	assert.EqualValues(t, 2, src.indexCalls.Load())
}

func TestStartRunsImmediately(t *testing.T) {
	s, src := newScheduler(t, []int64{114}, time.Hour)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return src.indexCalls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartDisabled(t *testing.T) {
	s, src := newScheduler(t, []int64{114}, 0)
	require.NoError(t, s.Start())
	s.Stop()
	assert.Zero(t, src.stationCalls.Load())
}
