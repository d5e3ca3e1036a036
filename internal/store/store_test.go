package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

var t0 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, factory airquality.StoreFactory)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror.db")
		factory, err := NewSQLiteFactory(context.Background(), path, nil)
		require.NoError(t, err)
		fn(t, factory)
	})
}

func openStore(t *testing.T, factory airquality.StoreFactory) airquality.Store {
	t.Helper()
	s, err := factory.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSensor(t *testing.T, s airquality.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertStations(ctx, []airquality.Station{{ID: 1, Codename: "DsA", Name: "A"}}, t0))
	require.NoError(t, s.UpsertSensors(ctx, 1, []airquality.Sensor{{ID: 42, Codename: "PM10", Name: "pył zawieszony PM10"}}, t0))
}

func TestFreshnessDefaultsToEpoch(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		s := openStore(t, factory)
		at, err := s.Freshness(context.Background(), airquality.KindStationList, airquality.GlobalScope)
		require.NoError(t, err)
		assert.True(t, at.Equal(time.Unix(0, 0)), "got %s", at)
	})
}

func TestUpsertStationsOverwritesAndAdvancesMarker(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)

		require.NoError(t, s.UpsertStations(ctx, []airquality.Station{
			{ID: 1, Codename: "DsA", Name: "old", Latitude: 50.1, Longitude: 17.2},
			{ID: 2, Codename: "DsB", Name: "B"},
		}, t0))
		require.NoError(t, s.UpsertStations(ctx, []airquality.Station{
			{ID: 1, Codename: "DsA", Name: "new", Latitude: 50.1, Longitude: 17.2},
		}, t0.Add(time.Hour)))

		stations, err := s.ListStations(ctx)
		require.NoError(t, err)
		require.Len(t, stations, 2)
		assert.Equal(t, "new", stations[0].Name)
		assert.Equal(t, 50.1, stations[0].Latitude)

		at, err := s.Freshness(ctx, airquality.KindStationList, airquality.GlobalScope)
		require.NoError(t, err)
		assert.True(t, at.Equal(t0.Add(time.Hour)))

		_, err = s.GetStation(ctx, 99)
		require.ErrorIs(t, err, airquality.ErrNotFound)
	})
}

func TestMarkersNeverMoveBackwards(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		require.NoError(t, s.UpsertSensors(ctx, 1, nil, t0.Add(2*time.Hour)))
		require.NoError(t, s.UpsertSensors(ctx, 1, nil, t0.Add(time.Hour)))

		at, err := s.Freshness(ctx, airquality.KindSensors, 1)
		require.NoError(t, err)
		assert.True(t, at.Equal(t0.Add(2*time.Hour)), "got %s", at)
	})
}

func TestUpsertStationsKeepsChildRows(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		require.NoError(t, s.UpsertStations(ctx, []airquality.Station{{ID: 1, Codename: "DsA", Name: "renamed"}}, t0.Add(time.Hour)))

		sensors, err := s.ListSensors(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, sensors, 1)
	})
}

func TestStationMetaRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		_, err := s.GetStationMeta(ctx, 1)
		require.ErrorIs(t, err, airquality.ErrNotFound)

		shutdown := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
		meta := airquality.StationMeta{
			StationID:             1,
			StationCodename:       "DsA",
			InternationalCodename: "PL0001A",
			LaunchDate:            time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC),
			ShutdownDate:          &shutdown,
			Type:                  "tło",
		}
		require.NoError(t, s.UpsertStationMeta(ctx, meta, t0))

		got, err := s.GetStationMeta(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, meta.InternationalCodename, got.InternationalCodename)
		assert.True(t, got.LaunchDate.Equal(meta.LaunchDate))
		require.NotNil(t, got.ShutdownDate)
		assert.True(t, got.ShutdownDate.Equal(shutdown))

		at, err := s.Freshness(ctx, airquality.KindStationMeta, 1)
		require.NoError(t, err)
		assert.True(t, at.Equal(t0))
	})
}

func TestAQIndexesUpsertOverwrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		active := true
		require.NoError(t, s.UpsertAQIndexes(ctx, 1, []airquality.AQIndex{
			{Quantity: "PM10", Value: 3, ComputedAt: t0},
			{Quantity: airquality.OverallQuantity, Value: 1, ComputedAt: t0, Status: &active, CriticalPollutant: "PM10"},
		}, t0))
		require.NoError(t, s.UpsertAQIndexes(ctx, 1, []airquality.AQIndex{
			{Quantity: "PM10", Value: 0, ComputedAt: t0.Add(time.Hour)},
		}, t0.Add(time.Hour)))

		idx, err := s.GetAQIndex(ctx, 1, "PM10")
		require.NoError(t, err)
		assert.Equal(t, 0, idx.Value)
		assert.Equal(t, "very good", idx.Category)
		assert.True(t, idx.ComputedAt.Equal(t0.Add(time.Hour)))
		assert.Nil(t, idx.Status)

		overall, err := s.GetAQIndex(ctx, 1, airquality.OverallQuantity)
		require.NoError(t, err)
		require.NotNil(t, overall.Status)
		assert.True(t, *overall.Status)
		assert.Equal(t, "PM10", overall.CriticalPollutant)

		all, err := s.ListAQIndexes(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = s.GetAQIndex(ctx, 1, "SO2")
		require.ErrorIs(t, err, airquality.ErrNotFound)
	})
}

func TestDataPointsUniquePerTimestamp(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		require.NoError(t, s.UpsertDataPoints(ctx, 42, []airquality.SensorDataPoint{
			{Timestamp: t0, Value: 1},
			{Timestamp: t0.Add(time.Hour), Value: 2},
		}, time.Time{}))
		require.NoError(t, s.UpsertDataPoints(ctx, 42, []airquality.SensorDataPoint{
			{Timestamp: t0.Add(time.Hour), Value: 20},
			{Timestamp: t0.Add(-time.Hour), Value: 0.5},
		}, time.Time{}))

		points, err := s.DataPoints(ctx, 42, t0.Add(-24*time.Hour), t0.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, points, 3)
		assert.Equal(t, []float64{0.5, 1, 20}, []float64{points[0].Value, points[1].Value, points[2].Value})
		assert.True(t, points[0].Timestamp.Equal(t0.Add(-time.Hour)))

		inner, err := s.DataPoints(ctx, 42, t0, t0)
		require.NoError(t, err)
		assert.Len(t, inner, 1)

		// Archival writes never touch the series marker.
		at, err := s.Freshness(ctx, airquality.KindSensorSeries, 42)
		require.NoError(t, err)
		assert.True(t, at.Equal(time.Unix(0, 0)))
	})
}

func TestArchivalDataPointsAdvanceArchiveMarker(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		at, err := s.Freshness(ctx, airquality.KindSensorArchive, 42)
		require.NoError(t, err)
		assert.True(t, at.Equal(time.Unix(0, 0)))

		require.NoError(t, s.UpsertDataPoints(ctx, 42, nil, t0.Add(5*time.Hour)))
		// A head fill covers an older window and must not pull the marker back.
		require.NoError(t, s.UpsertDataPoints(ctx, 42, []airquality.SensorDataPoint{
			{Timestamp: t0, Value: 1},
		}, t0.Add(time.Hour)))

		at, err = s.Freshness(ctx, airquality.KindSensorArchive, 42)
		require.NoError(t, err)
		assert.True(t, at.Equal(t0.Add(5*time.Hour)))

		series, err := s.Freshness(ctx, airquality.KindSensorSeries, 42)
		require.NoError(t, err)
		assert.True(t, series.Equal(time.Unix(0, 0)))
	})
}

func TestDataPointsLowerBoundRoundsUp(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		require.NoError(t, s.UpsertDataPoints(ctx, 42, []airquality.SensorDataPoint{
			{Timestamp: t0, Value: 1},
			{Timestamp: t0.Add(time.Second), Value: 2},
		}, time.Time{}))

		points, err := s.DataPoints(ctx, 42, t0.Add(500*time.Millisecond), t0.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.True(t, points[0].Timestamp.Equal(t0.Add(time.Second)))

		points, err = s.DataPoints(ctx, 42, t0.Add(-500*time.Millisecond), t0.Add(500*time.Millisecond))
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.True(t, points[0].Timestamp.Equal(t0))
	})
}

func TestLiveDataPointsAdvanceSeriesMarker(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		require.NoError(t, s.UpsertLiveDataPoints(ctx, 42, nil, t0))
		at, err := s.Freshness(ctx, airquality.KindSensorSeries, 42)
		require.NoError(t, err)
		assert.True(t, at.Equal(t0))

		other, err := s.Freshness(ctx, airquality.KindSensorSeries, 43)
		require.NoError(t, err)
		assert.True(t, other.Equal(time.Unix(0, 0)))
	})
}

func TestCachedRange(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)
		seedSensor(t, s)

		_, ok, err := s.CachedRange(ctx, 42)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.UpsertDataPoints(ctx, 42, []airquality.SensorDataPoint{
			{Timestamp: t0.Add(3 * time.Hour), Value: 1},
			{Timestamp: t0, Value: 1},
			{Timestamp: t0.Add(time.Hour), Value: 1},
		}, time.Time{}))

		rng, ok, err := s.CachedRange(ctx, 42)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, rng.Oldest.Equal(t0))
		assert.True(t, rng.Latest.Equal(t0.Add(3*time.Hour)))
	})
}

func TestChildRowsRequireParent(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory airquality.StoreFactory) {
		ctx := context.Background()
		s := openStore(t, factory)

		err := s.UpsertSensors(ctx, 7, []airquality.Sensor{{ID: 1, Codename: "NO2", Name: "dwutlenek azotu"}}, t0)
		require.Error(t, err)
		err = s.UpsertDataPoints(ctx, 1, []airquality.SensorDataPoint{{Timestamp: t0, Value: 1}}, time.Time{})
		require.Error(t, err)
	})
}

func TestSQLiteHandlesShareFile(t *testing.T) {
	ctx := context.Background()
	factory, err := NewSQLiteFactory(ctx, filepath.Join(t.TempDir(), "nested", "mirror.db"), nil)
	require.NoError(t, err)

	a := openStore(t, factory)
	b := openStore(t, factory)
	seedSensor(t, a)

	st, err := b.GetStation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "DsA", st.Codename)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror.db")
	_, err := NewSQLiteFactory(ctx, path, nil)
	require.NoError(t, err)
	_, err = NewSQLiteFactory(ctx, path, nil)
	require.NoError(t, err)
}
