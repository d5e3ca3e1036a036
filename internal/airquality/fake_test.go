package airquality_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
	"github.com/i474232898/air-quality-mirror/internal/store"
)

type fetchCall struct {
	method   string
	from, to time.Time
}

// fakeSource serves a fixed data set and records every call.
type fakeSource struct {
	mu    sync.Mutex
	calls []fetchCall
	now   func() time.Time

	stations []airquality.Station
	metas    []airquality.StationMeta
	sensors  map[int64][]airquality.Sensor
	indexes  map[int64][]airquality.AQIndex

	// err, when set, is returned by every method.
	err error
	// liveErr and archivalErr override err for the series methods.
	liveErr     error
	archivalErr error
	// archivalTrim drops that many trailing archival readings, the way the
	// remote leaves out hours without a value.
	archivalTrim int
	// indexHook runs before FetchAQIndexes returns.
	indexHook func(ctx context.Context, stationID int64) error
}

func newFakeSource(now func() time.Time) *fakeSource {
	return &fakeSource{
		now: now,
		stations: []airquality.Station{
			{ID: 1, Codename: "DsWrocWybCon", Name: "Wrocław, Wybrzeże Conrada"},
			{ID: 2, Codename: "MpKrakAlKras", Name: "Kraków, Aleja Krasińskiego"},
		},
		metas: []airquality.StationMeta{
			{StationCodename: "DsWrocWybConX", InternationalCodename: "PL9999A"},
			{StationCodename: "DsWrocWybCon", InternationalCodename: "PL0194A", Type: "przemysłowa"},
		},
		sensors: map[int64][]airquality.Sensor{
			1: {{ID: 42, Codename: "PM10", Name: "pył zawieszony PM10"}},
		},
		indexes: map[int64][]airquality.AQIndex{
			1: {
				{Quantity: airquality.OverallQuantity, Value: 1},
				{Quantity: "PM10", Value: 2},
			},
			2: {{Quantity: airquality.OverallQuantity, Value: 4}},
		},
	}
}

func (f *fakeSource) record(method string, from, to time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{method: method, from: from, to: to})
	return f.err
}

func (f *fakeSource) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (f *fakeSource) callsOf(method string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSource) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) FetchStations(context.Context) ([]airquality.Station, error) {
	if err := f.record("stations", time.Time{}, time.Time{}); err != nil {
		return nil, err
	}
	return append([]airquality.Station(nil), f.stations...), nil
}

func (f *fakeSource) FetchStationMeta(_ context.Context, codename string) ([]airquality.StationMeta, error) {
	if err := f.record("meta", time.Time{}, time.Time{}); err != nil {
		return nil, err
	}
	return append([]airquality.StationMeta(nil), f.metas...), nil
}

func (f *fakeSource) FetchSensors(_ context.Context, stationID int64) ([]airquality.Sensor, error) {
	if err := f.record("sensors", time.Time{}, time.Time{}); err != nil {
		return nil, err
	}
	return append([]airquality.Sensor(nil), f.sensors[stationID]...), nil
}

func (f *fakeSource) FetchAQIndexes(ctx context.Context, stationID int64) ([]airquality.AQIndex, error) {
	if err := f.record("indexes", time.Time{}, time.Time{}); err != nil {
		return nil, err
	}
	if f.indexHook != nil {
		if err := f.indexHook(ctx, stationID); err != nil {
			return nil, err
		}
	}
	return append([]airquality.AQIndex(nil), f.indexes[stationID]...), nil
}

// FetchLiveData serves hourly readings over the last three days.
func (f *fakeSource) FetchLiveData(_ context.Context, sensorID int64) ([]airquality.SensorDataPoint, error) {
	now := f.now()
	if err := f.record("live", time.Time{}, time.Time{}); err != nil {
		return nil, err
	}
	if f.liveErr != nil {
		return nil, f.liveErr
	}
	return hourly(sensorID, now.Add(-72*time.Hour), now), nil
}

// FetchArchivalData serves hourly readings within [from, to].
func (f *fakeSource) FetchArchivalData(_ context.Context, sensorID int64, from, to time.Time) ([]airquality.SensorDataPoint, error) {
	if err := f.record("archival", from, to); err != nil {
		return nil, err
	}
	if f.archivalErr != nil {
		return nil, f.archivalErr
	}
	points := hourly(sensorID, from, to)
	if f.archivalTrim > 0 {
		points = points[:max(0, len(points)-f.archivalTrim)]
	}
	return points, nil
}

func hourly(sensorID int64, from, to time.Time) []airquality.SensorDataPoint {
	var out []airquality.SensorDataPoint
	start := from.UTC().Truncate(time.Hour)
	if start.Before(from) {
		start = start.Add(time.Hour)
	}
	for ts := start; !ts.After(to); ts = ts.Add(time.Hour) {
		out = append(out, airquality.SensorDataPoint{SensorID: sensorID, Timestamp: ts, Value: float64(ts.Hour())})
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock  *clock
	source *fakeSource
	store  *store.MemoryStore
	repo   *airquality.Repository
}

func newFixture(t *testing.T, now time.Time, opts ...airquality.Option) *fixture {
	t.Helper()
	clk := &clock{now: now}
	src := newFakeSource(clk.Now)
	mem := store.NewMemoryStore()

	base := []airquality.Option{airquality.WithPolicy(airquality.NewPolicy(airquality.DefaultTTLs(), clk.Now))}
	repo, err := airquality.NewRepository(src, mem, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return &fixture{clock: clk, source: src, store: mem, repo: repo}
}

// seedSensor stores station 1 and sensor 42 with fresh markers.
func (fx *fixture) seedSensor(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := fx.clock.Now()
	require.NoError(t, fx.store.UpsertStations(ctx, fx.source.stations, now))
	require.NoError(t, fx.store.UpsertSensors(ctx, 1, fx.source.sensors[1], now))
}
