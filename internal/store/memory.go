package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

type markerKey struct {
	kind  airquality.Kind
	scope int64
}

type indexKey struct {
	stationID int64
	quantity  string
}

// MemoryStore is a concurrency-safe in-memory implementation of airquality.Store.
// It is its own factory: every Open returns the same instance.
type MemoryStore struct {
	mu sync.RWMutex

	stations map[int64]airquality.Station
	metas    map[int64]airquality.StationMeta
	sensors  map[int64]airquality.Sensor
	indexes  map[indexKey]airquality.AQIndex
	// key: sensor id, value: unix seconds -> reading
	points  map[int64]map[int64]float64
	markers map[markerKey]time.Time
}

var (
	_ airquality.Store        = (*MemoryStore)(nil)
	_ airquality.StoreFactory = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stations: make(map[int64]airquality.Station),
		metas:    make(map[int64]airquality.StationMeta),
		sensors:  make(map[int64]airquality.Sensor),
		indexes:  make(map[indexKey]airquality.AQIndex),
		points:   make(map[int64]map[int64]float64),
		markers:  make(map[markerKey]time.Time),
	}
}

// Open returns s; the memory store has no per-handle state.
func (s *MemoryStore) Open() (airquality.Store, error) {
	return s, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// advance moves a marker forward. Callers hold the write lock.
func (s *MemoryStore) advance(kind airquality.Kind, scope int64, at time.Time) {
	key := markerKey{kind: kind, scope: scope}
	at = at.UTC().Truncate(time.Second)
	if at.After(s.markers[key]) {
		s.markers[key] = at
	}
}

func (s *MemoryStore) UpsertStations(_ context.Context, stations []airquality.Station, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range stations {
		s.stations[st.ID] = st
	}
	s.advance(airquality.KindStationList, airquality.GlobalScope, syncedAt)
	return nil
}

func (s *MemoryStore) ListStations(_ context.Context) ([]airquality.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]airquality.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetStation(_ context.Context, id int64) (airquality.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stations[id]
	if !ok {
		return airquality.Station{}, fmt.Errorf("station %d: %w", id, airquality.ErrNotFound)
	}
	return st, nil
}

func (s *MemoryStore) UpsertStationMeta(_ context.Context, meta airquality.StationMeta, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stations[meta.StationID]; !ok {
		return fmt.Errorf("station %d: %w", meta.StationID, airquality.ErrNotFound)
	}
	s.metas[meta.StationID] = meta
	s.advance(airquality.KindStationMeta, meta.StationID, syncedAt)
	return nil
}

func (s *MemoryStore) GetStationMeta(_ context.Context, stationID int64) (airquality.StationMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metas[stationID]
	if !ok {
		return airquality.StationMeta{}, fmt.Errorf("metadata of station %d: %w", stationID, airquality.ErrNotFound)
	}
	return meta, nil
}

func (s *MemoryStore) UpsertSensors(_ context.Context, stationID int64, sensors []airquality.Sensor, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stations[stationID]; !ok {
		return fmt.Errorf("station %d: %w", stationID, airquality.ErrNotFound)
	}
	for _, sn := range sensors {
		sn.StationID = stationID
		s.sensors[sn.ID] = sn
	}
	s.advance(airquality.KindSensors, stationID, syncedAt)
	return nil
}

func (s *MemoryStore) ListSensors(_ context.Context, stationID int64) ([]airquality.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []airquality.Sensor
	for _, sn := range s.sensors {
		if sn.StationID == stationID {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetSensor(_ context.Context, id int64) (airquality.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn, ok := s.sensors[id]
	if !ok {
		return airquality.Sensor{}, fmt.Errorf("sensor %d: %w", id, airquality.ErrNotFound)
	}
	return sn, nil
}

func (s *MemoryStore) UpsertAQIndexes(_ context.Context, stationID int64, indexes []airquality.AQIndex, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stations[stationID]; !ok {
		return fmt.Errorf("station %d: %w", stationID, airquality.ErrNotFound)
	}
	for _, idx := range indexes {
		idx.StationID = stationID
		idx.ComputedAt = idx.ComputedAt.UTC().Truncate(time.Second)
		idx.Category = airquality.IndexCategory(idx.Value)
		if idx.Status != nil {
			status := *idx.Status
			idx.Status = &status
		}
		s.indexes[indexKey{stationID: stationID, quantity: idx.Quantity}] = idx
	}
	s.advance(airquality.KindAQIndex, stationID, syncedAt)
	return nil
}

func (s *MemoryStore) GetAQIndex(_ context.Context, stationID int64, quantity string) (airquality.AQIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[indexKey{stationID: stationID, quantity: quantity}]
	if !ok {
		return airquality.AQIndex{}, fmt.Errorf("index %s of station %d: %w", quantity, stationID, airquality.ErrNotFound)
	}
	return idx, nil
}

func (s *MemoryStore) ListAQIndexes(_ context.Context, stationID int64) ([]airquality.AQIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []airquality.AQIndex
	for key, idx := range s.indexes {
		if key.stationID == stationID {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	return out, nil
}

func (s *MemoryStore) writePoints(sensorID int64, points []airquality.SensorDataPoint) error {
	if _, ok := s.sensors[sensorID]; !ok {
		return fmt.Errorf("sensor %d: %w", sensorID, airquality.ErrNotFound)
	}
	series, ok := s.points[sensorID]
	if !ok {
		series = make(map[int64]float64)
		s.points[sensorID] = series
	}
	for _, p := range points {
		series[p.Timestamp.Unix()] = p.Value
	}
	return nil
}

func (s *MemoryStore) UpsertDataPoints(_ context.Context, sensorID int64, points []airquality.SensorDataPoint, coveredTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writePoints(sensorID, points); err != nil {
		return err
	}
	if !coveredTo.IsZero() {
		s.advance(airquality.KindSensorArchive, sensorID, coveredTo)
	}
	return nil
}

func (s *MemoryStore) UpsertLiveDataPoints(_ context.Context, sensorID int64, points []airquality.SensorDataPoint, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writePoints(sensorID, points); err != nil {
		return err
	}
	s.advance(airquality.KindSensorSeries, sensorID, syncedAt)
	return nil
}

func (s *MemoryStore) DataPoints(_ context.Context, sensorID int64, from, to time.Time) ([]airquality.SensorDataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := from.Unix(), to.Unix()
	if from.Nanosecond() > 0 {
		lo++
	}
	var out []airquality.SensorDataPoint
	for ts, v := range s.points[sensorID] {
		if ts >= lo && ts <= hi {
			out = append(out, airquality.SensorDataPoint{
				SensorID:  sensorID,
				Timestamp: time.Unix(ts, 0).UTC(),
				Value:     v,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) CachedRange(_ context.Context, sensorID int64) (airquality.CachedRange, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.points[sensorID]
	if len(series) == 0 {
		return airquality.CachedRange{}, false, nil
	}
	first := true
	var lo, hi int64
	for ts := range series {
		if first || ts < lo {
			lo = ts
		}
		if first || ts > hi {
			hi = ts
		}
		first = false
	}
	return airquality.CachedRange{
		Oldest: time.Unix(lo, 0).UTC(),
		Latest: time.Unix(hi, 0).UTC(),
	}, true, nil
}

func (s *MemoryStore) Freshness(_ context.Context, kind airquality.Kind, scope int64) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.markers[markerKey{kind: kind, scope: scope}]
	if !ok {
		return time.Unix(0, 0).UTC(), nil
	}
	return at, nil
}
