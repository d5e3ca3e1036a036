package airquality

import (
	"context"
	"time"
)

// Source abstracts the remote data set. Implementations must be safe for
// concurrent use; the repository and every worker clone share one Source.
type Source interface {
	FetchStations(ctx context.Context) ([]Station, error)
	FetchStationMeta(ctx context.Context, stationCodename string) ([]StationMeta, error)
	FetchSensors(ctx context.Context, stationID int64) ([]Sensor, error)
	FetchAQIndexes(ctx context.Context, stationID int64) ([]AQIndex, error)

	// FetchLiveData returns the recent window the remote keeps for a sensor.
	FetchLiveData(ctx context.Context, sensorID int64) ([]SensorDataPoint, error)
	// FetchArchivalData returns historical readings within [from, to].
	FetchArchivalData(ctx context.Context, sensorID int64, from, to time.Time) ([]SensorDataPoint, error)
}

// Store is the contract the local persistent store must satisfy.
//
// Every Upsert advances the matching freshness marker to syncedAt in the same
// transaction as the data write. Markers never move backwards. A Store must
// be safe for concurrent use.
type Store interface {
	UpsertStations(ctx context.Context, stations []Station, syncedAt time.Time) error
	ListStations(ctx context.Context) ([]Station, error)
	GetStation(ctx context.Context, id int64) (Station, error)

	UpsertStationMeta(ctx context.Context, meta StationMeta, syncedAt time.Time) error
	GetStationMeta(ctx context.Context, stationID int64) (StationMeta, error)

	UpsertSensors(ctx context.Context, stationID int64, sensors []Sensor, syncedAt time.Time) error
	ListSensors(ctx context.Context, stationID int64) ([]Sensor, error)
	GetSensor(ctx context.Context, id int64) (Sensor, error)

	UpsertAQIndexes(ctx context.Context, stationID int64, indexes []AQIndex, syncedAt time.Time) error
	GetAQIndex(ctx context.Context, stationID int64, quantity string) (AQIndex, error)
	ListAQIndexes(ctx context.Context, stationID int64) ([]AQIndex, error)

	// UpsertDataPoints writes archival readings and advances the sensor_archive
	// marker to coveredTo. A zero coveredTo leaves the marker alone.
	UpsertDataPoints(ctx context.Context, sensorID int64, points []SensorDataPoint, coveredTo time.Time) error
	// UpsertLiveDataPoints writes live readings and advances the sensor_series marker.
	UpsertLiveDataPoints(ctx context.Context, sensorID int64, points []SensorDataPoint, syncedAt time.Time) error
	// DataPoints returns readings within [from, to] ordered by timestamp.
	DataPoints(ctx context.Context, sensorID int64, from, to time.Time) ([]SensorDataPoint, error)
	// CachedRange reports ok=false when the sensor has no stored readings.
	CachedRange(ctx context.Context, sensorID int64) (rng CachedRange, ok bool, err error)

	// Freshness returns the last successful sync time, the unix epoch if never synced.
	Freshness(ctx context.Context, kind Kind, scope int64) (time.Time, error)

	Close() error
}

// StoreFactory opens independent store handles. Background workers each take
// their own handle instead of sharing the foreground one.
type StoreFactory interface {
	Open() (Store, error)
}
