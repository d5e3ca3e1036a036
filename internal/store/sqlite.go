package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

const sqliteDriver = "sqlite3"

// SQLiteFactory opens independent handles on one sqlite database file.
type SQLiteFactory struct {
	dsn    string
	logger *slog.Logger
}

var _ airquality.StoreFactory = (*SQLiteFactory)(nil)

// NewSQLiteFactory prepares the database at path and applies migrations.
func NewSQLiteFactory(ctx context.Context, path string, logger *slog.Logger) (*SQLiteFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}
	f := &SQLiteFactory{dsn: dsn, logger: logger}

	db, err := f.openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := Migrate(ctx, db, logger); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return f, nil
}

func (f *SQLiteFactory) openDB() (*sql.DB, error) {
	db, err := sql.Open(sqliteDriver, f.dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// One connection per handle; concurrent work takes its own handle.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// Open returns a new handle backed by its own connection.
func (f *SQLiteFactory) Open() (airquality.Store, error) {
	db, err := f.openDB()
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite path is empty")
	}
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// SQLiteStore is a single-connection airquality.Store handle.
type SQLiteStore struct {
	db *sql.DB
}

var _ airquality.Store = (*SQLiteStore)(nil)

// Close closes the handle's connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// toUnix stores the zero time as 0.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// ceilUnix rounds t up to a whole second so a lower bound never admits a
// reading stored before it.
func ceilUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}

const advanceMarkerSQL = `
INSERT INTO freshness (kind, scope, synced_at) VALUES (?, ?, ?)
ON CONFLICT (kind, scope) DO UPDATE SET synced_at = MAX(synced_at, excluded.synced_at)`

// withTx runs fn in a transaction. A non-empty kind advances that marker in
// the same transaction.
func (s *SQLiteStore) withTx(ctx context.Context, kind airquality.Kind, scope int64, syncedAt time.Time, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if kind != "" {
		if _, err := tx.ExecContext(ctx, advanceMarkerSQL, string(kind), scope, syncedAt.Unix()); err != nil {
			return fmt.Errorf("advance %s marker: %w", kind, err)
		}
	}
	return tx.Commit()
}

func execEach[T any](ctx context.Context, tx *sql.Tx, query string, items []T, args func(T) []any) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, args(it)...); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, airquality.ErrNotFound)...)
	}
	return err
}

// Stations are updated in place rather than replaced so that child rows survive.
const upsertStationSQL = `
INSERT INTO stations (id, codename, name, city, district, voivodeship, address, latitude, longitude)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  codename = excluded.codename,
  name = excluded.name,
  city = excluded.city,
  district = excluded.district,
  voivodeship = excluded.voivodeship,
  address = excluded.address,
  latitude = excluded.latitude,
  longitude = excluded.longitude`

const selectStationSQL = `SELECT id, codename, name, city, district, voivodeship, address, latitude, longitude FROM stations`

func (s *SQLiteStore) UpsertStations(ctx context.Context, stations []airquality.Station, syncedAt time.Time) error {
	return s.withTx(ctx, airquality.KindStationList, airquality.GlobalScope, syncedAt, func(tx *sql.Tx) error {
		return execEach(ctx, tx, upsertStationSQL, stations, func(st airquality.Station) []any {
			return []any{st.ID, st.Codename, st.Name, st.City, st.District, st.Voivodeship, st.Address, st.Latitude, st.Longitude}
		})
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStation(row scanner) (airquality.Station, error) {
	var st airquality.Station
	err := row.Scan(&st.ID, &st.Codename, &st.Name, &st.City, &st.District, &st.Voivodeship, &st.Address, &st.Latitude, &st.Longitude)
	return st, err
}

func (s *SQLiteStore) ListStations(ctx context.Context) ([]airquality.Station, error) {
	rows, err := s.db.QueryContext(ctx, selectStationSQL+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []airquality.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetStation(ctx context.Context, id int64) (airquality.Station, error) {
	st, err := scanStation(s.db.QueryRowContext(ctx, selectStationSQL+` WHERE id = ?`, id))
	if err != nil {
		return airquality.Station{}, notFound(err, "station %d", id)
	}
	return st, nil
}

const upsertMetaSQL = `
INSERT INTO station_meta (station_id, station_codename, international_codename, launch_date, shutdown_date, type)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (station_id) DO UPDATE SET
  station_codename = excluded.station_codename,
  international_codename = excluded.international_codename,
  launch_date = excluded.launch_date,
  shutdown_date = excluded.shutdown_date,
  type = excluded.type`

func (s *SQLiteStore) UpsertStationMeta(ctx context.Context, meta airquality.StationMeta, syncedAt time.Time) error {
	return s.withTx(ctx, airquality.KindStationMeta, meta.StationID, syncedAt, func(tx *sql.Tx) error {
		var shutdown sql.NullInt64
		if meta.ShutdownDate != nil {
			shutdown = sql.NullInt64{Int64: meta.ShutdownDate.Unix(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, upsertMetaSQL,
			meta.StationID, meta.StationCodename, meta.InternationalCodename,
			toUnix(meta.LaunchDate), shutdown, meta.Type,
		)
		return err
	})
}

func (s *SQLiteStore) GetStationMeta(ctx context.Context, stationID int64) (airquality.StationMeta, error) {
	var (
		meta     airquality.StationMeta
		launch   int64
		shutdown sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT station_id, station_codename, international_codename, launch_date, shutdown_date, type
		FROM station_meta WHERE station_id = ?`, stationID,
	).Scan(&meta.StationID, &meta.StationCodename, &meta.InternationalCodename, &launch, &shutdown, &meta.Type)
	if err != nil {
		return airquality.StationMeta{}, notFound(err, "metadata of station %d", stationID)
	}
	meta.LaunchDate = fromUnix(launch)
	if shutdown.Valid {
		t := time.Unix(shutdown.Int64, 0).UTC()
		meta.ShutdownDate = &t
	}
	return meta, nil
}

const upsertSensorSQL = `
INSERT INTO sensors (id, station_id, codename, name) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  station_id = excluded.station_id,
  codename = excluded.codename,
  name = excluded.name`

func (s *SQLiteStore) UpsertSensors(ctx context.Context, stationID int64, sensors []airquality.Sensor, syncedAt time.Time) error {
	return s.withTx(ctx, airquality.KindSensors, stationID, syncedAt, func(tx *sql.Tx) error {
		return execEach(ctx, tx, upsertSensorSQL, sensors, func(sn airquality.Sensor) []any {
			return []any{sn.ID, stationID, sn.Codename, sn.Name}
		})
	})
}

func (s *SQLiteStore) ListSensors(ctx context.Context, stationID int64) ([]airquality.Sensor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, station_id, codename, name FROM sensors WHERE station_id = ? ORDER BY id`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []airquality.Sensor
	for rows.Next() {
		var sn airquality.Sensor
		if err := rows.Scan(&sn.ID, &sn.StationID, &sn.Codename, &sn.Name); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetSensor(ctx context.Context, id int64) (airquality.Sensor, error) {
	var sn airquality.Sensor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, station_id, codename, name FROM sensors WHERE id = ?`, id,
	).Scan(&sn.ID, &sn.StationID, &sn.Codename, &sn.Name)
	if err != nil {
		return airquality.Sensor{}, notFound(err, "sensor %d", id)
	}
	return sn, nil
}

const upsertIndexSQL = `
INSERT INTO aq_indexes (station_id, quantity, value, computed_at, status, critical_pollutant)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (station_id, quantity) DO UPDATE SET
  value = excluded.value,
  computed_at = excluded.computed_at,
  status = excluded.status,
  critical_pollutant = excluded.critical_pollutant`

const selectIndexSQL = `
SELECT station_id, quantity, value, computed_at, status, critical_pollutant FROM aq_indexes`

func (s *SQLiteStore) UpsertAQIndexes(ctx context.Context, stationID int64, indexes []airquality.AQIndex, syncedAt time.Time) error {
	return s.withTx(ctx, airquality.KindAQIndex, stationID, syncedAt, func(tx *sql.Tx) error {
		return execEach(ctx, tx, upsertIndexSQL, indexes, func(idx airquality.AQIndex) []any {
			var status sql.NullBool
			if idx.Status != nil {
				status = sql.NullBool{Bool: *idx.Status, Valid: true}
			}
			return []any{stationID, idx.Quantity, idx.Value, toUnix(idx.ComputedAt), status, idx.CriticalPollutant}
		})
	})
}

func scanIndex(row scanner) (airquality.AQIndex, error) {
	var (
		idx      airquality.AQIndex
		computed int64
		status   sql.NullBool
	)
	if err := row.Scan(&idx.StationID, &idx.Quantity, &idx.Value, &computed, &status, &idx.CriticalPollutant); err != nil {
		return idx, err
	}
	if status.Valid {
		idx.Status = &status.Bool
	}
	idx.ComputedAt = fromUnix(computed)
	idx.Category = airquality.IndexCategory(idx.Value)
	return idx, nil
}

func (s *SQLiteStore) GetAQIndex(ctx context.Context, stationID int64, quantity string) (airquality.AQIndex, error) {
	idx, err := scanIndex(s.db.QueryRowContext(ctx,
		selectIndexSQL+` WHERE station_id = ? AND quantity = ?`,
		stationID, quantity,
	))
	if err != nil {
		return airquality.AQIndex{}, notFound(err, "index %s of station %d", quantity, stationID)
	}
	return idx, nil
}

func (s *SQLiteStore) ListAQIndexes(ctx context.Context, stationID int64) ([]airquality.AQIndex, error) {
	rows, err := s.db.QueryContext(ctx,
		selectIndexSQL+` WHERE station_id = ? ORDER BY quantity`,
		stationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []airquality.AQIndex
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

const upsertPointSQL = `
INSERT INTO sensor_data (sensor_id, ts, value) VALUES (?, ?, ?)
ON CONFLICT (sensor_id, ts) DO UPDATE SET value = excluded.value`

func writePoints(ctx context.Context, tx *sql.Tx, sensorID int64, points []airquality.SensorDataPoint) error {
	return execEach(ctx, tx, upsertPointSQL, points, func(p airquality.SensorDataPoint) []any {
		return []any{sensorID, p.Timestamp.Unix(), p.Value}
	})
}

func (s *SQLiteStore) UpsertDataPoints(ctx context.Context, sensorID int64, points []airquality.SensorDataPoint, coveredTo time.Time) error {
	var kind airquality.Kind
	if !coveredTo.IsZero() {
		kind = airquality.KindSensorArchive
	}
	return s.withTx(ctx, kind, sensorID, coveredTo, func(tx *sql.Tx) error {
		return writePoints(ctx, tx, sensorID, points)
	})
}

func (s *SQLiteStore) UpsertLiveDataPoints(ctx context.Context, sensorID int64, points []airquality.SensorDataPoint, syncedAt time.Time) error {
	return s.withTx(ctx, airquality.KindSensorSeries, sensorID, syncedAt, func(tx *sql.Tx) error {
		return writePoints(ctx, tx, sensorID, points)
	})
}

func (s *SQLiteStore) DataPoints(ctx context.Context, sensorID int64, from, to time.Time) ([]airquality.SensorDataPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM sensor_data WHERE sensor_id = ? AND ts BETWEEN ? AND ? ORDER BY ts`,
		sensorID, ceilUnix(from), to.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []airquality.SensorDataPoint
	for rows.Next() {
		var (
			ts    int64
			value float64
		)
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, err
		}
		out = append(out, airquality.SensorDataPoint{
			SensorID:  sensorID,
			Timestamp: time.Unix(ts, 0).UTC(),
			Value:     value,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CachedRange(ctx context.Context, sensorID int64) (airquality.CachedRange, bool, error) {
	var oldest, latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(ts), MAX(ts) FROM sensor_data WHERE sensor_id = ?`, sensorID,
	).Scan(&oldest, &latest)
	if err != nil {
		return airquality.CachedRange{}, false, err
	}
	if !oldest.Valid || !latest.Valid {
		return airquality.CachedRange{}, false, nil
	}
	return airquality.CachedRange{
		Oldest: time.Unix(oldest.Int64, 0).UTC(),
		Latest: time.Unix(latest.Int64, 0).UTC(),
	}, true, nil
}

func (s *SQLiteStore) Freshness(ctx context.Context, kind airquality.Kind, scope int64) (time.Time, error) {
	var at int64
	err := s.db.QueryRowContext(ctx,
		`SELECT synced_at FROM freshness WHERE kind = ? AND scope = ?`, string(kind), scope,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(at, 0).UTC(), nil
}
