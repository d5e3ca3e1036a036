package airquality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RefreshHook observes every remote refresh attempt. err is nil on success.
type RefreshHook func(kind Kind, err error)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithPolicy replaces the default freshness policy.
func WithPolicy(policy *Policy) Option {
	return func(r *Repository) {
		r.policy = policy
	}
}

// WithHealth shares an existing health state.
func WithHealth(health *HealthState) Option {
	return func(r *Repository) {
		r.health = health
	}
}

// WithRefreshHook registers a hook called after every refresh attempt.
func WithRefreshHook(hook RefreshHook) Option {
	return func(r *Repository) {
		r.hook = hook
	}
}

// Repository serves reads from the local store, refreshing stale entities
// from the remote first. A Repository is safe for concurrent use because its
// store handle is; Clone gives a worker a handle of its own.
type Repository struct {
	source  Source
	store   Store
	factory StoreFactory
	policy  *Policy
	health  *HealthState
	recon   *Reconciler
	hook    RefreshHook
	logger  *slog.Logger
}

// NewRepository opens a store handle from factory and wires the orchestrator.
func NewRepository(source Source, factory StoreFactory, opts ...Option) (*Repository, error) {
	r := &Repository{
		source:  source,
		factory: factory,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.policy == nil {
		r.policy = NewPolicy(DefaultTTLs(), nil)
	}
	if r.health == nil {
		r.health = NewHealthState()
	}

	store, err := factory.Open()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.store = store
	r.recon = NewReconciler(store, source, r.policy, r.logger)
	return r, nil
}

// Clone returns a repository over a new store handle that shares the source,
// policy, health state and hooks of r.
func (r *Repository) Clone() (*Repository, error) {
	return NewRepository(r.source, r.factory,
		WithLogger(r.logger),
		WithPolicy(r.policy),
		WithHealth(r.health),
		WithRefreshHook(r.hook),
	)
}

// Close releases the repository's store handle.
func (r *Repository) Close() error {
	return r.store.Close()
}

// Health exposes the connection-health state.
func (r *Repository) Health() *HealthState {
	return r.health
}

// Policy exposes the freshness policy.
func (r *Repository) Policy() *Policy {
	return r.policy
}

func (r *Repository) observe(kind Kind, err error) {
	if r.hook != nil {
		r.hook(kind, err)
	}
}

// recordRemote updates the health state after a remote call and returns the
// connectivity cause when the caller should degrade to cached data.
func (r *Repository) recordRemote(kind Kind, scope int64, err error) (degraded error, fatal error) {
	r.observe(kind, err)
	switch {
	case err == nil:
		r.health.MarkHealthy()
		return nil, nil
	case IsConnectivity(err):
		r.health.MarkUnhealthy()
		r.logger.Warn("remote unreachable; serving cached data",
			"kind", kind,
			"scope", scope,
			"error", err,
		)
		return err, nil
	default:
		return nil, err
	}
}

// refresh implements the fetch-if-stale half of every read. It returns the
// connectivity cause when the refresh was skipped because the remote is down.
func refresh[T any](
	ctx context.Context,
	r *Repository,
	kind Kind,
	scope int64,
	fetch func(context.Context) (T, error),
	write func(context.Context, T, time.Time) error,
) (degraded error, err error) {
	stale, err := r.policy.IsStale(ctx, r.store, kind, scope)
	if err != nil {
		return nil, err
	}
	if !stale {
		return nil, nil
	}

	r.logger.Debug("refreshing", "kind", kind, "scope", scope)
	data, fetchErr := fetch(ctx)
	degraded, err = r.recordRemote(kind, scope, fetchErr)
	if degraded != nil || err != nil {
		return degraded, err
	}
	if err := write(ctx, data, r.policy.Now()); err != nil {
		return nil, fmt.Errorf("store %s: %w", kind, err)
	}
	return nil, nil
}

func noData(cause error) error {
	return fmt.Errorf("%w: %w", ErrNoData, cause)
}

// GetStationList returns all stations, refreshing the list once a day.
func (r *Repository) GetStationList(ctx context.Context) ([]Station, error) {
	degraded, err := refresh(ctx, r, KindStationList, GlobalScope,
		r.source.FetchStations,
		r.store.UpsertStations,
	)
	if err != nil {
		return nil, err
	}

	stations, err := r.store.ListStations(ctx)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 && degraded != nil {
		return nil, noData(degraded)
	}
	return stations, nil
}

// station returns a stored station, refreshing the station list if it is unknown.
func (r *Repository) station(ctx context.Context, id int64) (Station, error) {
	st, err := r.store.GetStation(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		return st, err
	}
	if _, err := r.GetStationList(ctx); err != nil {
		return Station{}, err
	}
	st, err = r.store.GetStation(ctx, id)
	if err != nil {
		return Station{}, fmt.Errorf("station %d: %w", id, err)
	}
	return st, nil
}

// GetStationMeta returns the metadata of a station.
func (r *Repository) GetStationMeta(ctx context.Context, stationID int64) (StationMeta, error) {
	st, err := r.station(ctx, stationID)
	if err != nil {
		return StationMeta{}, err
	}

	fetch := func(ctx context.Context) (StationMeta, error) {
		metas, err := r.source.FetchStationMeta(ctx, st.Codename)
		if err != nil {
			return StationMeta{}, err
		}
		for _, m := range metas {
			if m.StationCodename == st.Codename {
				m.StationID = st.ID
				return m, nil
			}
		}
		return StationMeta{}, fmt.Errorf("metadata for station %q: %w", st.Codename, ErrNotFound)
	}

	degraded, err := refresh(ctx, r, KindStationMeta, stationID, fetch, r.store.UpsertStationMeta)
	if err != nil {
		return StationMeta{}, err
	}

	meta, err := r.store.GetStationMeta(ctx, stationID)
	if errors.Is(err, ErrNotFound) && degraded != nil {
		return StationMeta{}, noData(degraded)
	}
	return meta, err
}

// GetSensorList returns the sensors of a station.
func (r *Repository) GetSensorList(ctx context.Context, stationID int64) ([]Sensor, error) {
	if _, err := r.station(ctx, stationID); err != nil {
		return nil, err
	}

	write := func(ctx context.Context, sensors []Sensor, at time.Time) error {
		return r.store.UpsertSensors(ctx, stationID, sensors, at)
	}
	fetch := func(ctx context.Context) ([]Sensor, error) {
		return r.source.FetchSensors(ctx, stationID)
	}

	degraded, err := refresh(ctx, r, KindSensors, stationID, fetch, write)
	if err != nil {
		return nil, err
	}

	sensors, err := r.store.ListSensors(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if len(sensors) == 0 && degraded != nil {
		return nil, noData(degraded)
	}
	return sensors, nil
}

func (r *Repository) refreshIndexes(ctx context.Context, stationID int64) (degraded error, err error) {
	if _, err := r.station(ctx, stationID); err != nil {
		return nil, err
	}

	write := func(ctx context.Context, indexes []AQIndex, at time.Time) error {
		return r.store.UpsertAQIndexes(ctx, stationID, indexes, at)
	}
	fetch := func(ctx context.Context) ([]AQIndex, error) {
		return r.source.FetchAQIndexes(ctx, stationID)
	}
	return refresh(ctx, r, KindAQIndex, stationID, fetch, write)
}

// GetAQIndexValue returns the current index of quantity at a station. A
// station without an index for quantity yields a NoIndex value.
func (r *Repository) GetAQIndexValue(ctx context.Context, stationID int64, quantity string) (AQIndex, error) {
	degraded, err := r.refreshIndexes(ctx, stationID)
	if err != nil {
		return AQIndex{}, err
	}

	idx, err := r.store.GetAQIndex(ctx, stationID, quantity)
	if errors.Is(err, ErrNotFound) {
		if degraded != nil {
			return AQIndex{}, noData(degraded)
		}
		return AQIndex{
			StationID: stationID,
			Quantity:  quantity,
			Value:     NoIndex,
			Category:  IndexCategory(NoIndex),
		}, nil
	}
	return idx, err
}

// GetAQIndexes returns every index snapshot stored for a station.
func (r *Repository) GetAQIndexes(ctx context.Context, stationID int64) ([]AQIndex, error) {
	degraded, err := r.refreshIndexes(ctx, stationID)
	if err != nil {
		return nil, err
	}

	indexes, err := r.store.ListAQIndexes(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if len(indexes) == 0 && degraded != nil {
		return nil, noData(degraded)
	}
	return indexes, nil
}

// GetSeries returns the readings of a sensor within [from, to], backfilling
// missing history first. A zero to means now.
func (r *Repository) GetSeries(ctx context.Context, sensorID int64, from, to time.Time) ([]SensorDataPoint, error) {
	if to.IsZero() {
		to = r.policy.Now()
	}
	from, to = from.UTC(), to.UTC()
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: to %s is before from %s", to, from)
	}

	if _, err := r.store.GetSensor(ctx, sensorID); err != nil {
		return nil, fmt.Errorf("sensor %d: %w", sensorID, err)
	}

	filled, backfillErr := r.recon.Backfill(ctx, sensorID, from, to)
	var degraded error
	switch {
	case backfillErr == nil:
		if filled > 0 {
			r.health.MarkHealthy()
			r.observe(KindSensorSeries, nil)
		}
	default:
		degraded, backfillErr = r.recordRemote(KindSensorSeries, sensorID, backfillErr)
		if backfillErr != nil {
			return nil, backfillErr
		}
	}

	points, err := r.store.DataPoints(ctx, sensorID, from, to)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 && degraded != nil {
		return nil, noData(degraded)
	}
	return points, nil
}
