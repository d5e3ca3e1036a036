package airquality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/i474232898/air-quality-mirror/internal/common"
)

// LiveWindow is how far back the live endpoint serves readings. Older data is
// only reachable through the archival endpoint. This is a protocol constant.
const LiveWindow = 72*time.Hour + time.Hour

// headGapThreshold is the minimum distance between the requested start and the
// oldest cached reading that justifies an archival fetch.
const headGapThreshold = time.Hour

// GapPosition tells where a gap lies relative to the cached readings.
type GapPosition int

const (
	GapFull GapPosition = iota
	GapHead
	GapTail
)

func (p GapPosition) String() string {
	switch p {
	case GapHead:
		return "head"
	case GapTail:
		return "tail"
	default:
		return "full"
	}
}

// Names of the fetch strategies a gap can be assigned.
const (
	StrategyLive     = "live"
	StrategyArchival = "archival"
)

// Gap is a sub-range of a sensor's history that must be fetched, together
// with the strategy that can reach it.
type Gap struct {
	Position GapPosition
	Strategy string
	From     time.Time
	To       time.Time
}

// seriesStrategy fetches and persists one flavour of sensor history.
type seriesStrategy interface {
	name() string
	fetch(ctx context.Context, sensorID int64, from, to time.Time) ([]SensorDataPoint, error)
	// write persists points. Live writes stamp the sensor_series marker with
	// the sync time; archival writes record how far the archive was queried.
	write(ctx context.Context, store Store, sensorID int64, points []SensorDataPoint, g Gap, syncedAt time.Time) error
	// suppress reports whether a fetch error leaves the gap unfilled without failing the read.
	suppress(err error) bool
}

type liveStrategy struct {
	source Source
}

func (liveStrategy) name() string { return StrategyLive }

func (s liveStrategy) fetch(ctx context.Context, sensorID int64, from, to time.Time) ([]SensorDataPoint, error) {
	points, err := s.source.FetchLiveData(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	out := make([]SensorDataPoint, 0, len(points))
	for _, p := range points {
		if common.InRange(p.Timestamp, from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (liveStrategy) write(ctx context.Context, store Store, sensorID int64, points []SensorDataPoint, _ Gap, syncedAt time.Time) error {
	return store.UpsertLiveDataPoints(ctx, sensorID, points, syncedAt)
}

func (liveStrategy) suppress(err error) bool { return IsRateLimit(err) }

type archivalStrategy struct {
	source Source
}

func (archivalStrategy) name() string { return StrategyArchival }

func (s archivalStrategy) fetch(ctx context.Context, sensorID int64, from, to time.Time) ([]SensorDataPoint, error) {
	return s.source.FetchArchivalData(ctx, sensorID, from, to)
}

func (archivalStrategy) write(ctx context.Context, store Store, sensorID int64, points []SensorDataPoint, g Gap, _ time.Time) error {
	return store.UpsertDataPoints(ctx, sensorID, points, g.To)
}

func (archivalStrategy) suppress(error) bool { return false }

// Reconciler computes which parts of a sensor's history are missing locally
// and backfills them.
type Reconciler struct {
	store    Store
	policy   *Policy
	live     seriesStrategy
	archival seriesStrategy
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler bound to one store handle.
func NewReconciler(store Store, source Source, policy *Policy, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		policy:   policy,
		live:     liveStrategy{source: source},
		archival: archivalStrategy{source: source},
		logger:   logger,
	}
}

func (rc *Reconciler) strategyFor(g Gap) seriesStrategy {
	if g.Strategy == StrategyArchival {
		return rc.archival
	}
	return rc.live
}

// Plan returns the gaps between [from, to] and what is cached for sensorID.
//
// Readings older than now - LiveWindow are only reachable through the
// archive, so a tail gap crossing that boundary is split: the archive covers
// the part before it and the live endpoint the part after it. The archive
// part starts where earlier archival fetches stopped, which keeps repeated
// reads of a window with trailing missing readings from refetching it.
func (rc *Reconciler) Plan(ctx context.Context, sensorID int64, from, to time.Time) ([]Gap, error) {
	boundary := rc.policy.Now().Add(-LiveWindow)

	rng, ok, err := rc.store.CachedRange(ctx, sensorID)
	if err != nil {
		return nil, fmt.Errorf("cached range: %w", err)
	}
	if !ok {
		strategy := StrategyLive
		if from.Before(boundary) {
			strategy = StrategyArchival
		}
		return []Gap{{Position: GapFull, Strategy: strategy, From: from, To: to}}, nil
	}

	var gaps []Gap
	if common.TruncateHour(to).After(common.TruncateHour(rng.Latest)) {
		if rng.Latest.Before(boundary) {
			archived, err := rc.store.Freshness(ctx, KindSensorArchive, sensorID)
			if err != nil {
				return nil, err
			}
			start, end := maxTime(rng.Latest, archived), minTime(to, boundary)
			if common.TruncateHour(end).After(common.TruncateHour(start)) {
				gaps = append(gaps, Gap{Position: GapTail, Strategy: StrategyArchival, From: start, To: end})
			}
		}
		if to.After(boundary) {
			stale, err := rc.policy.IsStale(ctx, rc.store, KindSensorSeries, sensorID)
			if err != nil {
				return nil, err
			}
			if stale {
				gaps = append(gaps, Gap{Position: GapTail, Strategy: StrategyLive, From: maxTime(rng.Latest, boundary), To: to})
			}
		}
	}
	if rng.Oldest.Sub(from) >= headGapThreshold {
		gaps = append(gaps, Gap{Position: GapHead, Strategy: StrategyArchival, From: from, To: rng.Oldest})
	}
	return gaps, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// Backfill fetches every planned gap and reports how many gaps were written.
// Remote failures other than connectivity abort immediately; a connectivity
// failure is returned only after the remaining gaps were attempted.
func (rc *Reconciler) Backfill(ctx context.Context, sensorID int64, from, to time.Time) (int, error) {
	gaps, err := rc.Plan(ctx, sensorID, from, to)
	if err != nil {
		return 0, err
	}

	var (
		filled   int
		degraded error
	)
	for _, g := range gaps {
		ok, err := rc.fill(ctx, sensorID, g)
		switch {
		case err == nil:
			if ok {
				filled++
			}
		case IsConnectivity(err):
			if degraded == nil {
				degraded = err
			}
		default:
			return filled, err
		}
	}
	return filled, degraded
}

func (rc *Reconciler) fill(ctx context.Context, sensorID int64, g Gap) (bool, error) {
	strategy := rc.strategyFor(g)
	log := rc.logger.With(
		"sensor_id", sensorID,
		"gap", g.Position.String(),
		"strategy", strategy.name(),
		"from", g.From,
		"to", g.To,
	)

	points, err := strategy.fetch(ctx, sensorID, g.From, g.To)
	if err != nil {
		if strategy.suppress(err) {
			log.Warn("series fetch rate limited; gap left unfilled", "error", err)
			return false, nil
		}
		return false, fmt.Errorf("%s fetch for sensor %d: %w", strategy.name(), sensorID, err)
	}

	if err := strategy.write(ctx, rc.store, sensorID, points, g, rc.policy.Now()); err != nil {
		return false, fmt.Errorf("store %s series for sensor %d: %w", strategy.name(), sensorID, err)
	}
	log.Debug("series gap filled", "points", len(points))
	return true, nil
}
