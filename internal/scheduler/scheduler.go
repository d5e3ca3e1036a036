package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

// jobTimeout bounds a single warm-up run.
const jobTimeout = 2 * time.Minute

// Scheduler periodically warms the local store: it refreshes the station list
// and the index of the configured stations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	repo      *airquality.Repository
	pool      *airquality.IndexPool
	stations  []int64
	quantity  string
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(repo *airquality.Repository, pool *airquality.IndexPool, stations []int64, quantity string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		repo:      repo,
		pool:      pool,
		stations:  stations,
		quantity:  quantity,
		interval:  interval,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start schedules the warm-up job and starts the underlying scheduler. The
// first run starts immediately.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("warm-up disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.Warm(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("warm-up scheduled", "interval", s.interval, "stations", len(s.stations))
	return nil
}

// Warm runs one warm-up pass and reports how many indexes were refreshed.
func (s *Scheduler) Warm(ctx context.Context) int {
	start := time.Now()
	s.logger.Debug("running warm-up job")

	if _, err := s.repo.GetStationList(ctx); err != nil {
		s.logger.Error("warm-up: station list", "error", err)
		return 0
	}
	if len(s.stations) == 0 {
		return 0
	}

	reqs := make([]airquality.IndexRequest, 0, len(s.stations))
	for _, id := range s.stations {
		reqs = append(reqs, airquality.IndexRequest{StationID: id, Quantity: s.quantity})
	}

	gen, results := s.pool.Fetch(ctx, reqs)
	var ok int
	for res := range results {
		if res.Err != nil {
			s.logger.Warn("warm-up: index",
				"station_id", res.Request.StationID,
				"quantity", res.Request.Quantity,
				"error", res.Err,
			)
			continue
		}
		ok++
	}
	s.logger.Info("warm-up job completed",
		"generation", gen,
		"refreshed", ok,
		"requested", len(reqs),
		"elapsed", time.Since(start),
	)
	return ok
}

// Stop stops the scheduler and cancels the running batch.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.pool != nil {
		s.pool.Cancel()
	}
}
