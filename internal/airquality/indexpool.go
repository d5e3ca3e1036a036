package airquality

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultIndexWorkers is the worker count used when none is configured.
const DefaultIndexWorkers = 4

// IndexRequest asks for the index of one quantity at one station.
type IndexRequest struct {
	StationID int64  `json:"stationId"`
	Quantity  string `json:"quantity"`
}

// IndexResult is delivered once per finished request of a batch.
type IndexResult struct {
	Generation uint64       `json:"generation"`
	BatchID    string       `json:"batchId"`
	Request    IndexRequest `json:"request"`
	Index      AQIndex      `json:"index"`
	Err        error        `json:"-"`
}

// IndexPool fetches many index values in parallel. Each worker runs on its
// own repository clone. Starting a batch cancels the previous one; results of
// a cancelled batch can be recognised with IsCurrent.
type IndexPool struct {
	repo    *Repository
	workers int
	logger  *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// NewIndexPool creates a pool bounded to workers concurrent fetches.
func NewIndexPool(repo *Repository, workers int, logger *slog.Logger) *IndexPool {
	if workers <= 0 {
		workers = DefaultIndexWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexPool{
		repo:    repo,
		workers: workers,
		logger:  logger,
	}
}

// Fetch starts a batch and returns its generation and a channel delivering
// results in completion order. The channel is closed when the batch is done
// or cancelled.
func (p *IndexPool) Fetch(ctx context.Context, reqs []IndexRequest) (uint64, <-chan IndexResult) {
	batchCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.generation++
	gen := p.generation
	p.cancel = cancel
	p.mu.Unlock()

	batchID := uuid.NewString()
	log := p.logger.With("batch_id", batchID, "generation", gen)
	log.Debug("index batch started", "requests", len(reqs), "workers", p.workers)

	out := make(chan IndexResult, len(reqs))
	go func() {
		defer close(out)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(p.workers)
		for _, req := range reqs {
			if batchCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				if batchCtx.Err() != nil {
					return nil
				}
				res := p.run(batchCtx, req)
				res.Generation = gen
				res.BatchID = batchID
				if res.Err != nil && batchCtx.Err() != nil {
					return nil
				}
				out <- res
				return nil
			})
		}
		_ = g.Wait()
		log.Debug("index batch finished", "cancelled", batchCtx.Err() != nil)
	}()

	return gen, out
}

func (p *IndexPool) run(ctx context.Context, req IndexRequest) IndexResult {
	res := IndexResult{Request: req}

	clone, err := p.repo.Clone()
	if err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if err := clone.Close(); err != nil {
			p.logger.Error("close worker store", "error", err)
		}
	}()

	res.Index, res.Err = clone.GetAQIndexValue(ctx, req.StationID, req.Quantity)
	if res.Err != nil {
		p.logger.Warn("index fetch failed",
			"station_id", req.StationID,
			"quantity", req.Quantity,
			"error", res.Err,
		)
	}
	return res
}

// IsCurrent reports whether gen is the most recently started batch.
func (p *IndexPool) IsCurrent(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.generation
}

// Cancel stops the running batch, if any.
func (p *IndexPool) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}
