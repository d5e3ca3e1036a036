package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
	"github.com/i474232898/air-quality-mirror/internal/config"
	"github.com/i474232898/air-quality-mirror/internal/gios"
	"github.com/i474232898/air-quality-mirror/internal/logging"
	"github.com/i474232898/air-quality-mirror/internal/metrics"
	"github.com/i474232898/air-quality-mirror/internal/store"
)

const appName = "air-quality-mirror"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Local mirror of the GIOŚ air quality API",
	Long: `air-quality-mirror keeps a local copy of the Polish air quality
monitoring data published by GIOŚ and serves it over HTTP.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mirror bundles the wired collaborators shared by every command.
type mirror struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	repo    *airquality.Repository

	closers []func() error
}

func newMirror(ctx context.Context) (*mirror, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.AppEnv, cfg.LogLevel, appName, version)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.GiosTimezone, err)
	}

	m := metrics.New()

	// Shared HTTP client for outbound remote calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := gios.NewClient(httpClient,
		gios.WithBaseURL(cfg.GiosBaseURL),
		gios.WithPageSize(cfg.GiosPageSize),
		gios.WithLocation(loc),
		gios.WithRateLimitCode(cfg.GiosRateLimitCode),
		gios.WithPageObserver(m.ObservePage),
	)

	var factory airquality.StoreFactory
	switch cfg.StoreDriver {
	case "memory":
		factory = store.NewMemoryStore()
	default:
		factory, err = store.NewSQLiteFactory(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	repo, err := airquality.NewRepository(client, factory,
		airquality.WithLogger(logger),
		airquality.WithPolicy(airquality.NewPolicy(cfg.TTLs, nil)),
		airquality.WithRefreshHook(m.ObserveRefresh),
	)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	mi := &mirror{cfg: cfg, logger: logger, metrics: m, repo: repo}
	untrack := m.TrackHealth(repo.Health())
	mi.closers = append(mi.closers,
		func() error { untrack(); return nil },
		repo.Close,
	)
	logger.Info("mirror ready",
		"store", cfg.StoreDriver,
		"remote", cfg.GiosBaseURL,
		"timezone", loc.String(),
	)
	return mi, nil
}

func (m *mirror) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			m.logger.Error("close", "error", err)
		}
	}
}
