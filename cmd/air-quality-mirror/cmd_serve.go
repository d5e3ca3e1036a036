package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
	httpapi "github.com/i474232898/air-quality-mirror/internal/api/http"
	"github.com/i474232898/air-quality-mirror/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the mirror over HTTP",
	Long:  `Start the HTTP API and the background warm-up of the local store.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := newMirror(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	// Scheduler that periodically warms the local store.
	pool := airquality.NewIndexPool(m.repo, m.cfg.IndexWorkers, m.logger)
	sched := scheduler.New(m.repo, pool, m.cfg.WarmStations, m.cfg.WarmQuantity, m.cfg.WarmInterval, m.logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Backfilling a long range pages through the archive.
		WriteTimeout: 2 * time.Minute,
		ErrorHandler: httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Repo:         m.repo,
		IndexWorkers: m.cfg.IndexWorkers,
		Metrics:      m.metrics.Handler(),
	})

	go func() {
		m.logger.Info("listening", "port", m.cfg.Port)
		if err := app.Listen(":" + m.cfg.Port); err != nil {
			m.logger.Error("fiber server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		m.logger.Error("error during shutdown", "error", err)
	}
	return nil
}
