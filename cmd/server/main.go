package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/maintrack/internal/config"
	"github.com/JonMunkholm/maintrack/internal/core"
	_ "github.com/JonMunkholm/maintrack/internal/core/formats" // xlsx/xlsm decoders
	"github.com/JonMunkholm/maintrack/internal/logging"
	"github.com/JonMunkholm/maintrack/internal/metrics"
	"github.com/JonMunkholm/maintrack/internal/store"
	"github.com/JonMunkholm/maintrack/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// .env values override the environment, which keeps local runs predictable.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"s3", cfg.S3.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
		"workorder_horizon_days", cfg.WorkOrder.HorizonDays,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open dataset store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	rec := metrics.New()
	opts := append([]core.Option{core.WithObserver(rec)}, backend.Options()...)
	service, err := core.NewService(ctx, backend.Dataset, cfg.ServiceConfig(), opts...)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}
	st := service.Stats()
	slog.Info("dataset loaded",
		"revision", st.Revision,
		"equipment", st.Equipment,
		"plans", st.Plans,
		"open_work_orders", st.WorkOrders.Open,
	)

	server := web.NewServer(service, cfg, rec)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartWorkOrderScheduler(jobCtx, cfg.WorkOrder.CheckInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Busy {
			slog.Info("waiting for dataset write to finish", "operation", status.Operation)
			if err := service.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("dataset write did not finish in time", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		backend.Close()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
