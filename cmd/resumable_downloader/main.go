package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/resumable_downloader/internal/cleanup"
	"github.com/italolelis/resumable_downloader/internal/config"
	"github.com/italolelis/resumable_downloader/internal/destination"
	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/http/rest"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/notifier"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/storage/sqlite"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/spf13/afero"
)

const serviceName = "resumable-downloader"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("resumable downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	dr := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Downloader
	fsys := afero.NewOsFs()
	resolver := destination.NewResolver(fsys, cfg.TargetDir, cfg.ExternalDir)

	if err := fsys.MkdirAll(cfg.TargetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target dir: %w", err)
	}

	fetcher := transfer.NewInstrumentedFetcher(transfer.NewClient(cfg.TransferConfig(), fsys), tel)

	dl := downloader.New(fetcher, dr, resolver, cfg.MaxParallel, downloader.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}, downloader.WithTelemetry(tel))

	// =========================================================================
	// Start Notification
	setupNotificationForDownloader(ctx, dl, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, dl, dr, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"target_dir", cfg.TargetDir,
		"external_dir", cfg.ExternalDir,
		"max_parallel", cfg.MaxParallel,
		"max_attempts", cfg.MaxAttempts,
		"retention", cfg.KeepFailedFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	go runCleanup(ctx, fsys, dr, dl, tel, cfg)

	// =========================================================================
	// Wait for shutdown
	select {
	case err := <-serverErrors:
		dl.Close()

		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// Running downloads stop here; their partial files are resumed on the next request.
		dl.Close()

		return ctx.Err()
	}
}

func setupNotificationForDownloader(ctx context.Context, dl *downloader.Downloader, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = notifier.NopNotifier{}
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	go func() {
		for event := range dl.OnDownloadError {
			if notifyErr := notif.Notify(ctx, notifier.FailedMessage(event)); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", event.ID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range dl.OnDownloadFinished {
			if notifyErr := notif.Notify(ctx, notifier.FinishedMessage(event)); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", event.ID, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, dl *downloader.Downloader, dr storage.DownloadReadRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	dHandler := rest.NewDownloadsHandler(dl, dr, cfg.API.Username, cfg.API.Password)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", dHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// runCleanup periodically deletes the partial files of downloads that failed longer than
// the retention ago, and forgets their records. Files of a destination that was downloaded
// again later, or is being downloaded right now, are kept.
func runCleanup(ctx context.Context, fsys afero.Fs, dr storage.DownloadRepository, dl *downloader.Downloader, tel *telemetry.Telemetry, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	guard := cleanup.Guard{History: dr, Busy: dl.Busy}

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			expired, err := dr.ListFailedBefore(ctx, time.Now().Add(-cfg.KeepFailedFor))
			if err != nil {
				logger.Error("failed to get failed downloads for cleanup", "err", err)
				tel.RecordSystemError("cleanup", "list")

				continue
			}

			cleaned, err := cleanup.DeleteExpiredPartials(ctx, fsys, expired, cfg.KeepFailedFor, guard)
			if err != nil {
				logger.Error("failed to delete expired partial files", "err", err)
				tel.RecordSystemError("cleanup", "delete")
			}

			for _, rec := range cleaned {
				if err := dr.Delete(ctx, rec.ID); err != nil {
					logger.Error("failed to delete download record", "download_id", rec.ID, "err", err)
				}
			}
		}
	}
}
