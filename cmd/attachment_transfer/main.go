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
	"github.com/italolelis/attachment_transfer/internal/blobstore"
	"github.com/italolelis/attachment_transfer/internal/cleanup"
	"github.com/italolelis/attachment_transfer/internal/config"
	"github.com/italolelis/attachment_transfer/internal/history"
	"github.com/italolelis/attachment_transfer/internal/http/rest"
	"github.com/italolelis/attachment_transfer/internal/logctx"
	"github.com/italolelis/attachment_transfer/internal/notifier"
	"github.com/italolelis/attachment_transfer/internal/storage"
	"github.com/italolelis/attachment_transfer/internal/storage/sqlite"
	"github.com/italolelis/attachment_transfer/internal/telemetry"
	"github.com/italolelis/attachment_transfer/internal/transfer"
	"github.com/italolelis/attachment_transfer/internal/transport/memory"
	"github.com/italolelis/attachment_transfer/internal/transport/putio"
	"github.com/italolelis/attachment_transfer/internal/transport/s3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// sink is what the manager writes downloads into and the API serves them from.
type sink interface {
	transfer.Sink
	rest.BlobReader
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("attachment transfer starting...", "log_level", cfg.LogLevel, "transport", cfg.Transport)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

	repo := sqlite.NewInstrumentedTransferRepository(database, tel)

	// =========================================================================
	// Start Transport
	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build transport: %w", err)
	}

	blobs := buildSink(cfg)

	// =========================================================================
	// Start Transfer Manager
	// The manager outlives the signal context; Close owns its shutdown.
	manager := transfer.NewManager(context.WithoutCancel(ctx),
		transfer.NewInstrumentedTransport(transport, tel, cfg.Transport),
		blobs,
		transfer.Config{
			MaxParallel: cfg.MaxParallel,
			ChunkSize:   int(cfg.ChunkSize),
			ClientID:    cfg.ClientID,
			Telemetry:   tel,
		},
	)

	manager.AddObserver(transfer.NewLoggingObserver(logger))
	manager.AddObserver(transfer.NewMetricsObserver(tel))
	manager.AddObserver(history.NewObserver(repo, logger))

	g, gctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		notif := notifier.NewObserver(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL), cfg.NotifySuccess, logger)
		manager.AddObserver(notif)

		g.Go(func() error { return notif.Run(gctx) })
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, manager, repo, blobs, tel, cfg)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		runCleanup(gctx, repo, cfg)

		return nil
	})

	logger.Info("waiting for transfers...",
		"max_parallel", cfg.MaxParallel,
		"chunk_size", cfg.ChunkSize.String(),
		"retention", cfg.KeepHistoryFor.String(),
	)

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Transfers are cancelled first so requests waiting on them can answer.
		if err := manager.Close(shutdownCtx); err != nil {
			logger.Error("failed to wait for transfer workers", "err", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

// This is an abstract factory for the transport.
func buildTransport(ctx context.Context, cfg *config.Config) (transfer.Transport, error) {
	switch cfg.Transport {
	case "memory":
		return memory.New(), nil
	case "s3":
		s3cfg := s3.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PartSize:        int64(cfg.S3.PartSize),
		}

		client, err := s3.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}

		return s3.New(client, s3cfg), nil
	case "putio":
		client := putio.NewClient(cfg.PutioToken, cfg.PutioRootDir)

		if err := client.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication error: %w", err)
		}

		return client, nil
	}

	return nil, fmt.Errorf("invalid transport: %s", cfg.Transport)
}

func buildSink(cfg *config.Config) sink {
	if cfg.BlobDir == "" {
		return blobstore.NewMemory()
	}

	return blobstore.NewFS(cfg.BlobDir)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, m *transfer.Manager, repo storage.TransferReadRepository, blobs rest.BlobReader, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewTransfersHandler(cfg.API.Username, cfg.API.Password, m, repo, blobs, int64(cfg.MaxUploadSize))

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "attachment_transfer"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func runCleanup(ctx context.Context, repo storage.TransferWriteRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.CleanupInterval <= 0 {
		return
	}

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			// failures are logged by the sweep; the next tick retries
			_, _ = cleanup.DeleteExpiredTransfers(ctx, repo, cfg.KeepHistoryFor)
		}
	}
}
