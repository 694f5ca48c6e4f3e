package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/bdougie/cutout/internal/archive"
	"github.com/bdougie/cutout/internal/batch"
	"github.com/bdougie/cutout/internal/config"
	"github.com/bdougie/cutout/internal/events"
	"github.com/bdougie/cutout/internal/ffmpeg"
	"github.com/bdougie/cutout/internal/pipeline"
	"github.com/bdougie/cutout/internal/rembg"
	"github.com/bdougie/cutout/internal/server"
	"github.com/bdougie/cutout/internal/storage"
	"github.com/bdougie/cutout/internal/sweeper"
	"github.com/bdougie/cutout/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Configure logger
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      cfg.Level(),
			TimeFormat: "15:04:05",
		}),
	)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("cutout exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pipeline.EnsureDirs(cfg.UploadDir, cfg.ProcessedDir, cfg.FramesDir); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.OTelEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, cfg.OTelEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			// ctx is already cancelled at shutdown.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(flushCtx); err != nil {
				logger.Warn("failed to flush traces", "error", err)
			}
		}()
		logger.Info("exporting traces", "endpoint", cfg.OTelEndpoint)
	}

	deps := pipeline.Deps{Store: store}
	if cfg.MinIOEndpoint != "" {
		arch, err := archive.NewMinIOArchive(archive.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
		})
		if err != nil {
			return err
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			return err
		}
		deps.Archiver = arch
		logger.Info("archiving outputs", "endpoint", cfg.MinIOEndpoint, "bucket", cfg.MinIOBucket)
	}
	if cfg.RabbitMQURL != "" {
		pub, err := events.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		deps.Publisher = pub
		logger.Info("publishing job events", "exchange", cfg.RabbitMQExchange)
	}

	remover := newRemover(cfg, logger)
	deps.Extractor = ffmpeg.NewExtractor(cfg.FFmpegPath, cfg.Scale, cfg.FPS, nil, logger)
	deps.Assembler = ffmpeg.NewAssembler(cfg.FFmpegPath, cfg.FPS, nil, logger)
	deps.Batch = batch.NewProcessor(remover, cfg.Workers, logger)
	deps.Remover = remover

	svc := pipeline.NewService(deps, pipeline.Config{
		ProcessedDir:      cfg.ProcessedDir,
		FramesDir:         cfg.FramesDir,
		CleanupOnFailure:  cfg.CleanupOnFailure,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	}, logger)

	sw := sweeper.New(sweeper.Options{
		Dirs:     []string{cfg.UploadDir, cfg.ProcessedDir, cfg.FramesDir},
		MaxAge:   cfg.SweepMaxAge,
		IsActive: svc.Running,
		Prune:    svc.PruneProgress,
	}, logger)
	if err := sw.Start(cfg.SweepSchedule); err != nil {
		return err
	}
	defer sw.Stop()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.New(svc, server.Config{
			UploadDir:      cfg.UploadDir,
			MaxUploadBytes: cfg.MaxUploadMB << 20,
		}, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "workers", cfg.Workers, "fps", cfg.FPS)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down, waiting for running jobs")
	// Video jobs are long; in-flight uploads get a generous grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory job store")
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("using postgres job store")
	return store, nil
}

func newRemover(cfg *config.Config, logger *slog.Logger) rembg.Remover {
	if cfg.RembgURL == "" {
		logger.Warn("REMBG_URL not set, falling back to chroma-key removal", "tolerance", cfg.ChromaTolerance)
		return rembg.NewChromaRemBG(cfg.ChromaTolerance)
	}
	logger.Info("using rembg server", "url", cfg.RembgURL)
	return rembg.NewServerRemBG(cfg.RembgURL, cfg.RembgTimeout, nil, logger)
}
