// Package pipeline runs image and video background-removal jobs.
//
// A video job moves through
//
//	init -> extracting -> batch_processing -> assembling -> cleanup -> done
//
// and any failing stage aborts the rest. Each job gets its own workspace
// and progress tracker, so concurrent jobs do not interfere.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bdougie/cutout/internal/batch"
	"github.com/bdougie/cutout/internal/metrics"
	"github.com/bdougie/cutout/internal/models"
	"github.com/bdougie/cutout/internal/progress"
	"github.com/bdougie/cutout/internal/rembg"
	"github.com/bdougie/cutout/internal/storage"
)

type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outputDir string) (int, error)
}

type FrameAssembler interface {
	Assemble(ctx context.Context, framesDir, outputPath string) error
}

type FrameBatch interface {
	Run(ctx context.Context, inDir, outDir string, tracker *progress.Tracker) (batch.Result, error)
}

// Archiver copies a finished output elsewhere and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, job *models.Job) (string, error)
}

// Publisher announces finished jobs.
type Publisher interface {
	Publish(ctx context.Context, job *models.Job) error
}

const tracerName = "github.com/bdougie/cutout/internal/pipeline"

type Config struct {
	ProcessedDir string
	FramesDir    string
	// CleanupOnFailure removes the workspace of failed jobs too. When false
	// it is left for inspection and reclaimed later by the sweeper.
	CleanupOnFailure  bool
	MaxConcurrentJobs int
}

type Deps struct {
	Extractor FrameExtractor
	Assembler FrameAssembler
	Batch     FrameBatch
	Remover   rembg.Remover
	Store     storage.Store
	Progress  *progress.Registry
	Archiver  Archiver  // optional
	Publisher Publisher // optional
}

type Service struct {
	extractor FrameExtractor
	assembler FrameAssembler
	batch     FrameBatch
	remover   rembg.Remover
	store     storage.Store
	progress  *progress.Registry
	archiver  Archiver
	publisher Publisher
	cfg       Config
	slots     chan struct{}
	logger    *slog.Logger

	mu       sync.Mutex
	running  map[string]struct{}
	finished map[string]time.Time
}

func NewService(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if deps.Store == nil {
		deps.Store = storage.NewMemoryStore()
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor: deps.Extractor,
		assembler: deps.Assembler,
		batch:     deps.Batch,
		remover:   deps.Remover,
		store:     deps.Store,
		progress:  deps.Progress,
		archiver:  deps.Archiver,
		publisher: deps.Publisher,
		cfg:       cfg,
		slots:     make(chan struct{}, cfg.MaxConcurrentJobs),
		logger:    logger,
		running:   make(map[string]struct{}),
		finished:  make(map[string]time.Time),
	}
}

func (s *Service) Store() storage.Store { return s.store }

func (s *Service) Progress() *progress.Registry { return s.progress }

// ProcessVideo runs the full video pipeline for job and returns the path of
// the assembled video. The job record is created, kept current at every
// stage, and left completed or failed.
func (s *Service) ProcessVideo(ctx context.Context, job *models.Job) (string, error) {
	log := s.logger.With("job_id", job.ID, "kind", job.Kind)
	ctx, span := startJobSpan(ctx, "pipeline.ProcessVideo", job)
	defer span.End()

	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	// Queued jobs count as running so their upload is not swept.
	s.begin(job.ID)
	defer s.end(job.ID)

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return "", s.fail(ctx, span, job, fmt.Errorf("waiting for a free slot: %w", ctx.Err()), log)
	}
	defer func() { <-s.slots }()

	// Queued jobs have no tracker until they hold a slot.
	tracker := s.progress.Start(job.ID)

	started := time.Now()
	log.Info("video job started", "source", job.SourceName)

	output, err := s.runVideo(ctx, job, tracker, log)
	if err != nil {
		return "", s.fail(ctx, span, job, err, log)
	}

	// Forced regardless of the last computed batch value.
	tracker.Set(100)
	s.complete(ctx, job, output, log)
	span.SetAttributes(attribute.Int("job.frames", job.FrameCount))
	log.Info("video job completed", "output", output, "frames", job.FrameCount, "elapsed", time.Since(started))
	return output, nil
}

func (s *Service) runVideo(ctx context.Context, job *models.Job, tracker *progress.Tracker, log *slog.Logger) (output string, err error) {
	s.stage(ctx, job, models.StageInit, log)
	ws, err := acquireWorkspace(s.cfg.FramesDir, job.ID)
	if err != nil {
		return "", err
	}

	released := false
	defer func() {
		if released {
			return
		}
		if err != nil && !s.cfg.CleanupOnFailure {
			log.Warn("leaving workspace of failed job", "dir", ws.Root)
			return
		}
		if rerr := ws.Release(); rerr != nil {
			log.Warn("failed to release workspace", "dir", ws.Root, "error", rerr)
		}
	}()

	s.stage(ctx, job, models.StageExtracting, log)
	err = timed(ctx, models.StageExtracting, func(ctx context.Context) error {
		n, err := s.extractor.Extract(ctx, job.InputPath, ws.In)
		job.FrameCount = n
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", models.StageExtracting, err)
	}

	s.stage(ctx, job, models.StageBatch, log)
	err = timed(ctx, models.StageBatch, func(ctx context.Context) error {
		_, err := s.batch.Run(ctx, ws.In, ws.Out, tracker)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", models.StageBatch, err)
	}

	s.stage(ctx, job, models.StageAssembling, log)
	output = filepath.Join(s.cfg.ProcessedDir, job.ID+".mp4")
	err = timed(ctx, models.StageAssembling, func(ctx context.Context) error {
		return s.assembler.Assemble(ctx, ws.Out, output)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", models.StageAssembling, err)
	}

	s.stage(ctx, job, models.StageCleanup, log)
	released = true
	if err := ws.Release(); err != nil {
		return "", fmt.Errorf("%s: %w", models.StageCleanup, err)
	}
	return output, nil
}

// ProcessImage removes the background of a single image. There is no
// progress tracking: the removal is one call.
func (s *Service) ProcessImage(ctx context.Context, job *models.Job) (string, error) {
	log := s.logger.With("job_id", job.ID, "kind", job.Kind)
	ctx, span := startJobSpan(ctx, "pipeline.ProcessImage", job)
	defer span.End()

	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	s.begin(job.ID)
	defer s.end(job.ID)

	s.stage(ctx, job, models.StageRemoving, log)
	output := filepath.Join(s.cfg.ProcessedDir, job.ID+".png")
	err := timed(ctx, models.StageRemoving, func(ctx context.Context) error {
		data, err := os.ReadFile(job.InputPath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		out, err := s.remover.Remove(ctx, data)
		if err != nil {
			return fmt.Errorf("remove background: %w", err)
		}
		if err := os.MkdirAll(s.cfg.ProcessedDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		if err := os.WriteFile(output, out, 0o644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", s.fail(ctx, span, job, err, log)
	}

	s.complete(ctx, job, output, log)
	log.Info("image job completed", "output", output)
	return output, nil
}

// Running reports whether job id is in progress.
func (s *Service) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// PruneProgress forgets trackers of jobs that finished before cutoff and
// returns how many were dropped.
func (s *Service) PruneProgress(cutoff time.Time) int {
	s.mu.Lock()
	var ids []string
	for id, at := range s.finished {
		if at.Before(cutoff) {
			ids = append(ids, id)
			delete(s.finished, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.progress.Forget(id)
	}
	return len(ids)
}

func (s *Service) begin(id string) {
	metrics.ActiveJobs.Inc()
	s.mu.Lock()
	s.running[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) end(id string) {
	metrics.ActiveJobs.Dec()
	s.mu.Lock()
	delete(s.running, id)
	s.finished[id] = time.Now()
	s.mu.Unlock()
}

func (s *Service) stage(ctx context.Context, job *models.Job, stage models.Stage, log *slog.Logger) {
	job.MarkStage(stage)
	s.save(ctx, job, log)
	log.Debug("stage", "stage", stage)
}

// complete marks the job done, archives the output when configured, and
// announces it. Archive and publish failures are logged only.
func (s *Service) complete(ctx context.Context, job *models.Job, output string, log *slog.Logger) {
	job.MarkCompleted(output)
	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, job)
		if err != nil {
			log.Warn("failed to archive output", "output", output, "error", err)
		} else {
			job.ArchiveKey = key
			log.Debug("output archived", "key", key)
		}
	}
	s.save(ctx, job, log)
	s.publish(ctx, job, log)
	metrics.JobsTotal.WithLabelValues(string(job.Kind), string(models.StatusCompleted)).Inc()
}

func (s *Service) fail(ctx context.Context, span trace.Span, job *models.Job, err error, log *slog.Logger) error {
	// The record is written even when ctx is what failed the job.
	ctx = context.WithoutCancel(ctx)
	job.MarkFailed(err)
	s.save(ctx, job, log)
	s.publish(ctx, job, log)
	metrics.JobsTotal.WithLabelValues(string(job.Kind), string(models.StatusFailed)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, string(job.Stage))
	log.Error("job failed", "stage", job.Stage, "error", err)
	return err
}

func (s *Service) publish(ctx context.Context, job *models.Job, log *slog.Logger) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		log.Warn("failed to publish job event", "status", job.Status, "error", err)
	}
}

// save persists job state. Store errors are logged, not returned.
func (s *Service) save(ctx context.Context, job *models.Job, log *slog.Logger) {
	if err := s.store.Update(ctx, job); err != nil {
		log.Warn("failed to update job record", "stage", job.Stage, "error", err)
	}
}

func startJobSpan(ctx context.Context, name string, job *models.Job) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("job.source", job.SourceName),
	))
}

// timed runs one stage inside its own span and records its duration.
func timed(ctx context.Context, stage models.Stage, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, string(stage))
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
