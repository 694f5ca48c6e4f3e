// Package batch removes backgrounds from every frame in a directory using a
// bounded pool of workers.
//
// Progress is reported after each frame completes, in completion order, as
// floor(completed*100/total). Workers finish in no particular order, so the
// value only ever goes up but does not step evenly; callers polling it must
// not assume regular increments.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/cutout/internal/frames"
	"github.com/bdougie/cutout/internal/metrics"
	"github.com/bdougie/cutout/internal/progress"
	"github.com/bdougie/cutout/internal/rembg"
)

const DefaultWorkers = 4 // Adjust based on your CPU cores

// FrameError identifies the frame that aborted a batch.
type FrameError struct {
	Frame string
	Num   int
	Total int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d/%d (%s) failed: %v", e.Num, e.Total, e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

type Result struct {
	Frames int
}

type Processor struct {
	remover rembg.Remover
	workers int
	logger  *slog.Logger
}

func NewProcessor(remover rembg.Remover, workers int, logger *slog.Logger) *Processor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{remover: remover, workers: workers, logger: logger}
}

func (p *Processor) Workers() int { return p.workers }

// Run processes every frame of inDir into outDir under the same name.
// The first failure cancels frames that have not started and is returned.
// With no frames it returns immediately and leaves tracker untouched.
func (p *Processor) Run(ctx context.Context, inDir, outDir string, tracker *progress.Tracker) (Result, error) {
	names, err := frames.List(inDir)
	if err != nil {
		return Result{}, err
	}
	if len(names) == 0 {
		p.logger.Warn("no frames to process", "dir", inDir)
		return Result{}, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output directory '%s': %w", outDir, err)
	}
	if tracker == nil {
		tracker = &progress.Tracker{}
	}

	total := len(names)
	p.logger.Info("processing frames", "count", total, "workers", p.workers)

	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, name := range names {
		if gctx.Err() != nil {
			break
		}
		work := frameWork{name: name, num: i + 1, total: total}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.processFrame(gctx, inDir, outDir, work); err != nil {
				return err
			}
			done := completed.Add(1)
			tracker.Advance(progress.Percent(int(done), total))
			return nil
		})
	}

	err = g.Wait()
	res := Result{Frames: int(completed.Load())}
	if err == nil && res.Frames < total {
		// Cancelled before any frame could report an error.
		err = ctx.Err()
	}
	if err != nil {
		p.logger.Error("batch aborted", "completed", res.Frames, "total", total, "error", err)
		return res, err
	}
	return res, nil
}

type frameWork struct {
	name  string
	num   int
	total int
}

func (p *Processor) processFrame(ctx context.Context, inDir, outDir string, work frameWork) error {
	started := time.Now()

	data, err := os.ReadFile(filepath.Join(inDir, work.name))
	if err != nil {
		return &FrameError{Frame: work.name, Num: work.num, Total: work.total, Err: fmt.Errorf("read: %w", err)}
	}

	out, err := p.remover.Remove(ctx, data)
	if err != nil {
		metrics.FramesProcessedTotal.WithLabelValues("failed").Inc()
		return &FrameError{Frame: work.name, Num: work.num, Total: work.total, Err: fmt.Errorf("remove background: %w", err)}
	}

	if err := os.WriteFile(filepath.Join(outDir, work.name), out, 0o644); err != nil {
		return &FrameError{Frame: work.name, Num: work.num, Total: work.total, Err: fmt.Errorf("write: %w", err)}
	}

	metrics.FramesProcessedTotal.WithLabelValues("ok").Inc()
	metrics.FrameDuration.Observe(time.Since(started).Seconds())
	p.logger.Debug("frame processed", "frame", work.name, "num", work.num, "total", work.total)
	return nil
}
