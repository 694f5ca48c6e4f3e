package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bdougie/cutout/internal/frames"
)

const (
	DefaultBinary = "ffmpeg"
	DefaultFPS    = 15
	DefaultScale  = 0.5
)

// Extractor splits a video into numbered PNG frames at a reduced size and a
// fixed frame rate.
type Extractor struct {
	bin    string
	scale  float64
	fps    int
	runner Runner
	logger *slog.Logger
}

func NewExtractor(bin string, scale float64, fps int, runner Runner, logger *slog.Logger) *Extractor {
	if bin == "" {
		bin = DefaultBinary
	}
	if scale <= 0 || scale > 1 {
		scale = DefaultScale
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{bin: bin, scale: scale, fps: fps, runner: runner, logger: logger}
}

// Command builds the extraction invocation. Scaled dimensions are rounded
// down to even numbers so the frames can be encoded as yuv420p later.
func (e *Extractor) Command(videoPath, outputDir string) Command {
	s := strconv.FormatFloat(e.scale, 'f', -1, 64)
	filter := fmt.Sprintf("scale=trunc(iw*%s/2)*2:trunc(ih*%s/2)*2,fps=%d", s, s, e.fps)
	return Command{
		Name: "extract frames",
		Path: e.bin,
		Args: []string{
			"-y",
			"-i", videoPath,
			"-vf", filter,
			filepath.Join(outputDir, frames.Pattern),
		},
		Output: filepath.Join(outputDir, frames.Glob),
	}
}

// Extract writes frames of videoPath into outputDir and returns how many
// frames were produced.
func (e *Extractor) Extract(ctx context.Context, videoPath, outputDir string) (int, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return 0, fmt.Errorf("video file '%s': %w", videoPath, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, fmt.Errorf("create frame directory '%s': %w", outputDir, err)
	}

	cmd := e.Command(videoPath, outputDir)
	e.logger.Debug("running ffmpeg", "cmd", cmd.Name, "args", cmd.Args)
	if _, err := e.runner.Run(ctx, cmd); err != nil {
		return 0, err
	}

	extracted, err := filepath.Glob(cmd.Output)
	if err != nil {
		return 0, fmt.Errorf("glob frames: %w", err)
	}

	e.logger.Info("frames extracted", "count", len(extracted), "dir", outputDir)
	return len(extracted), nil
}
