package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bdougie/cutout/internal/frames"
)

// ErrMissingOutput is returned when a tool exits 0 without writing its output.
var ErrMissingOutput = errors.New("expected output was not produced")

// Assembler encodes a directory of numbered frames into an H.264 video.
type Assembler struct {
	bin    string
	fps    int
	runner Runner
	logger *slog.Logger
}

func NewAssembler(bin string, fps int, runner Runner, logger *slog.Logger) *Assembler {
	if bin == "" {
		bin = DefaultBinary
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
	return &Assembler{bin: bin, fps: fps, runner: runner, logger: logger}
}

// Command builds the assembly invocation. The %04d input pattern makes
// ffmpeg read frames by ascending index, independent of directory order.
func (a *Assembler) Command(framesDir, outputPath string) Command {
	rate := strconv.Itoa(a.fps)
	return Command{
		Name: "assemble video",
		Path: a.bin,
		Args: []string{
			"-y",
			"-r", rate,
			"-i", filepath.Join(framesDir, frames.Pattern),
			"-c:v", "libx264",
			"-vf", "fps=" + rate,
			"-pix_fmt", "yuv420p",
			outputPath,
		},
		Output: outputPath,
	}
}

func (a *Assembler) Assemble(ctx context.Context, framesDir, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	cmd := a.Command(framesDir, outputPath)
	a.logger.Debug("running ffmpeg", "cmd", cmd.Name, "args", cmd.Args)
	if _, err := a.runner.Run(ctx, cmd); err != nil {
		// ffmpeg may leave a truncated file behind.
		if rerr := os.Remove(cmd.Output); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			a.logger.Warn("failed to remove partial output", "output", cmd.Output, "error", rerr)
		}
		return err
	}

	if _, err := os.Stat(cmd.Output); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Name, ErrMissingOutput, cmd.Output)
	}

	a.logger.Info("video assembled", "output", outputPath)
	return nil
}
