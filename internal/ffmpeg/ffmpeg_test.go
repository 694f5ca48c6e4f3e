package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/cutout/internal/frames"
)

type fakeRunner struct {
	calls []Command
	run   func(cmd Command) error
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) ([]byte, error) {
	f.calls = append(f.calls, cmd)
	if f.run != nil {
		return nil, f.run(cmd)
	}
	return nil, nil
}

func TestExtractor_Command(t *testing.T) {
	t.Parallel()

	e := NewExtractor("", 0, 0, nil, nil)
	cmd := e.Command("/in/clip.mp4", "/work/in")

	assert.Equal(t, "ffmpeg", cmd.Path)
	assert.Equal(t, []string{
		"-y",
		"-i", "/in/clip.mp4",
		"-vf", "scale=trunc(iw*0.5/2)*2:trunc(ih*0.5/2)*2,fps=15",
		"/work/in/frame_%04d.png",
	}, cmd.Args)
	assert.Equal(t, "/work/in/frame_*.png", cmd.Output)
}

func TestExtractor_CustomRate(t *testing.T) {
	t.Parallel()

	e := NewExtractor("/usr/bin/ffmpeg", 0.25, 24, nil, nil)
	cmd := e.Command("v.mov", "out")
	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Path)
	assert.Contains(t, cmd.Args, "scale=trunc(iw*0.25/2)*2:trunc(ih*0.25/2)*2,fps=24")
}

func TestExtractor_Extract(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o644))
	out := filepath.Join(dir, "frames", "in")

	runner := &fakeRunner{run: func(cmd Command) error {
		outDir := filepath.Dir(cmd.Args[len(cmd.Args)-1])
		for i := 1; i <= 3; i++ {
			if err := os.WriteFile(filepath.Join(outDir, frames.Name(i)), []byte{byte(i)}, 0o644); err != nil {
				return err
			}
		}
		return nil
	}}

	n, err := NewExtractor("", 0.5, 15, runner, nil).Extract(context.Background(), video, out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, runner.calls, 1)
}

func TestExtractor_MissingVideo(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	_, err := NewExtractor("", 0.5, 15, runner, nil).Extract(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, runner.calls, "ffmpeg must not run without an input")
}

func TestExtractor_ToolFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o644))

	want := &CommandError{Name: "extract frames", Path: "ffmpeg", ExitCode: 1, Output: "Invalid data found when processing input"}
	runner := &fakeRunner{run: func(Command) error { return want }}

	_, err := NewExtractor("", 0.5, 15, runner, nil).Extract(context.Background(), video, filepath.Join(dir, "in"))
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
}

func TestAssembler_Command(t *testing.T) {
	t.Parallel()

	a := NewAssembler("", 15, nil, nil)
	cmd := a.Command("/work/out", "/processed/job.mp4")
	assert.Equal(t, []string{
		"-y",
		"-r", "15",
		"-i", "/work/out/frame_%04d.png",
		"-c:v", "libx264",
		"-vf", "fps=15",
		"-pix_fmt", "yuv420p",
		"/processed/job.mp4",
	}, cmd.Args)
	assert.Equal(t, "/processed/job.mp4", cmd.Output)
}

func TestAssembler_Assemble(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	output := filepath.Join(dir, "processed", "job.mp4")
	runner := &fakeRunner{run: func(cmd Command) error {
		return os.WriteFile(cmd.Output, []byte("mp4"), 0o644)
	}}

	require.NoError(t, NewAssembler("", 15, runner, nil).Assemble(context.Background(), dir, output))
	assert.FileExists(t, output)
}

func TestAssembler_FailureRemovesPartialOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	output := filepath.Join(dir, "processed", "job.mp4")
	want := &CommandError{Name: "assemble video", Path: "ffmpeg", ExitCode: 1}
	runner := &fakeRunner{run: func(cmd Command) error {
		require.NoError(t, os.WriteFile(cmd.Output, []byte("trunc"), 0o644))
		return want
	}}

	err := NewAssembler("", 15, runner, nil).Assemble(context.Background(), dir, output)
	assert.ErrorIs(t, err, want)
	assert.NoFileExists(t, output)
}

func TestAssembler_MissingOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := NewAssembler("", 15, &fakeRunner{}, nil).Assemble(context.Background(), dir, filepath.Join(dir, "job.mp4"))
	assert.ErrorIs(t, err, ErrMissingOutput)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	out, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "failing tool",
		Path: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	})
	assert.Contains(t, string(out), "boom")

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "failing tool", cmdErr.Name)
	assert.Contains(t, cmdErr.Error(), "exited with code 3")
	assert.Contains(t, cmdErr.Error(), "boom")

	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))
}

func TestExecRunner_Success(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	out, err := ExecRunner{}.Run(context.Background(), Command{Name: "ok", Path: "sh", Args: []string{"-c", "echo ready"}})
	require.NoError(t, err)
	assert.Equal(t, "ready\n", string(out))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := ExecRunner{}.Run(context.Background(), Command{Name: "ghost", Path: "definitely-not-a-real-binary-xyz"})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestExecRunner_Cancel(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ExecRunner{}.Run(ctx, Command{Name: "slow", Path: "sleep", Args: []string{"5"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}
