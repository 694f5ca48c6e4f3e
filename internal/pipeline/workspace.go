package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the pair of per-job working directories: extracted frames go
// to In, processed frames to Out.
type Workspace struct {
	Root string
	In   string
	Out  string
}

// acquireWorkspace creates <framesRoot>/<id>/{in,out}. Creation is
// idempotent, so stale directories from an earlier crashed run are reused.
func acquireWorkspace(framesRoot, id string) (*Workspace, error) {
	root := filepath.Join(framesRoot, id)
	ws := &Workspace{
		Root: root,
		In:   filepath.Join(root, "in"),
		Out:  filepath.Join(root, "out"),
	}
	for _, dir := range []string{ws.In, ws.Out} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create working directory '%s': %w", dir, err)
		}
	}
	return ws, nil
}

// Release deletes every file in both working directories, then the
// directories themselves. Directories that are already gone are skipped.
func (w *Workspace) Release() error {
	var errs []error
	for _, dir := range []string{w.In, w.Out} {
		if err := clearDir(dir); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(w.Root); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove '%s': %w", w.Root, err))
	}
	return errors.Join(errs...)
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read '%s': %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove '%s': %w", e.Name(), err)
		}
	}
	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("remove '%s': %w", dir, err)
	}
	return nil
}

// EnsureDirs creates each directory if it is missing.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}
	return nil
}
