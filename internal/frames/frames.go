package frames

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

const (
	Prefix    = "frame_"
	Extension = ".png"

	// Pattern is the printf-style name consumed and produced by ffmpeg.
	Pattern = Prefix + "%04d" + Extension
	// Glob matches every frame written with Pattern.
	Glob = Prefix + "*" + Extension
)

// Name returns the file name of the frame with 1-based index n.
func Name(n int) string {
	return fmt.Sprintf(Pattern, n)
}

// IsFrame reports whether name follows the frame naming scheme.
func IsFrame(name string) bool {
	if !strings.HasPrefix(name, Prefix) || !strings.HasSuffix(name, Extension) {
		return false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, Prefix), Extension)
	if len(digits) < 4 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// List returns the frame file names in dir in temporal order.
// Other entries are ignored.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames directory '%s': %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsFrame(e.Name()) {
			names = append(names, e.Name())
		}
	}
	// Zero padding makes lexicographic order temporal, as long as every index
	// has the same width. Longer names (more than 9999 frames) sort after.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names, nil
}
