package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"time"

	"git.home.luguber.info/inful/buildrelay/internal/build"
)

// WriteLogFile writes a build's log messages to <dir>/<buildID>.log, one
// message per line, replacing any previous file for the same build.
func WriteLogFile(dir, buildID string, logs []build.Log) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	var sb strings.Builder
	for _, rec := range logs {
		sb.WriteString(rec.Message)
		sb.WriteByte('\n')
	}

	path := filepath.Join(dir, buildID+".log")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	return nil
}

// PruneLogFiles removes .log files in dir modified before the cutoff and
// returns how many were deleted. A missing directory is not an error.
func PruneLogFiles(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read log directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
