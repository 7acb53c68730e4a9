package acquisition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const jobDirPrefix = "job-"

// CleanupOrphans removes job directories under workDir older than maxAge.
// Jobs clean up after themselves; this catches what a crash left behind.
func CleanupOrphans(workDir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read work dir: %w", err)
	}
	removed := 0
	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), jobDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workDir, entry.Name())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// ActiveJobs counts job directories currently present under workDir.
func ActiveJobs(workDir string) int {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), jobDirPrefix) {
			count++
		}
	}
	return count
}
