package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"dockhand/internal/logging"
)

// Sweeper reclaims temp files that outlive their request: a crash between
// staging and cleanup would otherwise leak them forever. It combines an
// age-based periodic sweep with an fsnotify watch that picks up new tenant
// directories as they appear.
type Sweeper struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
}

// NewSweeper creates a sweeper over the staging root. Files older than
// maxAge are removed on each pass.
func NewSweeper(root string, maxAge time.Duration) *Sweeper {
	interval := maxAge / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Sweeper{root: root, maxAge: maxAge, interval: interval}
}

// Run sweeps until the context is cancelled. The fsnotify watcher is best
// effort; when it cannot be established the periodic sweep still runs.
func (s *Sweeper) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Get(logging.CategorySweep).Warn("fsnotify unavailable, falling back to timer-only sweep: %v", err)
		watcher = nil
	} else {
		defer watcher.Close()
		if err := os.MkdirAll(s.root, 0755); err == nil {
			if err := watcher.Add(s.root); err != nil {
				logging.Get(logging.CategorySweep).Warn("cannot watch %s: %v", s.root, err)
			}
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()
	for {
		var events chan fsnotify.Event
		if watcher != nil {
			events = watcher.Events
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		case ev, ok := <-events:
			if !ok {
				watcher = nil
				continue
			}
			// New tenant directories get their own watch so late file
			// creations are seen without a full rescan.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := watcher.Add(ev.Name); err != nil {
						logging.Get(logging.CategorySweep).Warn("cannot watch %s: %v", ev.Name, err)
					}
				}
			}
		}
	}
}

// sweep removes files older than maxAge and prunes empty tenant directories.
func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.maxAge)
	removed := 0

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // tolerate files vanishing mid-walk
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		logging.Get(logging.CategorySweep).Warn("sweep failed: %v", err)
		return
	}

	if removed > 0 {
		logging.Sweep("reclaimed %d stale temp files under %s", removed, s.root)
	}

	s.pruneEmptyDirs()
}

func (s *Sweeper) pruneEmptyDirs() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if children, err := os.ReadDir(dir); err == nil && len(children) == 0 {
			os.Remove(dir)
		}
	}
}
