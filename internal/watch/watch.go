// Package watch re-runs the coverage pipeline when watched source
// files change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options controls what triggers a re-run.
type Options struct {
	Paths      []string
	Extensions []string
	Debounce   time.Duration
	// Ignore lists artifact paths (profile, HTML report, history
	// store) whose changes must not re-trigger the run.
	Ignore []string
}

// ShouldTrigger reports whether a change to name warrants a re-run.
func (o Options) ShouldTrigger(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, ignored := range o.Ignore {
		if sameFile(name, ignored) {
			return false
		}
	}
	if len(o.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(name)
	for _, want := range o.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// addRecursive registers dir and every non-hidden subdirectory with
// the watcher.
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

// Run executes fn once, then again after each debounced batch of
// relevant filesystem events, until ctx is cancelled. fn failures are
// logged but do not stop the loop.
func Run(ctx context.Context, opts Options, logger *slog.Logger, fn func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, p := range opts.Paths {
		if err := addRecursive(watcher, p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}

	if err := fn(); err != nil {
		logger.Warn("run failed", "error", err)
	}

	var debounceTimer *time.Timer
	runCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-runCh:
			logger.Info("change detected, re-running")
			if err := fn(); err != nil {
				logger.Warn("run failed", "error", err)
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Directories created after the walk need their own watch,
			// or changes inside them are invisible.
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if !strings.HasPrefix(filepath.Base(event.Name), ".") {
						if err := addRecursive(watcher, event.Name); err != nil {
							logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
						}
					}
					continue
				}
			}
			if !opts.ShouldTrigger(event.Name) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(opts.Debounce, func() {
				select {
				case runCh <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
