// internal/watch/watch.go
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"archgit/internal/repo"
	"archgit/internal/status"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last event before status is
// recomputed.
const DefaultDebounce = 200 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher recomputes status whenever the working tree or index changes.
type Watcher struct {
	scanner  *status.Scanner
	repo     *repo.Repository
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
}

// New starts watching every non-ignored directory below the scanner's root,
// plus the metadata directory for index and HEAD updates.
func New(scanner *status.Scanner, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		scanner:  scanner,
		repo:     scanner.Repo,
		watcher:  fw,
		debounce: opts.Debounce,
		logger:   opts.Logger,
	}

	if err := w.addTree(w.repo.Root); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(w.repo.MetaPath()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("adding metadata directory to watcher: %w", err)
	}

	return w, nil
}

// addTree registers dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("skipping unreadable directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		if path != w.repo.Root {
			rel, err := w.repo.RelPath(path)
			if err != nil {
				return filepath.SkipDir
			}
			if w.repo.InMetaDir(rel) || w.scanner.Matcher().Match(rel, true) {
				return filepath.SkipDir
			}
		}

		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
}

// relevant reports whether an event can change the status report.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}

	if filepath.Dir(event.Name) == w.repo.MetaPath() {
		return event.Name == w.repo.IndexPath() || event.Name == w.repo.HeadPath()
	}

	rel, err := w.repo.RelPath(event.Name)
	if err != nil {
		return false
	}
	return !w.repo.InMetaDir(rel)
}

// Run emits a report immediately and again after every debounced burst of
// changes until ctx is cancelled. Status errors are passed to fn rather than
// ending the loop.
func (w *Watcher) Run(ctx context.Context, fn func(*status.Report, error)) error {
	fn(w.scanner.Status(ctx))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Error("adding new directory to watcher", zap.Error(err))
					}
				}
			}

			w.logger.Debug("change detected",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			fn(w.scanner.Status(ctx))
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
