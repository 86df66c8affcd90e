package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"archgit/internal/index"
	"archgit/internal/repo"
	"archgit/internal/safe"
	"archgit/internal/status"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWatcher(t *testing.T, ignore ...string) (string, *Watcher) {
	t.Helper()
	root := t.TempDir()
	_, err := repo.Initialize(root, repo.Options{})
	require.NoError(t, err)

	scanner, err := status.New(root, status.Options{Ignore: ignore})
	require.NoError(t, err)

	w, err := New(scanner, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return root, w
}

// waitFor runs the watcher until a report satisfies cond.
func waitFor(t *testing.T, w *Watcher, act func(), cond func(*status.Report) bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reports := make(chan *status.Report, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(r *status.Report, err error) {
			if err != nil {
				return
			}
			select {
			case reports <- r:
			case <-ctx.Done():
			}
		})
	}()

	first := <-reports
	require.NotNil(t, first)
	act()

	for {
		select {
		case r := <-reports:
			if cond(r) {
				cancel()
				<-done
				return
			}
		case <-ctx.Done():
			t.Fatal("no matching report before timeout")
		}
	}
}

func TestWatcher_ReportsNewFile(t *testing.T) {
	root, w := setupWatcher(t)

	waitFor(t, w, func() {
		require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("C"), 0644))
	}, func(r *status.Report) bool {
		return assert.ObjectsAreEqual([]string{"c.txt"}, r.Untracked)
	})
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root, w := setupWatcher(t)

	waitFor(t, w, func() {
		dir := filepath.Join(root, "sub")
		require.NoError(t, os.Mkdir(dir, 0755))
		// Give the watcher a chance to register the directory first.
		time.Sleep(100 * time.Millisecond)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "deep.txt"), []byte("D"), 0644))
	}, func(r *status.Report) bool {
		return assert.ObjectsAreEqual([]string{"sub/deep.txt"}, r.Untracked)
	})
}

func TestWatcher_ReactsToIndexUpdates(t *testing.T) {
	root, w := setupWatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("A"), 0644))

	waitFor(t, w, func() {
		err := index.Append(context.Background(), filepath.Join(root, ".git", "index"), safe.Digest([]byte("A")), "a.txt")
		require.NoError(t, err)
	}, func(r *status.Report) bool {
		return r.Clean()
	})
}

func TestWatcher_Relevant(t *testing.T) {
	root, w := setupWatcher(t, "build/")
	meta := filepath.Join(root, ".git")

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"file write", fsnotify.Event{Name: filepath.Join(root, "a.txt"), Op: fsnotify.Write}, true},
		{"chmod only", fsnotify.Event{Name: filepath.Join(root, "a.txt"), Op: fsnotify.Chmod}, false},
		{"index rename", fsnotify.Event{Name: filepath.Join(meta, "index"), Op: fsnotify.Create}, true},
		{"head write", fsnotify.Event{Name: filepath.Join(meta, "HEAD"), Op: fsnotify.Write}, true},
		{"index temp file", fsnotify.Event{Name: filepath.Join(meta, "index_tmp_123"), Op: fsnotify.Create}, false},
		{"object write", fsnotify.Event{Name: filepath.Join(meta, "objects", "ab", "cd"), Op: fsnotify.Create}, false},
		{"outside root", fsnotify.Event{Name: filepath.Join(filepath.Dir(root), "x"), Op: fsnotify.Create}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(tt.event))
		})
	}
}
