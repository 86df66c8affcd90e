package status

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apperrors "archgit/internal/errors"
	"archgit/internal/repo"
	"archgit/internal/safe"
	"archgit/internal/stage"
	"archgit/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	_, err := repo.Initialize(root, repo.Options{})
	require.NoError(t, err)
	return root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func stageFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	st, err := stage.New(root, stage.Options{})
	require.NoError(t, err)
	_, err = st.Stage(context.Background(), paths)
	require.NoError(t, err)
}

func runStatus(t *testing.T, root string, opts Options) *Report {
	t.Helper()
	s, err := New(root, opts)
	require.NoError(t, err)
	report, err := s.Status(context.Background())
	require.NoError(t, err)
	return report
}

func TestStatus_CleanAfterStaging(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "a.txt", "X")
	writeFile(t, root, "dir/b.txt", "B")
	stageFiles(t, root, "a.txt", "dir/b.txt")

	report := runStatus(t, root, Options{})
	assert.Equal(t, "master", report.Branch)
	assert.True(t, report.Clean())
	assert.Empty(t, report.Changes)
}

func TestStatus_Modified(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "a.txt", "X")
	stageFiles(t, root, "a.txt")
	writeFile(t, root, "a.txt", "Y")

	report := runStatus(t, root, Options{})
	assert.Equal(t, []string{"a.txt"}, report.Modified)
	assert.Empty(t, report.Deleted)
	assert.Empty(t, report.Untracked)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, shared.Change{
		Path:    "a.txt",
		Type:    shared.ChangeModified,
		OldHash: safe.Digest([]byte("X")),
		NewHash: safe.Digest([]byte("Y")),
	}, report.Changes[0])
}

func TestStatus_Deleted(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "b.txt", "B")
	stageFiles(t, root, "b.txt")
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))

	report := runStatus(t, root, Options{})
	assert.Equal(t, []string{"b.txt"}, report.Deleted)
	assert.Empty(t, report.Modified)
	assert.Empty(t, report.Untracked)
}

func TestStatus_Untracked(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "c.txt", "C")

	report := runStatus(t, root, Options{})
	assert.Equal(t, []string{"c.txt"}, report.Untracked)
	assert.Empty(t, report.Modified)
	assert.Empty(t, report.Deleted)
}

func TestStatus_Totality(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "same.txt", "same")
	writeFile(t, root, "changed.txt", "old")
	writeFile(t, root, "gone.txt", "gone")
	writeFile(t, root, "nested/deep/kept.txt", "kept")
	stageFiles(t, root, "same.txt", "changed.txt", "gone.txt", "nested/deep/kept.txt")

	writeFile(t, root, "changed.txt", "new")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))
	writeFile(t, root, "new.txt", "new")
	writeFile(t, root, "nested/fresh.txt", "fresh")

	report := runStatus(t, root, Options{Workers: 2})
	assert.Equal(t, []string{"changed.txt"}, report.Modified)
	assert.Equal(t, []string{"gone.txt"}, report.Deleted)
	assert.Equal(t, []string{"nested/fresh.txt", "new.txt"}, report.Untracked)

	seen := map[string]int{}
	for _, c := range report.Changes {
		seen[c.Path]++
	}
	for path, n := range seen {
		assert.Equal(t, 1, n, "path %s reported more than once", path)
	}
	assert.NotContains(t, seen, "same.txt")
	assert.NotContains(t, seen, "nested/deep/kept.txt")
}

func TestStatus_Symlinks(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "target.txt", "one")
	if err := os.Symlink("target.txt", filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	report := runStatus(t, root, Options{})
	assert.Equal(t, []string{"link.txt", "target.txt"}, report.Untracked)

	stageFiles(t, root, "link.txt", "target.txt")
	assert.True(t, runStatus(t, root, Options{}).Clean())

	writeFile(t, root, "target.txt", "two")
	report = runStatus(t, root, Options{})
	assert.Equal(t, []string{"link.txt", "target.txt"}, report.Modified)
	assert.Empty(t, report.Untracked)

	// A dangling link no longer names a file.
	require.NoError(t, os.Remove(filepath.Join(root, "target.txt")))
	report = runStatus(t, root, Options{})
	assert.Equal(t, []string{"link.txt", "target.txt"}, report.Deleted)
	assert.Empty(t, report.Modified)
}

func TestStatus_LinkedDirectoryNotEntered(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "real/a.txt", "A")
	if err := os.Symlink("real", filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	report := runStatus(t, root, Options{})
	assert.Equal(t, []string{"real/a.txt"}, report.Untracked)
}

func TestStatus_TrackedPathReplacedByDirectory(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "a.txt", "A")
	stageFiles(t, root, "a.txt")

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	writeFile(t, root, "a.txt/inner", "inner")

	report := runStatus(t, root, Options{})
	assert.Equal(t, []string{"a.txt"}, report.Deleted)
	assert.Equal(t, []string{"a.txt/inner"}, report.Untracked)
	assert.Empty(t, report.Modified)
}

func TestStatus_SkipsMetadataDir(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "a.txt", "A")
	stageFiles(t, root, "a.txt")

	report := runStatus(t, root, Options{})
	for _, c := range report.Changes {
		assert.NotContains(t, c.Path, ".git")
	}
	assert.True(t, report.Clean())
}

func TestStatus_IgnoreRules(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "build/out.bin", "bin")
	writeFile(t, root, "logs/today.log", "log")
	writeFile(t, root, "notes.tmp", "tmp")
	writeFile(t, root, ".archgitignore", "# scratch\n*.tmp\n")

	report := runStatus(t, root, Options{
		Ignore:     []string{"build/", "*.log"},
		IgnoreFile: ".archgitignore",
	})
	assert.Equal(t, []string{".archgitignore", "main.go"}, report.Untracked)
}

func TestStatus_TrackedButIgnoredStillCompared(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "app.log", "one")
	stageFiles(t, root, "app.log")
	writeFile(t, root, "app.log", "two")

	report := runStatus(t, root, Options{Ignore: []string{"*.log"}})
	assert.Equal(t, []string{"app.log"}, report.Modified)
	assert.Empty(t, report.Deleted)
}

func TestStatus_HeadCorrupt(t *testing.T) {
	root := setupRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("0123abcd\n"), 0644))

	s, err := New(root, Options{})
	require.NoError(t, err)

	_, err = s.Status(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrHeadCorrupt)
}

func TestStatus_HeadMissing(t *testing.T) {
	root := setupRepo(t)
	require.NoError(t, os.Remove(filepath.Join(root, ".git", "HEAD")))

	s, err := New(root, Options{})
	require.NoError(t, err)

	_, err = s.Status(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrHeadCorrupt)
}

func TestNew_RepositoryNotFound(t *testing.T) {
	_, err := New(t.TempDir(), Options{})
	assert.ErrorIs(t, err, apperrors.ErrRepositoryNotFound)
}

func TestStatus_CancelledContext(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "a.txt", "A")

	s, err := New(root, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Status(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type memCache struct {
	mu      sync.Mutex
	digests map[string]string
	hits    int
}

func (m *memCache) Lookup(path string, _ fs.FileInfo) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.digests[path]
	if ok {
		m.hits++
	}
	return d, ok
}

func (m *memCache) Store(path string, _ fs.FileInfo, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digests[path] = digest
	return nil
}

func TestStatus_UsesDigestCache(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, "a.txt", "A")
	stageFiles(t, root, "a.txt")

	cache := &memCache{digests: map[string]string{}}
	report := runStatus(t, root, Options{Cache: cache})
	assert.True(t, report.Clean())
	assert.Equal(t, safe.Digest([]byte("A")), cache.digests["a.txt"])
	assert.Equal(t, 0, cache.hits)

	// A cached digest is trusted as-is.
	cache.digests["a.txt"] = safe.Digest([]byte("stale"))
	report = runStatus(t, root, Options{Cache: cache})
	assert.Equal(t, []string{"a.txt"}, report.Modified)
	assert.Equal(t, 1, cache.hits)
}

func TestReport_Format(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{
			name:   "clean",
			report: Report{Branch: "master"},
			want:   "On branch master\nnothing to commit, working tree clean\n",
		},
		{
			name: "all buckets",
			report: Report{
				Branch:    "main",
				Modified:  []string{"a.txt"},
				Deleted:   []string{"b.txt"},
				Untracked: []string{"c.txt"},
			},
			want: "On branch main\n" +
				"\nChanges to be committed:\n" +
				"\tmodified:   a.txt\n" +
				"\tdeleted:    b.txt\n" +
				"\nUntracked files:\n" +
				"\tc.txt\n",
		},
		{
			name:   "untracked only",
			report: Report{Branch: "master", Untracked: []string{"c.txt", "d.txt"}},
			want:   "On branch master\n\nUntracked files:\n\tc.txt\n\td.txt\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.report.Format(&buf, false))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestReport_FormatColor(t *testing.T) {
	var buf bytes.Buffer
	r := Report{Branch: "master", Modified: []string{"a.txt"}}
	require.NoError(t, r.Format(&buf, true))
	assert.Contains(t, buf.String(), "\x1b[32m")
	assert.Contains(t, buf.String(), "modified:   a.txt")
}
