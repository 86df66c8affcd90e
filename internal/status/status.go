// internal/status/status.go
package status

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"archgit/internal/index"
	"archgit/internal/logging"
	"archgit/internal/repo"
	"archgit/shared/types"
	"archgit/shared/utils"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/exp/mmap"
)

// DigestCache lets Status skip rehashing files whose metadata is unchanged.
type DigestCache interface {
	Lookup(path string, info fs.FileInfo) (string, bool)
	Store(path string, info fs.FileInfo, digest string) error
}

// Options configures a Scanner.
type Options struct {
	MetadataDir string
	Ignore      []string
	IgnoreFile  string // root-relative; missing is fine
	Workers     int
	Cache       DigestCache
	Logger      *zap.Logger
}

// Scanner reconciles the working tree against the index.
type Scanner struct {
	Repo    *repo.Repository
	ignore  *Matcher
	workers int
	cache   DigestCache
	logger  *zap.Logger
}

// New opens the repository at root and prepares the ignore rules.
func New(root string, opts Options) (*Scanner, error) {
	r, err := repo.Open(root, opts.MetadataDir)
	if err != nil {
		return nil, err
	}

	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := NewMatcher(opts.Ignore...)
	if opts.IgnoreFile != "" {
		if err := m.LoadFile(r.AbsPath(opts.IgnoreFile)); err != nil {
			return nil, fmt.Errorf("loading ignore file: %w", err)
		}
	}

	return &Scanner{
		Repo:    r,
		ignore:  m,
		workers: opts.Workers,
		cache:   opts.Cache,
		logger:  opts.Logger,
	}, nil
}

// Matcher returns the ignore rules in effect.
func (s *Scanner) Matcher() *Matcher {
	return s.ignore
}

type fileDigest struct {
	path   string
	digest string
	ok     bool
}

// Status classifies every working-tree file and every index entry.
func (s *Scanner) Status(ctx context.Context) (*Report, error) {
	ctx = logging.WithOperation(ctx)
	log := logging.For(ctx, s.logger)

	branch, err := s.Repo.ReadHead()
	if err != nil {
		return nil, err
	}

	idx, err := index.Load(s.Repo.IndexPath())
	if err != nil {
		return nil, err
	}

	files, err := s.walk(ctx, log)
	if err != nil {
		return nil, err
	}

	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f] = true
	}

	// Tracked paths the walk skipped (ignored, or not reached) are still
	// compared when they resolve to a regular file; the rest are deleted.
	var deleted []string
	for _, e := range idx.Entries() {
		if onDisk[e.Path] {
			continue
		}
		info, err := os.Stat(s.Repo.AbsPath(e.Path))
		switch {
		case os.IsNotExist(err):
			deleted = append(deleted, e.Path)
		case err != nil:
			log.Warn("cannot stat tracked file", zap.String("path", e.Path), zap.Error(err))
		case info.Mode().IsRegular():
			files = append(files, e.Path)
			onDisk[e.Path] = true
		default:
			deleted = append(deleted, e.Path)
		}
	}

	digests, err := s.hashAll(ctx, log, files)
	if err != nil {
		return nil, err
	}

	report := &Report{Branch: branch}
	for _, fd := range digests {
		if !fd.ok {
			continue
		}
		recorded, tracked := idx.Get(fd.path)
		switch {
		case !tracked:
			report.add(shared.Change{Path: fd.path, Type: shared.ChangeUntracked, NewHash: fd.digest})
		case recorded != fd.digest:
			report.add(shared.Change{Path: fd.path, Type: shared.ChangeModified, OldHash: recorded, NewHash: fd.digest})
		}
	}
	for _, p := range deleted {
		old, _ := idx.Get(p)
		report.add(shared.Change{Path: p, Type: shared.ChangeDeleted, OldHash: old})
	}
	report.sort()

	log.Debug("status computed",
		zap.Int("files", len(files)),
		zap.Int("indexed", idx.Len()),
		zap.Int("modified", len(report.Modified)),
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("untracked", len(report.Untracked)))

	return report, nil
}

// walk lists regular files below the root as slash-separated relative
// paths, skipping the metadata directory and ignored paths. Symlinks count
// when they resolve to a regular file; linked directories are not entered.
func (s *Scanner) walk(ctx context.Context, log *zap.Logger) ([]string, error) {
	var files []string

	err := filepath.WalkDir(s.Repo.Root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == s.Repo.Root {
				return err
			}
			log.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if path == s.Repo.Root {
			return nil
		}

		rel, err := filepath.Rel(s.Repo.Root, path)
		if err != nil {
			log.Warn("failed to get relative path", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.Repo.InMetaDir(rel) || s.ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !isFile(path, d) || s.ignore.Match(rel, false) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking working tree: %w", err)
	}

	return files, nil
}

// isFile reports whether the entry is a regular file, following a symlink.
func isFile(path string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.Type().IsRegular()
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// hashAll computes the object digest of each file on a bounded pool.
// Unreadable files come back with ok=false.
func (s *Scanner) hashAll(ctx context.Context, log *zap.Logger, files []string) ([]fileDigest, error) {
	p := pool.NewWithResults[fileDigest]().
		WithContext(ctx).
		WithMaxGoroutines(s.workers)

	for _, f := range files {
		f := f
		p.Go(func(ctx context.Context) (fileDigest, error) {
			digest, err := s.digestFile(f)
			if err != nil {
				log.Warn("failed to hash file", zap.String("path", f), zap.Error(err))
				return fileDigest{path: f}, nil
			}
			return fileDigest{path: f, digest: digest, ok: true}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].path < results[j].path })
	return results, nil
}

// hashFile computes the object digest of the file at path from a read-only
// mapping, so large files are never copied onto the heap.
func hashFile(path string) (string, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	size := int64(r.Len())
	return utils.HashBlobReader(io.NewSectionReader(r, 0, size), size)
}

// digestFile hashes a working file the same way the object store names it.
func (s *Scanner) digestFile(rel string) (string, error) {
	abs := s.Repo.AbsPath(rel)

	var info fs.FileInfo
	if s.cache != nil {
		fi, err := os.Stat(abs)
		if err != nil {
			return "", err
		}
		info = fi
		if digest, ok := s.cache.Lookup(rel, info); ok {
			return digest, nil
		}
	}

	digest, err := hashFile(abs)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Store(rel, info, digest); err != nil {
			s.logger.Debug("stat cache write failed", zap.String("path", rel), zap.Error(err))
		}
	}
	return digest, nil
}
