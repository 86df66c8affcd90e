// Package index implements the staging index: an ordered mapping from
// repository-relative path to the digest last staged for it, stored as one
// "<digest> <path>" line per entry.
package index

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "archgit/internal/errors"

	"github.com/gofrs/flock"
)

// Entry is one staged path.
type Entry struct {
	Digest string `json:"digest"`
	Path   string `json:"path"`
}

// Index is the in-memory form of the index file. It holds at most one entry
// per path; insertion order is preserved.
type Index struct {
	path    string
	entries []Entry
	pos     map[string]int // path -> position in entries
}

// New returns an empty index backed by the file at path.
func New(path string) *Index {
	return &Index{
		path: path,
		pos:  make(map[string]int),
	}
}

// Load reads the index file at path. A missing file yields an empty index.
// Lines without a space are skipped; for repeated paths the last line wins
// while the first occurrence keeps its position.
func Load(path string) (*Index, error) {
	idx := New(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, apperrors.IO("reading index", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		digest, p, ok := strings.Cut(line, " ")
		if !ok || digest == "" || p == "" {
			continue
		}
		idx.Set(p, digest)
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.IO("scanning index", err)
	}

	return idx, nil
}

// LoadAll returns the entries of the index file at path in order.
func LoadAll(path string) ([]Entry, error) {
	idx, err := Load(path)
	if err != nil {
		return nil, err
	}
	return idx.Entries(), nil
}

// Append records digest for p in the index file at path, replacing any
// earlier entry for p. The file is locked and rewritten in full.
func Append(ctx context.Context, path, digest, p string) error {
	unlock, err := Lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	idx, err := Load(path)
	if err != nil {
		return err
	}
	if err := idx.Put(p, digest); err != nil {
		return err
	}
	return idx.Save()
}

// Path returns the file backing the index.
func (idx *Index) Path() string {
	return idx.path
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Get returns the digest recorded for p.
func (idx *Index) Get(p string) (string, bool) {
	i, ok := idx.pos[p]
	if !ok {
		return "", false
	}
	return idx.entries[i].Digest, true
}

// Entries returns a copy of the entries in order.
func (idx *Index) Entries() []Entry {
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Set inserts or updates the entry for p without validation.
func (idx *Index) Set(p, digest string) {
	if i, ok := idx.pos[p]; ok {
		idx.entries[i].Digest = digest
		return
	}
	idx.pos[p] = len(idx.entries)
	idx.entries = append(idx.entries, Entry{Digest: digest, Path: p})
}

// Put validates and then inserts or updates the entry for p.
func (idx *Index) Put(p, digest string) error {
	if err := validate(p, digest); err != nil {
		return err
	}
	idx.Set(p, digest)
	return nil
}

func validate(p, digest string) error {
	if p == "" {
		return apperrors.Validation("empty path", p)
	}
	if strings.ContainsAny(p, "\n\r") {
		return apperrors.Validation("path contains a line break", p)
	}
	if digest == "" || strings.ContainsAny(digest, " \n\r") {
		return apperrors.Validation(fmt.Sprintf("malformed digest %q", digest), p)
	}
	return nil
}

// Save rewrites the index file with the current entries. The new content is
// written to a temp file and renamed into place.
func (idx *Index) Save() error {
	var buf bytes.Buffer
	for _, e := range idx.entries {
		buf.WriteString(e.Digest)
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(idx.path)
	tmp, err := os.CreateTemp(dir, "index_tmp_")
	if err != nil {
		return apperrors.IO("creating temp index", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.IO("writing index", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.IO("syncing index", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.IO("closing index", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return apperrors.IO("setting index mode", err)
	}
	if err := os.Rename(tmpName, idx.path); err != nil {
		os.Remove(tmpName)
		return apperrors.IO("replacing index", err)
	}
	return nil
}

const lockRetryDelay = 10 * time.Millisecond

// Lock takes an exclusive advisory lock guarding the index file at path and
// returns the function releasing it. It waits until ctx is done.
func Lock(ctx context.Context, path string) (func(), error) {
	fl := flock.New(path + ".flock")

	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, apperrors.IO("locking index", err)
	}
	if !locked {
		return nil, apperrors.IO("locking index", fmt.Errorf("lock %s not acquired", fl.Path()))
	}

	return func() {
		fl.Unlock()
	}, nil
}
