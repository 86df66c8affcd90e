// internal/statcache/statcache.go
package statcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const keyPrefix = "stat"

// RacyWindow is how much older than its caching time a file's mtime must be
// before the cached digest is trusted. Writes landing in the same timestamp
// granularity as the hash would otherwise go unnoticed.
const RacyWindow = 2 * time.Second

// entry is the stored value for one working-tree path.
type entry struct {
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Digest   string    `json:"digest"`
	CachedAt time.Time `json:"cached_at"`
}

// Cache remembers working-file digests keyed by path and validated by size
// and modification time.
type Cache struct {
	db     *badger.DB
	owned  bool
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (or creates) a cache stored under dir.
func Open(dir string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening stat cache: %w", err)
	}

	c := New(db, logger)
	c.owned = true
	return c, nil
}

// New wraps an already open database. Close leaves db open.
func New(db *badger.DB, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func makeKey(path string) []byte {
	return []byte(fmt.Sprintf("%s:%s", keyPrefix, path))
}

// Lookup returns the cached digest for path when info still describes the
// file that was hashed.
func (c *Cache) Lookup(path string, info fs.FileInfo) (string, bool) {
	var e entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Debug("stat cache read failed", zap.String("path", path), zap.Error(err))
		}
		return "", false
	}

	if e.Size != info.Size() || !e.ModTime.Equal(info.ModTime()) {
		return "", false
	}
	if !e.ModTime.Before(e.CachedAt.Add(-RacyWindow)) {
		return "", false
	}
	return e.Digest, true
}

// Store records digest for path as described by info.
func (c *Cache) Store(path string, info fs.FileInfo, digest string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	data, err := json.Marshal(entry{
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Digest:   digest,
		CachedAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(path), data)
	})
}

// Len returns the number of cached paths.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close releases the database if the cache opened it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

// badgerLogger routes badger's own logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
