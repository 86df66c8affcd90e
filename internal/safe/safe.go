// internal/safe/safe.go
package safe

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	apperrors "archgit/internal/errors"
	"archgit/shared/utils"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

var (
	ErrContentNotFound = errors.New("content not found")
	ErrInvalidHash     = errors.New("invalid content hash")
	ErrCorruptObject   = errors.New("corrupt object")
)

const blobType = "blob"

// Safe is a write-once, content-addressed blob store laid out as
// <root>/<digest[:2]>/<digest[2:]>.
type Safe struct {
	root   string                     // objects directory
	cache  *lru.Cache[string, []byte] // digest -> raw content
	cm     *compressionManager
	logger *zap.Logger
}

// Options configures Safe behavior
type Options struct {
	Root             string // objects directory
	CacheSize        int    // number of contents to keep in memory
	CompressionLevel int    // zlib level, zero means default
	Logger           *zap.Logger
}

// New creates a new Safe instance
func New(opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}

	// Use reasonable defaults
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = zlib.DefaultCompression
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	cm, err := newCompressionManager(opts.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Safe{
		root:   opts.Root,
		cache:  cache,
		cm:     cm,
		logger: opts.Logger,
	}, nil
}

// Digest returns the object id content would be stored under. It does no I/O.
func Digest(content []byte) string {
	return utils.HashBlob(content)
}

// Store saves content and returns its digest. Content already present is
// neither recompressed nor rewritten.
func (s *Safe) Store(content []byte) (string, error) {
	hash := Digest(content)

	exists, err := s.Exists(hash)
	if err != nil {
		return "", err
	}
	if exists {
		s.logger.Debug("object already stored", zap.String("hash", hash))
		return hash, nil
	}

	compressed, err := s.cm.compress(utils.FrameBlob(content))
	if err != nil {
		return "", apperrors.IO("compressing object "+hash, err)
	}

	if err := s.writeObject(hash, compressed); err != nil {
		return "", err
	}

	s.cache.Add(hash, bytes.Clone(content))
	s.logger.Debug("object stored",
		zap.String("hash", hash),
		zap.Int("size", len(content)),
		zap.Int("compressed", len(compressed)))

	return hash, nil
}

// writeObject writes data to a temp file in the shard directory and renames
// it into place, so the final name never holds a partial object.
func (s *Safe) writeObject(hash string, data []byte) error {
	contentPath := s.contentPath(hash)
	dir := filepath.Dir(contentPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.IO("creating object directory", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp_obj_")
	if err != nil {
		return apperrors.IO("creating temp object", err)
	}
	tmpName := tmp.Name()

	cleanup := func(msg string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.IO(msg, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup("writing object "+hash, err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup("syncing object "+hash, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.IO("closing object "+hash, err)
	}

	// Objects are immutable.
	if err := os.Chmod(tmpName, 0444); err != nil {
		os.Remove(tmpName)
		return apperrors.IO("setting object mode", err)
	}

	if err := os.Rename(tmpName, contentPath); err != nil {
		os.Remove(tmpName)
		return apperrors.IO("moving object into place", err)
	}
	return nil
}

// Get retrieves the raw content stored under hash.
func (s *Safe) Get(hash string) ([]byte, error) {
	if !utils.IsDigest(hash) {
		return nil, ErrInvalidHash
	}

	// Check cache first
	if content, ok := s.cache.Get(hash); ok {
		return bytes.Clone(content), nil
	}

	compressed, err := os.ReadFile(s.contentPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrContentNotFound
		}
		return nil, apperrors.IO("reading object "+hash, err)
	}

	framed, err := s.cm.decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptObject, hash, err)
	}

	content, err := unframe(framed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptObject, hash, err)
	}

	s.cache.Add(hash, bytes.Clone(content))
	return content, nil
}

// Exists checks if an object is stored under hash.
func (s *Safe) Exists(hash string) (bool, error) {
	if !utils.IsDigest(hash) {
		return false, ErrInvalidHash
	}

	// The disk is authoritative; a cached blob may outlive its file.
	_, err := os.Stat(s.contentPath(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperrors.IO("checking object "+hash, err)
}

// Path returns the file an object with this digest lives in.
func (s *Safe) Path(hash string) string {
	return s.contentPath(hash)
}

func (s *Safe) contentPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

// unframe strips and validates the "blob <len>\x00" header.
func unframe(framed []byte) ([]byte, error) {
	nul := bytes.IndexByte(framed, 0)
	if nul < 0 {
		return nil, fmt.Errorf("missing header terminator")
	}

	typ, size, ok := bytes.Cut(framed[:nul], []byte(" "))
	if !ok || string(typ) != blobType {
		return nil, fmt.Errorf("invalid header %q", framed[:nul])
	}

	n, err := strconv.Atoi(string(size))
	if err != nil {
		return nil, fmt.Errorf("invalid size %q", size)
	}

	content := framed[nul+1:]
	if n != len(content) {
		return nil, fmt.Errorf("size mismatch: header %d, body %d", n, len(content))
	}
	return content, nil
}
