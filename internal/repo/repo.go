// internal/repo/repo.go
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "archgit/internal/errors"

	"gopkg.in/ini.v1"
)

const (
	DefaultMetadataDir  = ".git"
	DefaultBranch       = "master"
	supportedFormat     = 0
	defaultDescription  = "Unnamed repository; edit this file 'description' to name the repository."
	stateDirName        = "archgit"
	indexFileName       = "index"
	headFileName        = "HEAD"
	configFileName      = "config"
	descriptionFileName = "description"
	objectsDirName      = "objects"
)

// Repository is an opened repository rooted at Root.
type Repository struct {
	Root    string
	MetaDir string // name of the metadata directory below Root
}

// Options controls scaffolding.
type Options struct {
	MetadataDir   string
	DefaultBranch string
}

func (o Options) withDefaults() Options {
	if o.MetadataDir == "" {
		o.MetadataDir = DefaultMetadataDir
	}
	if o.DefaultBranch == "" {
		o.DefaultBranch = DefaultBranch
	}
	return o
}

// Initialize creates the repository skeleton under root. Existing files are
// left alone, so running it twice is harmless.
func Initialize(root string, opts Options) (*Repository, error) {
	opts = opts.withDefaults()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}

	r := &Repository{Root: absRoot, MetaDir: opts.MetadataDir}
	meta := r.MetaPath()

	dirs := []string{
		meta,
		r.ObjectsDir(),
		filepath.Join(meta, "refs", "heads"),
		filepath.Join(meta, "refs", "tags"),
		filepath.Join(meta, "hooks"),
		filepath.Join(meta, "info"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.IO(fmt.Sprintf("creating directory %s", dir), err)
		}
	}

	head := fmt.Sprintf("ref: refs/heads/%s\n", opts.DefaultBranch)
	if err := writeIfMissing(r.HeadPath(), []byte(head)); err != nil {
		return nil, err
	}

	if _, err := os.Stat(r.ConfigPath()); os.IsNotExist(err) {
		if err := writeConfig(r.ConfigPath()); err != nil {
			return nil, err
		}
	}

	if err := writeIfMissing(filepath.Join(meta, descriptionFileName), []byte(defaultDescription)); err != nil {
		return nil, err
	}

	return r, nil
}

func writeIfMissing(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return apperrors.IO(fmt.Sprintf("creating %s", path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apperrors.IO(fmt.Sprintf("writing %s", path), err)
	}
	if err := f.Close(); err != nil {
		return apperrors.IO(fmt.Sprintf("closing %s", path), err)
	}
	return nil
}

func writeConfig(path string) error {
	cfg := ini.Empty()
	core := cfg.Section("core")
	core.Key("repositoryformatversion").SetValue("0")
	core.Key("filemode").SetValue("true")
	core.Key("bare").SetValue("false")
	core.Key("logallrefupdates").SetValue("true")

	if err := cfg.SaveTo(path); err != nil {
		return apperrors.IO("writing repository config", err)
	}
	return nil
}

// Open checks that root holds a repository and returns it. It fails with a
// RepositoryNotFound error when the metadata directory is absent.
func Open(root, metaDir string) (*Repository, error) {
	if metaDir == "" {
		metaDir = DefaultMetadataDir
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}

	r := &Repository{Root: absRoot, MetaDir: metaDir}

	info, err := os.Stat(r.MetaPath())
	if err != nil || !info.IsDir() {
		return nil, apperrors.RepositoryNotFound(r.MetaPath())
	}

	if err := r.checkFormat(); err != nil {
		return nil, err
	}

	return r, nil
}

// checkFormat rejects repositories written in a newer layout. A missing
// config file is accepted.
func (r *Repository) checkFormat() error {
	if _, err := os.Stat(r.ConfigPath()); os.IsNotExist(err) {
		return nil
	}

	cfg, err := ini.Load(r.ConfigPath())
	if err != nil {
		return apperrors.IO("reading repository config", err)
	}

	key := cfg.Section("core").Key("repositoryformatversion")
	if key.String() == "" {
		return nil
	}
	version, err := key.Int()
	if err != nil {
		return apperrors.Validation(fmt.Sprintf("invalid core.repositoryformatversion %q", key.String()), r.ConfigPath())
	}
	if version > supportedFormat {
		return apperrors.Validation(fmt.Sprintf("unsupported repository format version %d", version), r.ConfigPath())
	}
	return nil
}

// FindRoot searches startDir and its parents for a directory containing metaDir.
func FindRoot(startDir, metaDir string) (string, error) {
	if metaDir == "" {
		metaDir = DefaultMetadataDir
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, metaDir)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", apperrors.RepositoryNotFound(filepath.Join(startDir, metaDir))
}

func (r *Repository) MetaPath() string {
	return filepath.Join(r.Root, r.MetaDir)
}

func (r *Repository) ObjectsDir() string {
	return filepath.Join(r.MetaPath(), objectsDirName)
}

func (r *Repository) IndexPath() string {
	return filepath.Join(r.MetaPath(), indexFileName)
}

func (r *Repository) HeadPath() string {
	return filepath.Join(r.MetaPath(), headFileName)
}

func (r *Repository) ConfigPath() string {
	return filepath.Join(r.MetaPath(), configFileName)
}

// StateDir holds tool-private state such as the stat cache.
func (r *Repository) StateDir() string {
	return filepath.Join(r.MetaPath(), stateDirName)
}

// RelPath converts p (absolute, or relative to the repository root) into a
// slash-separated root-relative path. Paths escaping the root are rejected.
func (r *Repository) RelPath(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.Root, p)
	}
	rel, err := filepath.Rel(r.Root, filepath.Clean(abs))
	if err != nil {
		return "", apperrors.Validation("path is outside the repository", p)
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) || hasDotDotPrefix(rel) {
		return "", apperrors.Validation("path is outside the repository", p)
	}
	return filepath.ToSlash(rel), nil
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}

// AbsPath converts a root-relative slash path back to an absolute path.
func (r *Repository) AbsPath(rel string) string {
	return filepath.Join(r.Root, filepath.FromSlash(rel))
}

// InMetaDir reports whether the root-relative path rel names the metadata
// directory or something below it.
func (r *Repository) InMetaDir(rel string) bool {
	first, _, _ := strings.Cut(rel, "/")
	return first == filepath.ToSlash(r.MetaDir)
}
