// internal/stage/stage.go
package stage

import (
	"context"
	"fmt"
	"os"

	"archgit/internal/config"
	apperrors "archgit/internal/errors"
	"archgit/internal/index"
	"archgit/internal/logging"
	"archgit/internal/repo"
	"archgit/internal/safe"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configures a Stager.
type Options struct {
	MetadataDir string
	// Policy is one of config.PolicyAbort, config.PolicyContinue or
	// config.PolicyAtomic. Empty means abort.
	Policy    string
	CacheSize int
	Logger    *zap.Logger
	// OnStaged is called once a path is recorded in the index on disk. Under
	// the atomic policy that happens only after the whole batch is saved.
	OnStaged func(index.Entry)
}

// Result describes what a batch did.
type Result struct {
	Staged []index.Entry
	Failed []string
}

// Stager writes file contents to the object store and records them in the index.
type Stager struct {
	Repo   *repo.Repository
	Safe   *safe.Safe
	policy string
	logger *zap.Logger
	notify func(index.Entry)
}

// New opens the repository at root. It fails with RepositoryNotFound, before
// anything is written, when root holds no repository.
func New(root string, opts Options) (*Stager, error) {
	r, err := repo.Open(root, opts.MetadataDir)
	if err != nil {
		return nil, err
	}

	if opts.Policy == "" {
		opts.Policy = config.PolicyAbort
	}
	switch opts.Policy {
	case config.PolicyAbort, config.PolicyContinue, config.PolicyAtomic:
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unknown stage policy %q", opts.Policy), "")
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s, err := safe.New(safe.Options{
		Root:      r.ObjectsDir(),
		CacheSize: opts.CacheSize,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing object store: %w", err)
	}

	return &Stager{
		Repo:   r,
		Safe:   s,
		policy: opts.Policy,
		logger: opts.Logger,
		notify: opts.OnStaged,
	}, nil
}

// Stage stages paths in order. Paths may be absolute or relative to the
// repository root.
//
// With the abort policy the first failure ends the batch; paths staged before
// it stay staged. With continue every path is attempted and failures are
// combined into the returned error. With atomic a failure leaves the index
// untouched. Objects already written are never removed.
func (s *Stager) Stage(ctx context.Context, paths []string) (*Result, error) {
	ctx = logging.WithOperation(ctx)
	log := logging.For(ctx, s.logger)

	result := &Result{}
	if len(paths) == 0 {
		return result, nil
	}

	unlock, err := index.Lock(ctx, s.Repo.IndexPath())
	if err != nil {
		return result, err
	}
	defer unlock()

	idx, err := index.Load(s.Repo.IndexPath())
	if err != nil {
		return result, err
	}

	var errs error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		entry, err := s.stageFile(idx, p)
		if err != nil {
			log.Warn("staging failed", zap.String("path", p), zap.Error(err))
			result.Failed = append(result.Failed, p)

			if s.policy == config.PolicyAtomic {
				result.Staged = nil
				return result, err
			}
			errs = multierr.Append(errs, err)
			if s.policy == config.PolicyAbort {
				break
			}
			continue
		}

		// Persist per file so earlier paths survive a later failure.
		if s.policy != config.PolicyAtomic {
			if err := idx.Save(); err != nil {
				return result, multierr.Append(errs, err)
			}
		}

		result.Staged = append(result.Staged, entry)
		log.Debug("staged", zap.String("path", entry.Path), zap.String("hash", entry.Digest))
		if s.policy != config.PolicyAtomic {
			s.confirm(entry)
		}
	}

	// An atomic batch is only confirmed once the whole index is on disk.
	if s.policy == config.PolicyAtomic && errs == nil && len(result.Staged) > 0 {
		if err := idx.Save(); err != nil {
			result.Staged = nil
			return result, err
		}
		for _, e := range result.Staged {
			s.confirm(e)
		}
	}
	if s.policy == config.PolicyAtomic && errs != nil {
		result.Staged = nil
	}

	log.Info("stage finished",
		zap.Int("staged", len(result.Staged)),
		zap.Int("failed", len(result.Failed)))

	return result, errs
}

func (s *Stager) confirm(e index.Entry) {
	if s.notify != nil {
		s.notify(e)
	}
}

// stageFile stores one file and records it in idx.
func (s *Stager) stageFile(idx *index.Index, p string) (index.Entry, error) {
	rel, err := s.Repo.RelPath(p)
	if err != nil {
		return index.Entry{}, apperrors.FileRead(p, err)
	}
	if s.Repo.InMetaDir(rel) {
		return index.Entry{}, apperrors.FileRead(p, fmt.Errorf("path is inside the repository metadata directory"))
	}

	content, err := os.ReadFile(s.Repo.AbsPath(rel))
	if err != nil {
		return index.Entry{}, apperrors.FileRead(p, err)
	}

	digest, err := s.Safe.Store(content)
	if err != nil {
		return index.Entry{}, fmt.Errorf("storing %s: %w", rel, err)
	}

	if err := idx.Put(rel, digest); err != nil {
		return index.Entry{}, err
	}

	return index.Entry{Digest: digest, Path: rel}, nil
}
